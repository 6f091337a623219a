package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

type Format int

const (
	FormatPNG Format = iota
	FormatJPEG
)

// TestPattern 生成 width x height 的彩条图像，seq 使彩条水平平移，便于区分相邻帧
func TestPattern(width, height, seq int, format Format) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bars := []color.RGBA{
		{255, 255, 255, 255},
		{255, 255, 0, 255},
		{0, 255, 255, 255},
		{0, 255, 0, 255},
		{255, 0, 255, 255},
		{255, 0, 0, 255},
		{0, 0, 255, 255},
		{0, 0, 0, 255},
	}
	barWidth := max(width/len(bars), 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, bars[((x+seq)/barWidth)%len(bars)])
		}
	}

	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %d", format)
	}
	return buf.Bytes(), nil
}
