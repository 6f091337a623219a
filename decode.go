package robot

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
)

// decodeRGB 解码 JPEG/PNG 并转成紧凑的 RGB 字节，每像素3字节，逐行排列
func decodeRGB(r io.Reader) (pixels []byte, width, height int, err error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty image", ErrMalformedFrame)
	}

	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}

	pixels = make([]byte, 0, width*height*3)
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			pixels = append(pixels, row[x], row[x+1], row[x+2])
		}
	}
	return pixels, width, height, nil
}
