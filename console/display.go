package console

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/transairobot/legctl/telemetry"
)

// LogDisplay 是无窗口时的渲染协作方：按固定间隔把丢包率和帧耗时写入日志
type LogDisplay struct {
	logger   *zap.Logger
	interval time.Duration
	last     time.Time
	frames   int
}

func NewLogDisplay(logger *zap.Logger, interval time.Duration) *LogDisplay {
	if logger == nil {
		logger = zap.L()
	}
	return &LogDisplay{
		logger:   logger,
		interval: interval,
	}
}

// Render 只在控制循环 goroutine 上调用，不需要加锁
func (d *LogDisplay) Render(v telemetry.View) {
	d.frames++
	now := time.Now()
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return
	}
	d.last = now

	d.logger.Info(fmt.Sprintf("Packet Loss %.1f %% | Image time %.1f ms", v.PacketLossPercent, v.LastFrameLatencyMs),
		zap.Int("width", v.Frame.Width),
		zap.Int("height", v.Frame.Height),
		zap.Uint64("seq", v.Seq),
		zap.Int("updates", d.frames))
	d.frames = 0
}
