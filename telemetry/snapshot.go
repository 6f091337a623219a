// Package telemetry 保存图像流的最新一帧和健康指标，供渲染循环等读者读取。
package telemetry

import (
	"sync"
	"time"
)

// Frame 是解码后的 RGB 像素，每像素3字节
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// View 是某一次发布的一致副本
type View struct {
	Frame              Frame
	PacketLossPercent  float64
	LastFrameLatencyMs float64
	// Seq 每次 Publish 或 UpdateLoss 递增
	Seq       uint64
	UpdatedAt time.Time
	// FrameSeq 最近一次 Publish 的 Seq，0 表示还没有帧
	FrameSeq uint64
}

// HasFrame 是否已经收到过帧
func (v View) HasFrame() bool {
	return v.FrameSeq != 0
}

// Health 只包含指标，不复制像素
type Health struct {
	PacketLossPercent  float64   `json:"packet_loss_percent"`
	LastFrameLatencyMs float64   `json:"last_frame_latency_ms"`
	Width              int       `json:"width"`
	Height             int       `json:"height"`
	Seq                uint64    `json:"seq"`
	FrameSeq           uint64    `json:"frame_seq"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Snapshot 是图像流与渲染循环之间唯一的共享状态。
// 一个写者（图像流客户端），任意多个读者；帧、尺寸和两个指标在同一把锁下整体替换。
type Snapshot struct {
	mu       sync.RWMutex
	frame    Frame
	loss     float64
	latency  float64
	seq      uint64
	frameSeq uint64
	updated  time.Time
}

func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Publish 整体替换帧和指标，取得 pixels 的所有权，调用方之后不得再修改它
func (s *Snapshot) Publish(pixels []byte, width, height int, lossPercent, latencyMs float64) {
	now := time.Now()

	s.mu.Lock()
	s.frame = Frame{Pixels: pixels, Width: width, Height: height}
	s.loss = clampPercent(lossPercent)
	s.latency = max(latencyMs, 0)
	s.seq++
	s.frameSeq = s.seq
	s.updated = now
	s.mu.Unlock()
}

// UpdateLoss 只刷新丢包率，帧和延迟保持不变。用于失败的周期。
func (s *Snapshot) UpdateLoss(lossPercent float64) {
	now := time.Now()

	s.mu.Lock()
	s.loss = clampPercent(lossPercent)
	s.seq++
	s.updated = now
	s.mu.Unlock()
}

// View 返回深拷贝，读者可以在锁外随意使用
func (s *Snapshot) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// ViewSince 仅当有比 seq 更新的发布时返回副本，避免渲染循环重复复制同一帧
func (s *Snapshot) ViewSince(seq uint64) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == seq {
		return View{}, false
	}
	return s.viewLocked(), true
}

// Health 返回不含像素的指标
func (s *Snapshot) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Health{
		PacketLossPercent:  s.loss,
		LastFrameLatencyMs: s.latency,
		Width:              s.frame.Width,
		Height:             s.frame.Height,
		Seq:                s.seq,
		FrameSeq:           s.frameSeq,
		UpdatedAt:          s.updated,
	}
}

func (s *Snapshot) viewLocked() View {
	v := View{
		Frame: Frame{
			Width:  s.frame.Width,
			Height: s.frame.Height,
		},
		PacketLossPercent:  s.loss,
		LastFrameLatencyMs: s.latency,
		Seq:                s.seq,
		FrameSeq:           s.frameSeq,
		UpdatedAt:          s.updated,
	}
	if s.frame.Pixels != nil {
		v.Frame.Pixels = append([]byte(nil), s.frame.Pixels...)
	}
	return v
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
