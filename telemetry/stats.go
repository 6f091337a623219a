package telemetry

// ResetThreshold 总尝试次数超过该值时两个计数器一起清零，
// 让丢包率反映近期情况而不是整个进程生命周期
const ResetThreshold = 10000

// Stats 是图像流的尝试计数。每个周期恰好一次 Attempt，
// 失败的周期再追加 Fail、Timeout 或 Malform 之一。
// 只由图像流 goroutine 修改，不加锁，跨 goroutine 时传递值副本。
type Stats struct {
	Total     uint64 `json:"total"`
	Failed    uint64 `json:"failed"`
	Timeouts  uint64 `json:"timeouts"`
	Malformed uint64 `json:"malformed"`
}

// Attempt 记一次尝试
func (s *Stats) Attempt() {
	s.Total++
}

// Fail 记一次连接错误，计入丢包
func (s *Stats) Fail() {
	s.Failed++
}

// Timeout 记一次超时，不计入丢包
func (s *Stats) Timeout() {
	s.Timeouts++
}

// Malform 记一帧无法解码的负载
func (s *Stats) Malform() {
	s.Malformed++
}

// LossPercent = Failed/Total*100，Total 为0时返回0
func (s *Stats) LossPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total) * 100
}

// MaybeReset 在 Total 超过 ResetThreshold 时清零 Total 和 Failed，返回是否清零
func (s *Stats) MaybeReset() bool {
	if s.Total <= ResetThreshold {
		return false
	}
	s.Total = 0
	s.Failed = 0
	return true
}
