package robot

import (
	"sync"

	"go.uber.org/zap"
)

// StopFlag 是进程内唯一的停止信号。任何组件都可以置位，
// 各循环在每个周期的固定位置轮询，然后自行退出。
type StopFlag struct {
	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	logger  *zap.Logger
}

func NewStopFlag() *StopFlag {
	return &StopFlag{
		done:   make(chan struct{}),
		logger: zap.L(),
	}
}

// Stop 置位停止标志，重复调用无副作用
func (f *StopFlag) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	close(f.done)
	f.logger.Info("已请求停止")
}

// Stopped 返回是否已请求停止
func (f *StopFlag) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Done 在 Stop 后关闭，用于在等待节拍时提前醒来
func (f *StopFlag) Done() <-chan struct{} {
	return f.done
}
