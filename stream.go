package robot

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/transairobot/legctl/mem"
	"github.com/transairobot/legctl/protocol"
	"github.com/transairobot/legctl/telemetry"
)

// StreamState 图像流状态机的当前状态
type StreamState int32

const (
	StateIdle StreamState = iota
	StateConnecting
	StateRequesting
	StateReceiving
	StateDecoding
	StatePublishing
	StateTimedOut
	StateConnectionError
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRequesting:
		return "requesting"
	case StateReceiving:
		return "receiving"
	case StateDecoding:
		return "decoding"
	case StatePublishing:
		return "publishing"
	case StateTimedOut:
		return "timed_out"
	case StateConnectionError:
		return "connection_error"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DialFunc 建立到图像端点的 TCP 连接，默认 net.DialTimeout
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

type StreamOption func(*ImageStreamClient)

// WithDialer 替换拨号函数
func WithDialer(dial DialFunc) StreamOption {
	return func(c *ImageStreamClient) {
		c.dial = dial
	}
}

// WithBufferPool 替换接收帧使用的缓冲池
func WithBufferPool(pool mem.BufferPool) StreamOption {
	return func(c *ImageStreamClient) {
		c.pool = pool
	}
}

// ImageStreamClient 每帧新建一个 TCP 连接：发送请求令牌，读到对端关闭为止，
// 解码后把帧和健康指标发布到 Snapshot。所有网络错误都在内部消化。
type ImageStreamClient struct {
	addr           string
	connectTimeout time.Duration
	readTimeout    time.Duration
	frameRate      int
	maxFrameBytes  int

	dial     DialFunc
	pool     mem.BufferPool
	snapshot *telemetry.Snapshot
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	state atomic.Int32

	mu    sync.Mutex
	stats telemetry.Stats
}

func NewImageStreamClient(conf *Config, snapshot *telemetry.Snapshot, metrics *telemetry.Metrics, opts ...StreamOption) *ImageStreamClient {
	c := &ImageStreamClient{
		addr:           conf.ImageAddr(),
		connectTimeout: conf.ConnectTimeout,
		readTimeout:    conf.ReadTimeout,
		frameRate:      conf.FrameRate,
		maxFrameBytes:  conf.MaxFrameBytes,
		dial:           net.DialTimeout,
		pool:           mem.DefaultBufferPool(),
		snapshot:       snapshot,
		metrics:        metrics,
		logger:         zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run 循环请求帧直到停止标志置位。每个周期至少占用 1/FrameRate 秒，
// 失败后的重连也受此节流。
func (c *ImageStreamClient) Run(stop *StopFlag) {
	interval := time.Second / time.Duration(c.frameRate)
	c.logger.Info("图像流已启动", zap.String("addr", c.addr), zap.Duration("interval", interval))
	defer c.logger.Info("图像流已退出")
	defer c.setState(StateStopped)

	for !stop.Stopped() {
		start := time.Now()
		if err := c.cycle(); err != nil {
			c.logger.Debug("图像周期失败", zap.Error(err))
		}
		c.endCycle()

		if wait := interval - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-stop.Done():
				timer.Stop()
			}
		}
	}
}

// cycle 执行一次 连接 -> 请求 -> 接收 -> 解码 -> 发布。返回的错误只用于日志。
func (c *ImageStreamClient) cycle() error {
	c.setState(StateConnecting)
	conn, err := c.dial("tcp", c.addr, c.connectTimeout)
	if err != nil {
		c.attempt()
		return c.fail(newStreamError(StageConnect, err))
	}
	defer conn.Close()

	c.setState(StateRequesting)
	conn.SetWriteDeadline(time.Now().Add(c.readTimeout))
	start := time.Now()
	c.attempt()
	if _, err := conn.Write(protocol.FrameRequest); err != nil {
		// 请求发送失败一律计入丢包，包括写超时
		return c.fail(&StreamError{Stage: StageRequest, Kind: FailureConnection, Err: err})
	}

	c.setState(StateReceiving)
	frame, err := mem.ReadAll(&deadlineReader{conn: conn, timeout: c.readTimeout}, c.pool, c.maxFrameBytes)
	defer frame.Free()
	if err != nil {
		if errors.Is(err, mem.ErrLimitExceeded) {
			err = fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, c.maxFrameBytes)
		}
		return c.fail(newStreamError(StageReceive, err))
	}

	c.setState(StateDecoding)
	pixels, width, height, err := decodeRGB(frame.NewReader())
	if err != nil {
		return c.fail(newStreamError(StageDecode, err))
	}
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	c.setState(StatePublishing)
	c.mu.Lock()
	loss := c.stats.LossPercent()
	c.mu.Unlock()
	c.snapshot.Publish(pixels, width, height, loss, latencyMs)
	c.metrics.FramePublished(frame.Len(), latencyMs)
	return nil
}

// fail 按错误类别计数。只有连接错误计入丢包；超时只算一次尝试；
// 无法解码的帧直接丢弃，不更新遥测。日志和快照更新在释放锁之后进行。
func (c *ImageStreamClient) fail(serr *StreamError) error {
	c.mu.Lock()
	switch serr.Kind {
	case FailureConnection:
		c.stats.Fail()
	case FailureTimeout:
		c.stats.Timeout()
	case FailureMalformed:
		c.stats.Malform()
		c.mu.Unlock()
		c.metrics.StreamMalformed()
		return serr
	}
	loss := c.stats.LossPercent()
	c.mu.Unlock()

	switch serr.Kind {
	case FailureConnection:
		c.setState(StateConnectionError)
		c.metrics.StreamFailure()
	case FailureTimeout:
		c.setState(StateTimedOut)
		c.metrics.StreamTimeout()
		c.logger.Info("图像请求超时", zap.Stringer("stage", serr.Stage))
	}
	c.snapshot.UpdateLoss(loss)
	return serr
}

func (c *ImageStreamClient) attempt() {
	c.mu.Lock()
	c.stats.Attempt()
	c.mu.Unlock()
	c.metrics.StreamAttempt()
}

func (c *ImageStreamClient) endCycle() {
	c.mu.Lock()
	reset := c.stats.MaybeReset()
	loss := c.stats.LossPercent()
	c.mu.Unlock()

	if reset {
		c.metrics.CounterReset()
		c.logger.Debug("丢包计数已清零")
	}
	c.metrics.SetPacketLoss(loss)
}

// Stats 返回计数器副本
func (c *ImageStreamClient) Stats() telemetry.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *ImageStreamClient) State() StreamState {
	return StreamState(c.state.Load())
}

func (c *ImageStreamClient) setState(s StreamState) {
	c.state.Store(int32(s))
}

// deadlineReader 在每次 Read 前刷新读超时，卡住的对端最多阻塞 timeout
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}
