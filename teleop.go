package robot

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/transairobot/legctl/control"
	"github.com/transairobot/legctl/protocol"
	"github.com/transairobot/legctl/telemetry"
)

// Display 是渲染协作方，只在控制循环 goroutine 上被调用
type Display interface {
	Render(view telemetry.View)
}

type Option func(*Teleop)

// WithDisplay 设置渲染协作方，默认不渲染
func WithDisplay(d Display) Option {
	return func(t *Teleop) {
		t.display = d
	}
}

// WithMetrics 设置 prometheus 指标
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Teleop) {
		t.metrics = m
	}
}

// WithStreamOptions 传递给图像流客户端的选项
func WithStreamOptions(opts ...StreamOption) Option {
	return func(t *Teleop) {
		t.streamOpts = append(t.streamOpts, opts...)
	}
}

// WithStopFlag 与其它组件共享停止标志
func WithStopFlag(stop *StopFlag) Option {
	return func(t *Teleop) {
		t.stop = stop
	}
}

// Teleop 组装命令通道、图像流和可选的遥测镜像，持有停止标志
type Teleop struct {
	conf       Config
	sessionID  string
	input      *control.State
	snapshot   *telemetry.Snapshot
	stop       *StopFlag
	metrics    *telemetry.Metrics
	display    Display
	streamOpts []StreamOption
	logger     *zap.Logger

	sender *CommandSender
	stream *ImageStreamClient
	mirror *TelemetryServer
}

// NewTeleop 校验配置并打开命令套接字。配置错误时不打开任何套接字。
func NewTeleop(conf Config, opts ...Option) (*Teleop, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	t := &Teleop{
		conf:      conf,
		sessionID: uuid.NewString(),
		input:     control.NewState(),
		snapshot:  telemetry.NewSnapshot(),
		logger:    zap.L(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.stop == nil {
		t.stop = NewStopFlag()
	}
	t.logger = t.logger.With(zap.String("session", t.sessionID))

	sender, err := NewCommandSender(t.conf.CommandAddr(), t.input, t.conf.SendTimeout, t.metrics)
	if err != nil {
		return nil, err
	}
	t.sender = sender
	t.stream = NewImageStreamClient(&t.conf, t.snapshot, t.metrics, t.streamOpts...)

	if t.conf.Telemetry.Addr != "" {
		t.mirror = NewTelemetryServer(&t.conf.Telemetry, t.mirrorConfig(), t.snapshot, t.stream.Stats)
		if err := t.mirror.Listen(t.conf.Telemetry.Addr); err != nil {
			sender.Close()
			return nil, fmt.Errorf("telemetry mirror: %w", err)
		}
	}
	return t, nil
}

// Run 启动图像流和遥测镜像，在当前 goroutine 上运行控制循环，直到停止标志置位。
// 返回前等待图像流退出并关闭所有套接字。
func (t *Teleop) Run() error {
	t.logger.Info("遥控客户端已启动",
		zap.String("command", t.conf.CommandAddr()),
		zap.String("image", t.conf.ImageAddr()),
		zap.Int("command_rate", t.conf.CommandRate),
		zap.Int("frame_rate", t.conf.FrameRate))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.stream.Run(t.stop)
	}()

	if t.mirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.mirror.Serve(); err != nil {
				t.logger.Error("遥测镜像退出", zap.Error(err))
			}
		}()
	}

	t.controlLoop()

	// 松开所有键，让机器人停在原地
	t.input.Reset()
	if _, err := t.sender.Tick(); err != nil {
		t.logger.Warn("发送停止命令失败", zap.Error(err))
	}

	if t.mirror != nil {
		t.mirror.Stop()
	}
	wg.Wait()

	t.logger.Info("遥控客户端已退出",
		zap.Uint64("commands_sent", t.sender.Sent()),
		zap.Uint64("command_failures", t.sender.Failures()))
	return t.sender.Close()
}

// Close 释放 NewTeleop 打开的套接字，不启动任何循环，也不发送命令。
// 用于 Run 之前的启动失败；Run 返回时已自行关闭。
func (t *Teleop) Close() error {
	t.stop.Stop()
	if t.mirror != nil {
		t.mirror.Stop()
	}
	return t.sender.Close()
}

// controlLoop 每个节拍发送一个命令包，并在有新发布时渲染快照
func (t *Teleop) controlLoop() {
	ticker := time.NewTicker(time.Second / time.Duration(t.conf.CommandRate))
	defer ticker.Stop()

	var seq uint64
	for !t.stop.Stopped() {
		t.sender.Tick()

		if t.display != nil {
			if view, ok := t.snapshot.ViewSince(seq); ok {
				seq = view.Seq
				t.display.Render(view)
			}
		}

		select {
		case <-ticker.C:
		case <-t.stop.Done():
		}
	}
}

func (t *Teleop) mirrorConfig() protocol.MirrorConfig {
	return protocol.MirrorConfig{
		SessionID:   t.sessionID,
		ServerIP:    t.conf.ServerIP,
		CommandPort: uint16(t.conf.CommandPort),
		ImagePort:   uint16(t.conf.ImagePort),
		FrameRate:   uint32(t.conf.FrameRate),
		Frequency:   uint32(t.conf.Telemetry.Frequency),
	}
}

// Input 返回输入状态，供输入驱动写入
func (t *Teleop) Input() *control.State {
	return t.input
}

func (t *Teleop) Snapshot() *telemetry.Snapshot {
	return t.snapshot
}

func (t *Teleop) StopFlag() *StopFlag {
	return t.stop
}

func (t *Teleop) SessionID() string {
	return t.sessionID
}

// Stats 返回图像流计数器副本
func (t *Teleop) Stats() telemetry.Stats {
	return t.stream.Stats()
}

// StreamState 返回图像流当前状态
func (t *Teleop) StreamState() StreamState {
	return t.stream.State()
}

// LastCommand 返回最近一次发送的命令包
func (t *Teleop) LastCommand() protocol.Packet {
	return t.sender.Last()
}

// MirrorAddr 返回遥测镜像的监听地址，未启用时为 nil
func (t *Teleop) MirrorAddr() net.Addr {
	if t.mirror == nil {
		return nil
	}
	return t.mirror.Addr()
}

// Observers 返回当前连接遥测镜像的观察端数量
func (t *Teleop) Observers() int {
	if t.mirror == nil {
		return 0
	}
	return len(t.mirror.Observers())
}
