package robot

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/transairobot/legctl/sim"
	"github.com/transairobot/legctl/telemetry"
)

func startImageServer(t *testing.T) *sim.ImageServer {
	t.Helper()
	srv, err := sim.NewImageServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("启动图像服务失败: %v", err)
	}
	srv.Start()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func streamConfig(addr net.Addr) Config {
	conf := DefaultConfig()
	conf.ServerIP = "127.0.0.1"
	conf.ImagePort = addr.(*net.TCPAddr).Port
	conf.ConnectTimeout = time.Second
	conf.ReadTimeout = 300 * time.Millisecond
	conf.FrameRate = 200
	return conf
}

func testPattern(t *testing.T, w, h int, format sim.Format) []byte {
	t.Helper()
	frame, err := sim.TestPattern(w, h, 0, format)
	if err != nil {
		t.Fatalf("生成测试图像失败: %v", err)
	}
	return frame
}

func TestStreamPublishesFrame(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(testPattern(t, 32, 16, sim.FormatPNG))

	conf := streamConfig(srv.Addr())
	snap := telemetry.NewSnapshot()
	c := NewImageStreamClient(&conf, snap, nil)

	if err := c.cycle(); err != nil {
		t.Fatalf("周期失败: %v", err)
	}

	v := snap.View()
	if !v.HasFrame() {
		t.Fatal("没有发布帧")
	}
	if v.Frame.Width != 32 || v.Frame.Height != 16 {
		t.Errorf("尺寸: 得到 %dx%d, 期望 32x16", v.Frame.Width, v.Frame.Height)
	}
	if len(v.Frame.Pixels) != 32*16*3 {
		t.Errorf("像素长度: 得到 %d", len(v.Frame.Pixels))
	}
	// 第一根彩条是白色
	if v.Frame.Pixels[0] != 255 || v.Frame.Pixels[1] != 255 || v.Frame.Pixels[2] != 255 {
		t.Errorf("第一个像素: 得到 %v", v.Frame.Pixels[:3])
	}
	if v.PacketLossPercent != 0 {
		t.Errorf("丢包率: 得到 %f", v.PacketLossPercent)
	}
	if v.LastFrameLatencyMs <= 0 {
		t.Errorf("延迟应为正数: %f", v.LastFrameLatencyMs)
	}
	if st := c.Stats(); st.Total != 1 || st.Failed != 0 {
		t.Errorf("计数: %+v", st)
	}
	if c.State() != StatePublishing {
		t.Errorf("状态: 得到 %s", c.State())
	}
}

func TestStreamJPEG(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(testPattern(t, 64, 48, sim.FormatJPEG))

	conf := streamConfig(srv.Addr())
	snap := telemetry.NewSnapshot()
	c := NewImageStreamClient(&conf, snap, nil)

	if err := c.cycle(); err != nil {
		t.Fatalf("周期失败: %v", err)
	}
	if v := snap.View(); v.Frame.Width != 64 || v.Frame.Height != 48 {
		t.Errorf("尺寸: 得到 %dx%d", v.Frame.Width, v.Frame.Height)
	}
}

func TestStreamReadTimeoutNotCountedAsLoss(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(testPattern(t, 8, 8, sim.FormatPNG))
	srv.SetStall(2 * time.Second)

	conf := streamConfig(srv.Addr())
	snap := telemetry.NewSnapshot()
	c := NewImageStreamClient(&conf, snap, nil)

	start := time.Now()
	err := c.cycle()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("读取应在超时后放弃, 用时 %s", elapsed)
	}

	var serr *StreamError
	if !errors.As(err, &serr) || !serr.IsTimeout() || serr.Stage != StageReceive {
		t.Fatalf("期望接收阶段超时, 得到 %v", err)
	}
	if c.State() != StateTimedOut {
		t.Errorf("状态: 得到 %s", c.State())
	}

	st := c.Stats()
	if st.Total != 1 || st.Failed != 0 || st.Timeouts != 1 {
		t.Errorf("计数: 得到 %+v, 期望 total=1 failed=0 timeouts=1", st)
	}
	if snap.View().HasFrame() {
		t.Error("超时不应发布帧")
	}
}

// stalledWriteConn 的每次写入都返回写超时
type stalledWriteConn struct {
	net.Conn
}

func (c *stalledWriteConn) Write([]byte) (int, error) {
	return 0, &net.OpError{Op: "write", Net: "tcp", Err: os.ErrDeadlineExceeded}
}

// 请求发送失败计入丢包，即使是写超时
func TestStreamRequestWriteTimeoutCountedAsLoss(t *testing.T) {
	conf := DefaultConfig()
	conf.ServerIP = "127.0.0.1"
	snap := telemetry.NewSnapshot()
	dial := func(network, addr string, timeout time.Duration) (net.Conn, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		return &stalledWriteConn{Conn: client}, nil
	}
	c := NewImageStreamClient(&conf, snap, nil, WithDialer(dial))

	err := c.cycle()
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Stage != StageRequest || serr.Kind != FailureConnection {
		t.Fatalf("期望请求阶段连接错误, 得到 %v", err)
	}
	if c.State() != StateConnectionError {
		t.Errorf("状态: 得到 %s", c.State())
	}

	st := c.Stats()
	if st.Total != 1 || st.Failed != 1 || st.Timeouts != 0 {
		t.Errorf("计数: 得到 %+v, 期望 total=1 failed=1 timeouts=0", st)
	}
	if v := snap.View(); v.PacketLossPercent != 100 {
		t.Errorf("丢包率: 得到 %f, 期望 100", v.PacketLossPercent)
	}
}

// 记录日志时不持有计数器锁：日志钩子里读取计数器不会死锁
func TestStreamFailureLogsOutsideLock(t *testing.T) {
	conf := DefaultConfig()
	conf.ServerIP = "127.0.0.1"
	dial := func(network, addr string, timeout time.Duration) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: network, Err: os.ErrDeadlineExceeded}
	}
	c := NewImageStreamClient(&conf, telemetry.NewSnapshot(), nil, WithDialer(dial))

	var seen atomic.Uint64
	core, logs := observer.New(zapcore.InfoLevel)
	c.logger = zap.New(core, zap.Hooks(func(zapcore.Entry) error {
		seen.Store(c.Stats().Timeouts)
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- c.cycle() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle 在记录日志时持有锁")
	}

	if logs.FilterMessage("图像请求超时").Len() != 1 {
		t.Errorf("期望一条超时日志, 得到 %d 条", logs.Len())
	}
	if seen.Load() != 1 {
		t.Errorf("日志时计数器应已更新, 得到 timeouts=%d", seen.Load())
	}
}

// refusingDialer 每第 n 次拨号返回连接被拒绝
func refusingDialer(n int) (DialFunc, *atomic.Int64) {
	var calls atomic.Int64
	return func(network, addr string, timeout time.Duration) (net.Conn, error) {
		if calls.Add(1)%int64(n) == 0 {
			return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
		}
		return net.DialTimeout(network, addr, timeout)
	}, &calls
}

func TestStreamLossConverges(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(testPattern(t, 8, 8, sim.FormatPNG))

	conf := streamConfig(srv.Addr())
	snap := telemetry.NewSnapshot()
	dial, calls := refusingDialer(5)
	c := NewImageStreamClient(&conf, snap, nil, WithDialer(dial))

	for i := 0; i < 50; i++ {
		err := c.cycle()
		c.endCycle()
		if (i+1)%5 == 0 {
			var serr *StreamError
			if !errors.As(err, &serr) || serr.Kind != FailureConnection || serr.Stage != StageConnect {
				t.Fatalf("第 %d 次: 期望连接错误, 得到 %v", i+1, err)
			}
		} else if err != nil {
			t.Fatalf("第 %d 次: %v", i+1, err)
		}
	}

	if calls.Load() != 50 {
		t.Errorf("拨号次数: 得到 %d", calls.Load())
	}
	st := c.Stats()
	if st.Total != 50 || st.Failed != 10 {
		t.Errorf("计数: 得到 %+v, 期望 total=50 failed=10", st)
	}
	if got := st.LossPercent(); got != 20 {
		t.Errorf("丢包率: 得到 %f, 期望 20", got)
	}
	if got := snap.View().PacketLossPercent; got != 20 {
		t.Errorf("快照丢包率: 得到 %f, 期望 20", got)
	}
}

func TestStreamMalformedSkipped(t *testing.T) {
	srv := startImageServer(t)
	conf := streamConfig(srv.Addr())
	snap := telemetry.NewSnapshot()
	c := NewImageStreamClient(&conf, snap, nil)

	for _, payload := range [][]byte{[]byte("definitely not an image"), nil} {
		srv.SetFrame(payload)
		err := c.cycle()

		var serr *StreamError
		if !errors.As(err, &serr) || serr.Kind != FailureMalformed {
			t.Fatalf("期望无法解码, 得到 %v", err)
		}
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("期望 ErrMalformedFrame, 得到 %v", err)
		}
	}

	if v := snap.View(); v.Seq != 0 {
		t.Errorf("坏帧不应更新遥测, seq=%d", v.Seq)
	}
	st := c.Stats()
	if st.Total != 2 || st.Failed != 0 || st.Malformed != 2 {
		t.Errorf("计数: 得到 %+v", st)
	}

	// 坏帧之后仍能继续接收
	srv.SetFrame(testPattern(t, 4, 4, sim.FormatPNG))
	if err := c.cycle(); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if !snap.View().HasFrame() {
		t.Error("恢复后应发布帧")
	}
}

func TestStreamFrameTooLarge(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(make([]byte, 5000))

	conf := streamConfig(srv.Addr())
	conf.MaxFrameBytes = 1000
	c := NewImageStreamClient(&conf, telemetry.NewSnapshot(), nil)

	err := c.cycle()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("期望 ErrFrameTooLarge, 得到 %v", err)
	}
	if c.Stats().Failed != 0 {
		t.Error("超大帧不计入丢包")
	}
}

func TestStreamConnectRefusedByClosedPort(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr()
	lis.Close()

	conf := streamConfig(addr)
	snap := telemetry.NewSnapshot()
	c := NewImageStreamClient(&conf, snap, nil)

	err = c.cycle()
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Kind != FailureConnection {
		t.Fatalf("期望连接错误, 得到 %v", err)
	}
	if c.State() != StateConnectionError {
		t.Errorf("状态: 得到 %s", c.State())
	}
	if got := snap.View().PacketLossPercent; got != 100 {
		t.Errorf("快照丢包率: 得到 %f, 期望 100", got)
	}
}

func TestStreamCounterReset(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(testPattern(t, 4, 4, sim.FormatPNG))

	conf := streamConfig(srv.Addr())
	c := NewImageStreamClient(&conf, telemetry.NewSnapshot(), nil)
	c.stats = telemetry.Stats{Total: telemetry.ResetThreshold, Failed: 300}

	if err := c.cycle(); err != nil {
		t.Fatalf("周期失败: %v", err)
	}
	c.endCycle()

	if st := c.Stats(); st.Total != 0 || st.Failed != 0 {
		t.Errorf("超过阈值后应清零: %+v", st)
	}
}

func TestStreamRunStops(t *testing.T) {
	srv := startImageServer(t)
	srv.SetFrame(testPattern(t, 8, 8, sim.FormatPNG))

	conf := streamConfig(srv.Addr())
	conf.FrameRate = 25
	snap := telemetry.NewSnapshot()
	c := NewImageStreamClient(&conf, snap, nil)
	stop := NewStopFlag()

	done := make(chan struct{})
	go func() {
		c.Run(stop)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !snap.View().HasFrame() {
		if time.Now().After(deadline) {
			t.Fatal("没有收到帧")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stop.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run 没有退出")
	}
	if c.State() != StateStopped {
		t.Errorf("状态: 得到 %s", c.State())
	}

	requests := srv.Requests()
	time.Sleep(100 * time.Millisecond)
	if srv.Requests() != requests {
		t.Error("停止后不应再发送请求")
	}
}

func TestStreamPacing(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr()
	lis.Close()

	conf := streamConfig(addr)
	conf.FrameRate = 25
	c := NewImageStreamClient(&conf, telemetry.NewSnapshot(), nil)
	stop := NewStopFlag()

	done := make(chan struct{})
	go func() {
		c.Run(stop)
		close(done)
	}()
	time.Sleep(400 * time.Millisecond)
	stop.Stop()
	<-done

	// 连接立即被拒绝，重连仍受 40ms 节流
	if total := c.Stats().Total; total > 12 {
		t.Errorf("400ms 内尝试 %d 次, 重连没有被节流", total)
	}
}
