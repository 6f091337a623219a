package robot

import (
	"testing"
	"time"

	"github.com/transairobot/legctl/control"
	"github.com/transairobot/legctl/protocol"
	"github.com/transairobot/legctl/sim"
)

func startCommandListener(t *testing.T) *sim.CommandListener {
	t.Helper()
	l, err := sim.NewCommandListener("127.0.0.1:0", 64)
	if err != nil {
		t.Fatalf("启动命令监听失败: %v", err)
	}
	l.Start()
	t.Cleanup(func() { l.Close() })
	return l
}

func nextCommand(t *testing.T, l *sim.CommandListener) protocol.Packet {
	t.Helper()
	select {
	case p := <-l.Commands():
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到命令包")
	}
	return protocol.Packet{}
}

func TestCommandSenderTick(t *testing.T) {
	l := startCommandListener(t)
	input := control.NewState()

	sender, err := NewCommandSender(l.Addr().String(), input, 500*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("创建发送器失败: %v", err)
	}
	defer sender.Close()

	input.Press(protocol.MoveForward)
	input.Press(protocol.TurnLeft)
	input.Click(protocol.ActionIncIncline)

	p, err := sender.Tick()
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if p != (protocol.Packet{0x22, 0x10}) {
		t.Errorf("发送的包: 得到 %s", p)
	}
	if got := nextCommand(t, l); got != p {
		t.Errorf("收到的包: 得到 %s, 期望 %s", got, p)
	}

	// 一次性动作只发送一次
	sender.Tick()
	if got := nextCommand(t, l); got != (protocol.Packet{0x22, 0x00}) {
		t.Errorf("第二个包: 得到 %s", got)
	}

	if sender.Sent() != 2 || sender.Failures() != 0 {
		t.Errorf("计数: sent=%d failures=%d", sender.Sent(), sender.Failures())
	}
	if sender.Last() != (protocol.Packet{0x22, 0x00}) {
		t.Errorf("Last: 得到 %s", sender.Last())
	}
}

func TestCommandSenderFailureDrainsPending(t *testing.T) {
	input := control.NewState()
	sender, err := NewCommandSender("127.0.0.1:9", input, 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("创建发送器失败: %v", err)
	}
	sender.Close()

	input.Click(protocol.ActionOpenGripper)
	if _, err := sender.Tick(); err == nil {
		t.Fatal("关闭的套接字应发送失败")
	}
	if sender.Failures() != 1 {
		t.Errorf("失败计数: 得到 %d", sender.Failures())
	}
	if len(input.Pending()) != 0 {
		t.Error("失败后一次性动作也不应重发")
	}
}

func TestCommandSenderRun(t *testing.T) {
	l := startCommandListener(t)
	input := control.NewState()
	input.Press(protocol.CameraPanLeft)

	sender, err := NewCommandSender(l.Addr().String(), input, 500*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("创建发送器失败: %v", err)
	}
	defer sender.Close()

	stop := NewStopFlag()
	done := make(chan struct{})
	go func() {
		sender.Run(stop, 100)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		if got := nextCommand(t, l); got[0] != protocol.CameraTurnLeft {
			t.Errorf("得到 %s", got)
		}
	}
	stop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run 没有退出")
	}
}

func TestNewCommandSenderBadAddr(t *testing.T) {
	if _, err := NewCommandSender("not-an-addr", control.NewState(), time.Second, nil); err == nil {
		t.Error("期望地址解析失败")
	}
}

func TestStopFlag(t *testing.T) {
	stop := NewStopFlag()
	if stop.Stopped() {
		t.Fatal("初始不应停止")
	}
	stop.Stop()
	stop.Stop()
	if !stop.Stopped() {
		t.Fatal("Stop 后应停止")
	}
	select {
	case <-stop.Done():
	default:
		t.Error("Done 应已关闭")
	}
}
