// Package console 把终端键盘输入转成遥控输入状态，并把遥测输出到日志。
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/transairobot/legctl/control"
	"github.com/transairobot/legctl/protocol"
)

// DefaultHoldTimeout 终端没有按键抬起事件，键在该时间内没有重复即视为松开。
// 需要大于终端自动重复的首次延迟。
const DefaultHoldTimeout = 600 * time.Millisecond

const (
	keyCtrlC = 0x03
	keyCtrlD = 0x04
)

// Stopper 是驱动需要的停止标志能力
type Stopper interface {
	Stop()
	Done() <-chan struct{}
}

// Driver 从终端读取按键
type Driver struct {
	in          io.Reader
	fd          int // -1 表示不是终端，跳过 raw 模式
	input       *control.State
	stop        Stopper
	holdTimeout time.Duration
	logger      *zap.Logger

	lastSeen map[protocol.Input]time.Time
}

// NewDriver 使用标准输入。标准输入不是终端（管道、测试）时不进入 raw 模式。
func NewDriver(input *control.State, stop Stopper, holdTimeout time.Duration) *Driver {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return newDriver(os.Stdin, fd, input, stop, holdTimeout)
}

// NewReaderDriver 从任意 io.Reader 读取按键，不涉及终端模式
func NewReaderDriver(r io.Reader, input *control.State, stop Stopper, holdTimeout time.Duration) *Driver {
	return newDriver(r, -1, input, stop, holdTimeout)
}

func newDriver(r io.Reader, fd int, input *control.State, stop Stopper, holdTimeout time.Duration) *Driver {
	if holdTimeout <= 0 {
		holdTimeout = DefaultHoldTimeout
	}
	return &Driver{
		in:          r,
		fd:          fd,
		input:       input,
		stop:        stop,
		holdTimeout: holdTimeout,
		logger:      zap.L(),
		lastSeen:    make(map[protocol.Input]time.Time),
	}
}

// IsTerminal 是否在真实终端上运行
func (d *Driver) IsTerminal() bool {
	return d.fd >= 0
}

// Run 读取按键直到停止标志置位或输入结束。退出时松开所有键，
// 已点击的按钮动作留给下一个命令包。输入结束不置位停止标志。
func (d *Driver) Run() error {
	if d.fd >= 0 {
		oldState, err := term.MakeRaw(d.fd)
		if err != nil {
			return fmt.Errorf("make raw: %w", err)
		}
		defer term.Restore(d.fd, oldState)
	}

	keys := make(chan byte, 16)
	var readErr error
	go d.readKeys(keys, &readErr)

	ticker := time.NewTicker(d.holdTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop.Done():
			d.input.ReleaseAll()
			return nil
		case key, ok := <-keys:
			if ok {
				d.handleKey(key, time.Now())
				continue
			}
			// 通道在最后一个按键之后才关闭，已读到的点击都已进入待发送队列
			d.input.ReleaseAll()
			if errors.Is(readErr, io.EOF) {
				d.logger.Info("输入已结束")
				return nil
			}
			return fmt.Errorf("read keys: %w", readErr)
		case now := <-ticker.C:
			d.releaseExpired(now)
		}
	}
}

// readKeys 把按键依次送入 keys，出错时记录到 readErr 并关闭 keys
func (d *Driver) readKeys(keys chan<- byte, readErr *error) {
	defer close(keys)
	buf := make([]byte, 64)
	for {
		n, err := d.in.Read(buf)
		for _, b := range buf[:n] {
			keys <- b
		}
		if err != nil {
			*readErr = err
			return
		}
	}
}

func (d *Driver) handleKey(key byte, now time.Time) {
	if key >= 'A' && key <= 'Z' {
		key += 'a' - 'A'
	}

	switch key {
	case 'x', keyCtrlC, keyCtrlD:
		d.stop.Stop()
		return
	}

	if in, ok := InputForKey(key); ok {
		if _, held := d.lastSeen[in]; !held {
			d.logger.Debug("按下", zap.Stringer("input", in))
		}
		d.lastSeen[in] = now
		d.input.Press(in)
		return
	}

	if a, ok := ActionForKey(key); ok {
		d.logger.Debug("点击", zap.Stringer("action", a))
		d.input.Click(a)
	}
}

func (d *Driver) releaseExpired(now time.Time) {
	for in, seen := range d.lastSeen {
		if now.Sub(seen) >= d.holdTimeout {
			delete(d.lastSeen, in)
			d.input.Release(in)
			d.logger.Debug("松开", zap.Stringer("input", in))
		}
	}
}

// InputForKey 运动键绑定
func InputForKey(key byte) (protocol.Input, bool) {
	switch key {
	case 's':
		return protocol.MoveForward, true
	case 'w':
		return protocol.MoveBackward, true
	case 'a':
		return protocol.StrafeLeft, true
	case 'd':
		return protocol.StrafeRight, true
	case 'e':
		return protocol.TurnLeft, true
	case 'q':
		return protocol.TurnRight, true
	case ',':
		return protocol.CameraPanRight, true
	case '.':
		return protocol.CameraPanLeft, true
	}
	return 0, false
}

// ActionForKey 数字1-9按界面按钮顺序对应按钮动作
func ActionForKey(key byte) (protocol.Action, bool) {
	if key < '1' || key > '9' {
		return 0, false
	}
	actions := protocol.Actions()
	i := int(key - '1')
	if i >= len(actions) {
		return 0, false
	}
	return actions[i], true
}
