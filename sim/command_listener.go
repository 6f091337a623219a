package sim

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/transairobot/legctl/protocol"
)

// CommandListener 模拟机器人的 UDP 命令端点
type CommandListener struct {
	conn     net.PacketConn
	commands chan protocol.Packet
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewCommandListener 在 addr 上监听，收到的命令包放入容量为 buffer 的通道，满时丢弃
func NewCommandListener(addr string, buffer int) (*CommandListener, error) {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, err
	}
	return &CommandListener{
		conn:     conn,
		commands: make(chan protocol.Packet, buffer),
		logger:   zap.L(),
	}, nil
}

func (l *CommandListener) Start() {
	l.wg.Add(1)
	go l.serve()
}

func (l *CommandListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Commands 返回收到的命令包，Close 后关闭
func (l *CommandListener) Commands() <-chan protocol.Packet {
	return l.commands
}

func (l *CommandListener) Close() error {
	err := l.conn.Close()
	l.wg.Wait()
	return err
}

func (l *CommandListener) serve() {
	defer l.wg.Done()
	defer close(l.commands)

	buf := make([]byte, 64)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error("读取命令失败", zap.Error(err))
			}
			return
		}

		packet, err := protocol.ParsePacket(buf[:n])
		if err != nil {
			l.logger.Warn("丢弃无效命令包", zap.Stringer("from", from), zap.Error(err))
			continue
		}

		if packet != (protocol.Packet{}) {
			l.logger.Debug("收到命令",
				zap.Stringer("packet", packet),
				zap.Stringer("command", Interpret(packet)))
		}

		select {
		case l.commands <- packet:
		default:
		}
	}
}
