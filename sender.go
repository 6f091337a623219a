package robot

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/transairobot/legctl/control"
	"github.com/transairobot/legctl/protocol"
	"github.com/transairobot/legctl/telemetry"
)

// CommandSender 每个控制周期把输入状态编码成命令包，通过 UDP 发给机器人。
// 尽力而为：失败只记录和计数，不重试，下一个周期的命令会覆盖它。
type CommandSender struct {
	conn        net.PacketConn
	addr        net.Addr
	input       *control.State
	sendTimeout time.Duration
	metrics     *telemetry.Metrics
	logger      *zap.Logger

	sent     atomic.Uint64
	failures atomic.Uint64
	last     atomic.Uint32
}

// NewCommandSender 解析命令端点并打开本地 UDP 套接字
func NewCommandSender(addr string, input *control.State, sendTimeout time.Duration, metrics *telemetry.Metrics) (*CommandSender, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve command addr: %w", err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open command socket: %w", err)
	}

	return &CommandSender{
		conn:        conn,
		addr:        raddr,
		input:       input,
		sendTimeout: sendTimeout,
		metrics:     metrics,
		logger:      zap.L(),
	}, nil
}

// Tick 取出本周期的命令包并发送。一次性动作在发送前已经被清空，
// 即使发送失败也不会在下个周期重发。
func (s *CommandSender) Tick() (protocol.Packet, error) {
	packet := s.input.Flush()
	s.last.Store(uint32(packet[0])<<8 | uint32(packet[1]))

	if s.sendTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout))
	}
	if _, err := s.conn.WriteTo(packet[:], s.addr); err != nil {
		s.failures.Add(1)
		s.metrics.CommandFailed()
		s.logger.Debug("发送命令失败", zap.Stringer("packet", packet), zap.Error(err))
		return packet, err
	}

	s.sent.Add(1)
	s.metrics.CommandSent()
	return packet, nil
}

// Run 以固定频率调用 Tick，直到停止标志置位。
// 适用于不与渲染循环共用节拍的调用方。
func (s *CommandSender) Run(stop *StopFlag, rate int) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for !stop.Stopped() {
		s.Tick()
		select {
		case <-ticker.C:
		case <-stop.Done():
		}
	}
}

// Last 返回最近一次发送的命令包
func (s *CommandSender) Last() protocol.Packet {
	v := s.last.Load()
	return protocol.Packet{byte(v >> 8), byte(v)}
}

func (s *CommandSender) Sent() uint64 {
	return s.sent.Load()
}

func (s *CommandSender) Failures() uint64 {
	return s.failures.Load()
}

func (s *CommandSender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *CommandSender) Close() error {
	return s.conn.Close()
}
