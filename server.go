package robot

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/transairobot/legctl/protocol"
	"github.com/transairobot/legctl/telemetry"
)

// TelemetryServer 通过 QUIC 把遥测快照只读地镜像给其它观察端。
// 每个流承载一次请求/响应。
type TelemetryServer struct {
	conf      *TelemetryConfig
	mirror    protocol.MirrorConfig
	snapshot  *telemetry.Snapshot
	stats     func() telemetry.Stats
	lis       *quic.Listener
	observers sync.Map // map[*quic.Conn]*ObserverSession
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// ObserverSession 表示一个已连接的观察端
type ObserverSession struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Requests     uint64    `json:"requests"`
	ErrorCount   uint64    `json:"error_count"`
	ConfigSent   bool      `json:"config_sent"`

	conn *quic.Conn
	mu   sync.RWMutex
}

// NewTelemetryServer 创建镜像服务。stats 可以为 nil。
func NewTelemetryServer(conf *TelemetryConfig, mirror protocol.MirrorConfig, snapshot *telemetry.Snapshot, stats func() telemetry.Stats) *TelemetryServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TelemetryServer{
		conf:     conf,
		mirror:   mirror,
		snapshot: snapshot,
		stats:    stats,
		logger:   zap.L(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Listen 加载证书并在 addr 上监听
func (s *TelemetryServer) Listen(addr string) error {
	cert, err := loadCert(s.conf.CertFile, s.conf.PrivateFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	listener, err := quic.ListenAddr(addr, serverTLSConfig(cert), &quic.Config{
		MaxIdleTimeout:                 3 * time.Minute,
		KeepAlivePeriod:                20 * time.Second,
		MaxIncomingStreams:             256,
		MaxIncomingUniStreams:          -1,
		InitialStreamReceiveWindow:     512 * 1024,
		MaxStreamReceiveWindow:         16 * 1024 * 1024,
		InitialConnectionReceiveWindow: 1024 * 1024,
		MaxConnectionReceiveWindow:     32 * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.lis = listener
	s.logger.Info("遥测镜像已启动", zap.Stringer("addr", listener.Addr()))
	return nil
}

// Addr 返回监听地址，Listen 之前为 nil
func (s *TelemetryServer) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Serve 接受连接直到 Stop
func (s *TelemetryServer) Serve() error {
	if s.lis == nil {
		return fmt.Errorf("telemetry server not listening")
	}

	for {
		conn, err := s.lis.Accept(s.ctx)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				s.logger.Error("接受连接失败", zap.Error(err))
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// Observers 返回当前连接的观察端
func (s *TelemetryServer) Observers() []ObserverSession {
	var out []ObserverSession
	s.observers.Range(func(_, value any) bool {
		session := value.(*ObserverSession)
		session.mu.RLock()
		out = append(out, ObserverSession{
			ID:           session.ID,
			RemoteAddr:   session.RemoteAddr,
			ConnectedAt:  session.ConnectedAt,
			LastActivity: session.LastActivity,
			Requests:     session.Requests,
			ErrorCount:   session.ErrorCount,
			ConfigSent:   session.ConfigSent,
		})
		session.mu.RUnlock()
		return true
	})
	return out
}

func (s *TelemetryServer) handleConnection(conn *quic.Conn) {
	defer conn.CloseWithError(0, "会话结束")

	session := &ObserverSession{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}

	s.observers.Store(conn, session)
	defer s.observers.Delete(conn)

	s.logger.Info("观察端已连接", zap.String("id", session.ID), zap.String("remote", session.RemoteAddr))

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			s.logger.Debug("接受流失败", zap.String("id", session.ID), zap.Error(err))
			return
		}

		go s.handleStream(session, stream)
	}
}

func (s *TelemetryServer) handleStream(session *ObserverSession, stream *quic.Stream) {
	defer stream.Close()

	msg := protocol.NewMessage()
	if err := msg.Decode(stream); err != nil {
		s.logger.Debug("解码消息失败", zap.Error(err))
		s.recordError(session)
		return
	}

	session.mu.Lock()
	session.LastActivity = time.Now()
	session.Requests++
	session.mu.Unlock()

	var (
		resp *protocol.Message
		err  error
	)
	switch msg.HandleID {
	case protocol.GetConfig:
		resp, err = s.handleGetConfig(session)
	case protocol.GetTelemetry:
		resp, err = s.handleGetTelemetry(msg)
	default:
		s.logger.Warn("未知消息标志", zap.Uint16("flag", msg.HandleID))
		s.recordError(session)
		return
	}
	if err != nil {
		s.logger.Error("处理请求失败", zap.Uint16("flag", msg.HandleID), zap.Error(err))
		s.recordError(session)
		return
	}

	if _, err := resp.WriteTo(stream); err != nil {
		s.logger.Error("发送响应失败", zap.Error(err))
		s.recordError(session)
	}
}

func (s *TelemetryServer) handleGetConfig(session *ObserverSession) (*protocol.Message, error) {
	resp, err := protocol.NewPackMessage(protocol.GetConfig, &s.mirror)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	if !session.ConfigSent {
		session.ConfigSent = true
		s.logger.Info("配置已发送给观察端", zap.String("id", session.ID))
	}
	session.mu.Unlock()
	return resp, nil
}

func (s *TelemetryServer) handleGetTelemetry(msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.TelemetryRequest
	if err := msg.Unpack(&req); err != nil {
		return nil, fmt.Errorf("unpack telemetry request: %w", err)
	}

	return protocol.NewPackMessage(protocol.GetTelemetry, s.report(req.IncludeFrame))
}

// report 从快照生成遥测报告，includeFrame 为 false 时不复制像素
func (s *TelemetryServer) report(includeFrame bool) *protocol.TelemetryReport {
	r := &protocol.TelemetryReport{
		Timestamp: uint64(time.Now().UnixMilli()),
	}

	if includeFrame {
		v := s.snapshot.View()
		r.Sequence = v.Seq
		r.PacketLossPercent = v.PacketLossPercent
		r.LastFrameLatencyMs = v.LastFrameLatencyMs
		r.Width = uint32(v.Frame.Width)
		r.Height = uint32(v.Frame.Height)
		if v.HasFrame() {
			r.Frame = &protocol.Image{
				Width:  uint32(v.Frame.Width),
				Height: uint32(v.Frame.Height),
				Data:   v.Frame.Pixels,
			}
		}
	} else {
		h := s.snapshot.Health()
		r.Sequence = h.Seq
		r.PacketLossPercent = h.PacketLossPercent
		r.LastFrameLatencyMs = h.LastFrameLatencyMs
		r.Width = uint32(h.Width)
		r.Height = uint32(h.Height)
	}

	if s.stats != nil {
		st := s.stats()
		r.TotalAttempts = st.Total
		r.FailedAttempts = st.Failed
	}
	return r
}

func (s *TelemetryServer) recordError(session *ObserverSession) {
	session.mu.Lock()
	session.ErrorCount++
	session.mu.Unlock()
}

// Stop 停止服务器
func (s *TelemetryServer) Stop() error {
	s.cancel()

	if s.lis != nil {
		return s.lis.Close()
	}
	return nil
}
