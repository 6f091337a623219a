// Package status 通过 HTTP 暴露遥控客户端的运行状态：JSON 快照、prometheus 指标和 websocket 推送。
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/transairobot/legctl/telemetry"
)

// Status 是 /api/status 返回的内容
type Status struct {
	SessionID   string           `json:"session_id"`
	StreamState string           `json:"stream_state"`
	LastCommand string           `json:"last_command"`
	Health      telemetry.Health `json:"health"`
	Stats       telemetry.Stats  `json:"stats"`
	Observers   int              `json:"observers"`
}

// Provider 每次请求时生成最新状态
type Provider func() Status

// DefaultPushInterval websocket 推送间隔
const DefaultPushInterval = 500 * time.Millisecond

type Server struct {
	provider Provider
	gatherer prometheus.Gatherer
	interval time.Duration
	router   chi.Router
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	srv     *http.Server
	lis     net.Listener
	closing chan struct{}
	clients sync.WaitGroup
}

// NewServer 创建状态服务。gatherer 为 nil 时不注册 /metrics。
func NewServer(provider Provider, gatherer prometheus.Gatherer, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	s := &Server{
		provider: provider,
		gatherer: gatherer,
		interval: interval,
		logger:   zap.L(),
		closing:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/status", s.handleStatus)
	r.Get("/ws/status", s.handleWebSocket)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler 返回路由，便于挂载或测试
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 监听 addr 并在后台服务
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lis = lis
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("状态服务已启动", zap.Stringer("addr", lis.Addr()))
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("状态服务退出", zap.Error(err))
		}
	}()
	return nil
}

// Addr 返回监听地址，Start 之前为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Shutdown 关闭监听并断开所有 websocket
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	select {
	case <-s.closing:
	default:
		close(s.closing)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.clients.Wait()
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider()); err != nil {
		s.logger.Debug("写入状态失败", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.clients.Add(1)
	defer s.clients.Done()
	defer conn.Close()

	// 读循环只用于发现对端关闭
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(s.interval * 4))
		if err := conn.WriteJSON(s.provider()); err != nil {
			s.logger.Debug("推送状态失败", zap.Error(err))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
