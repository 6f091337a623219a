package sim

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/transairobot/legctl/protocol"
)

// requestTimeout 与机器人图像服务的接收超时一致
const requestTimeout = time.Second

// ImageServer 模拟机器人的图像服务：每个连接读取一次请求，
// 'I' 写出当前帧后关闭连接，'E' 关闭服务。
type ImageServer struct {
	lis    net.Listener
	logger *zap.Logger

	mu    sync.RWMutex
	frame []byte
	stall time.Duration

	requests atomic.Uint64
	wg       sync.WaitGroup
	done     chan struct{}
	once     sync.Once
}

// NewImageServer 在 addr 上监听，addr 可以是 "127.0.0.1:0"
func NewImageServer(addr string) (*ImageServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ImageServer{
		lis:    lis,
		logger: zap.L(),
		done:   make(chan struct{}),
	}, nil
}

// Start 在后台接受连接
func (s *ImageServer) Start() {
	s.wg.Add(1)
	go s.serve()
}

func (s *ImageServer) Addr() net.Addr {
	return s.lis.Addr()
}

// SetFrame 设置之后每次请求返回的编码图像
func (s *ImageServer) SetFrame(frame []byte) {
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
}

// SetStall 让服务在收到请求后等待 d 再响应，用于模拟卡住的对端。0 表示立即响应。
func (s *ImageServer) SetStall(d time.Duration) {
	s.mu.Lock()
	s.stall = d
	s.mu.Unlock()
}

// Requests 返回收到的 'I' 请求数
func (s *ImageServer) Requests() uint64 {
	return s.requests.Load()
}

// Done 在服务关闭后关闭
func (s *ImageServer) Done() <-chan struct{} {
	return s.done
}

func (s *ImageServer) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.lis.Close()
	})
	s.wg.Wait()
	return err
}

func (s *ImageServer) serve() {
	defer s.wg.Done()
	s.logger.Info("图像服务已启动", zap.Stringer("addr", s.lis.Addr()))

	for {
		conn, err := s.lis.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("接受连接失败", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *ImageServer) handle(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, protocol.MaxRequestSize)
	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	switch buf[0] {
	case protocol.RequestFrame:
		s.requests.Add(1)

		s.mu.RLock()
		frame, stall := s.frame, s.stall
		s.mu.RUnlock()

		if stall > 0 {
			select {
			case <-time.After(stall):
			case <-s.done:
				return
			}
		}
		if _, err := conn.Write(frame); err != nil {
			s.logger.Debug("发送图像失败", zap.Error(err))
		}
	case protocol.RequestShutdown:
		s.logger.Info("收到退出请求")
		s.once.Do(func() {
			close(s.done)
			s.lis.Close()
		})
	}
}
