package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/transairobot/legctl/protocol"
)

// TelemetryClient 连接遥测镜像的观察端
type TelemetryClient struct {
	conn   *quic.Conn
	logger *zap.Logger
}

// DialTelemetry 连接 addr 上的遥测镜像
func DialTelemetry(ctx context.Context, addr string) (*TelemetryClient, error) {
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), &quic.Config{
		MaxIdleTimeout:  3 * time.Minute,
		KeepAlivePeriod: 20 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial telemetry %s: %w", addr, err)
	}

	return &TelemetryClient{
		conn:   conn,
		logger: zap.L(),
	}, nil
}

// Config 获取会话配置
func (c *TelemetryClient) Config(ctx context.Context) (*protocol.MirrorConfig, error) {
	var conf protocol.MirrorConfig
	if err := c.request(ctx, protocol.GetConfig, nil, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Telemetry 获取最新遥测，includeFrame 为 true 时附带 RGB 帧
func (c *TelemetryClient) Telemetry(ctx context.Context, includeFrame bool) (*protocol.TelemetryReport, error) {
	var report protocol.TelemetryReport
	req := &protocol.TelemetryRequest{IncludeFrame: includeFrame}
	if err := c.request(ctx, protocol.GetTelemetry, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *TelemetryClient) request(ctx context.Context, handleID uint16, req, resp any) error {
	msg, err := protocol.NewPackMessage(handleID, req)
	if err != nil {
		return err
	}

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.CancelRead(0)

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	if _, err := msg.WriteTo(stream); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	stream.Close()

	response := protocol.NewMessage()
	if err := response.Decode(stream); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if response.HandleID != handleID {
		return fmt.Errorf("unexpected response handle id %d, expected %d", response.HandleID, handleID)
	}

	c.logger.Debug("请求完成", zap.Uint16("handler_id", handleID), zap.Int("body", len(response.Body)))
	return response.Unpack(resp)
}

func (c *TelemetryClient) Close() error {
	return c.conn.CloseWithError(0, "observer closed")
}
