package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	robot "github.com/transairobot/legctl"
)

func watchCmd() *cobra.Command {
	var (
		mirror   string
		frames   bool
		count    int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Observe a running teleop session through its telemetry mirror",
		Long: `watch connects to the QUIC telemetry mirror of a running teleop
and prints packet loss and frame latency at the rate the session suggests.

Examples:
  teleop watch --mirror 10.0.0.5:4433
  teleop watch --mirror 10.0.0.5:4433 --frames --count 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel, false, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)
			return runWatch(mirror, frames, count)
		},
	}

	cmd.Flags().StringVar(&mirror, "mirror", "", "Telemetry mirror address host:port (required)")
	cmd.Flags().BoolVar(&frames, "frames", false, "Also fetch the RGB frame")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many reports (0 = until interrupted)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.MarkFlagRequired("mirror")

	return cmd
}

func runWatch(addr string, frames bool, count int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	client, err := robot.DialTelemetry(dialCtx, addr)
	dialCancel()
	if err != nil {
		return err
	}
	defer client.Close()

	conf, err := client.Config(ctx)
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	logger := zap.L().With(zap.String("session", conf.SessionID))
	logger.Info("已连接遥测镜像",
		zap.String("robot", conf.ServerIP),
		zap.Uint16("command_port", conf.CommandPort),
		zap.Uint16("image_port", conf.ImagePort),
		zap.Uint32("frequency", conf.Frequency))

	freq := conf.Frequency
	if freq == 0 {
		freq = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(freq))
	defer ticker.Stop()

	for n := 0; count == 0 || n < count; n++ {
		report, err := client.Telemetry(ctx, frames)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("get telemetry: %w", err)
		}

		fields := []zap.Field{
			zap.Uint64("seq", report.Sequence),
			zap.Uint32("width", report.Width),
			zap.Uint32("height", report.Height),
			zap.Uint64("total", report.TotalAttempts),
			zap.Uint64("failed", report.FailedAttempts),
		}
		if report.Frame != nil {
			fields = append(fields, zap.Int("frame_bytes", len(report.Frame.Data)))
		}
		logger.Info(fmt.Sprintf("Packet Loss %.1f %% | Image time %.1f ms",
			report.PacketLossPercent, report.LastFrameLatencyMs), fields...)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
