package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	robot "github.com/transairobot/legctl"
	"github.com/transairobot/legctl/console"
	"github.com/transairobot/legctl/status"
	"github.com/transairobot/legctl/telemetry"
)

var (
	version = "dev"
	commit  = "none"
)

type options struct {
	conf     robot.Config
	logLevel string
	dev      bool
	headless bool
	hold     time.Duration
	display  time.Duration
}

func main() {
	root := rootCmd()
	root.AddCommand(watchCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := options{conf: robot.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "teleop",
		Short: "Drive a legged robot from the terminal",
		Long: `teleop sends a 2-byte command packet to the robot over UDP at a fixed rate
and pulls camera frames over TCP, one connection per frame.

Keys:
  s/w      forward/backward
  a/d      strafe left/right
  e/q      turn left/right
  , .      camera pan right/left
  1-9      buttons (move mode, gripper, stride, incline)
  x        quit

Examples:
  teleop --serverip 192.168.4.1
  teleop --serverip 192.168.4.1 --status-addr :9100 --mirror-addr :4433`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTeleop(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.conf.ServerIP, "serverip", "", "Robot IPv4 address (required)")
	f.IntVar(&opts.conf.CommandPort, "command-port", opts.conf.CommandPort, "Robot UDP command port")
	f.IntVar(&opts.conf.ImagePort, "image-port", opts.conf.ImagePort, "Robot TCP image port")
	f.DurationVar(&opts.conf.ConnectTimeout, "connect-timeout", opts.conf.ConnectTimeout, "Image connection timeout")
	f.DurationVar(&opts.conf.ReadTimeout, "read-timeout", opts.conf.ReadTimeout, "Image read timeout")
	f.DurationVar(&opts.conf.SendTimeout, "send-timeout", opts.conf.SendTimeout, "Command send timeout")
	f.IntVar(&opts.conf.FrameRate, "frame-rate", opts.conf.FrameRate, "Maximum image requests per second")
	f.IntVar(&opts.conf.CommandRate, "command-rate", opts.conf.CommandRate, "Command packets per second")
	f.IntVar(&opts.conf.MaxFrameBytes, "max-frame-bytes", opts.conf.MaxFrameBytes, "Largest accepted encoded frame")
	f.StringVar(&opts.conf.StatusAddr, "status-addr", "", "HTTP status listen address (disabled when empty)")
	f.StringVar(&opts.conf.Telemetry.Addr, "mirror-addr", "", "QUIC telemetry mirror listen address (disabled when empty)")
	f.StringVar(&opts.conf.Telemetry.CertFile, "cert", "", "Mirror TLS certificate (self-signed when empty)")
	f.StringVar(&opts.conf.Telemetry.PrivateFile, "key", "", "Mirror TLS private key")
	f.IntVar(&opts.conf.Telemetry.Frequency, "mirror-frequency", opts.conf.Telemetry.Frequency, "Suggested observer polls per second")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&opts.dev, "dev", false, "Development log format")
	f.BoolVar(&opts.headless, "headless", false, "Do not read keys from stdin")
	f.DurationVar(&opts.hold, "hold-timeout", console.DefaultHoldTimeout, "Release a key after this long without repeat")
	f.DurationVar(&opts.display, "display-interval", time.Second, "How often loss and latency are logged")
	cmd.MarkFlagRequired("serverip")

	return cmd
}

func runTeleop(opts *options) error {
	// 参数错误时在打开任何套接字之前退出
	if err := opts.conf.Validate(); err != nil {
		return err
	}

	raw := !opts.headless && term.IsTerminal(int(os.Stdin.Fd()))
	logger, err := newLogger(opts.logLevel, opts.dev, raw)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	t, err := robot.NewTeleop(opts.conf,
		robot.WithMetrics(metrics),
		robot.WithDisplay(console.NewLogDisplay(logger, opts.display)),
	)
	if err != nil {
		return err
	}
	stop := t.StopFlag()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			stop.Stop()
		case <-stop.Done():
		}
	}()

	var statusSrv *status.Server
	if opts.conf.StatusAddr != "" {
		statusSrv = status.NewServer(statusProvider(t), reg, status.DefaultPushInterval)
		if err := statusSrv.Start(opts.conf.StatusAddr); err != nil {
			t.Close()
			return fmt.Errorf("status server: %w", err)
		}
	}

	if !opts.headless {
		driver := console.NewDriver(t.Input(), stop, opts.hold)
		go func() {
			if err := driver.Run(); err != nil {
				logger.Error("读取按键失败", zap.Error(err))
				stop.Stop()
			}
		}()
	}

	runErr := t.Run()

	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("关闭状态服务失败", zap.Error(err))
		}
	}
	return runErr
}

func statusProvider(t *robot.Teleop) status.Provider {
	return func() status.Status {
		return status.Status{
			SessionID:   t.SessionID(),
			StreamState: t.StreamState().String(),
			LastCommand: t.LastCommand().String(),
			Health:      t.Snapshot().Health(),
			Stats:       t.Stats(),
			Observers:   t.Observers(),
		}
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("teleop %s (%s)\n", version, commit)
		},
	}
}
