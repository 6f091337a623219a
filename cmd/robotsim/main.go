package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transairobot/legctl/protocol"
	"github.com/transairobot/legctl/sim"
)

type options struct {
	host      string
	cmdPort   int
	imagePort int
	width     int
	height    int
	rate      int
	jpeg      bool
	stall     time.Duration
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "robotsim",
		Short: "Simulate the robot's command and image endpoints",
		Long: `robotsim listens for 2-byte UDP command packets and serves
test-pattern frames over TCP, one frame per connection, so teleop can
run without hardware.

Examples:
  robotsim
  robotsim --jpeg --width 640 --height 480`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&opts.host, "host", "0.0.0.0", "Address to bind to")
	f.IntVar(&opts.cmdPort, "command-port", protocol.CommandPort, "UDP command port")
	f.IntVar(&opts.imagePort, "image-port", protocol.ImagePort, "TCP image port")
	f.IntVar(&opts.width, "width", 320, "Frame width")
	f.IntVar(&opts.height, "height", 240, "Frame height")
	f.IntVar(&opts.rate, "rate", 10, "How often the test pattern moves, per second")
	f.BoolVar(&opts.jpeg, "jpeg", false, "Serve JPEG instead of PNG")
	f.DurationVar(&opts.stall, "stall", 0, "Delay before each frame is written")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	if opts.width <= 0 || opts.height <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", opts.width, opts.height)
	}
	if opts.rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d", opts.rate)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	format := sim.FormatPNG
	if opts.jpeg {
		format = sim.FormatJPEG
	}

	images, err := sim.NewImageServer(fmt.Sprintf("%s:%d", opts.host, opts.imagePort))
	if err != nil {
		return fmt.Errorf("image server: %w", err)
	}
	defer images.Close()
	images.SetStall(opts.stall)

	commands, err := sim.NewCommandListener(fmt.Sprintf("%s:%d", opts.host, opts.cmdPort), 64)
	if err != nil {
		return fmt.Errorf("command listener: %w", err)
	}
	defer commands.Close()

	frame, err := sim.TestPattern(opts.width, opts.height, 0, format)
	if err != nil {
		return err
	}
	images.SetFrame(frame)

	images.Start()
	commands.Start()
	logger.Info("模拟机器人已启动",
		zap.Stringer("image", images.Addr()),
		zap.Stringer("command", commands.Addr()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()

	var last protocol.Packet
	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			logger.Info("收到信号，退出")
			return nil
		case <-images.Done():
			logger.Info("收到关闭请求，退出")
			return nil
		case p, ok := <-commands.Commands():
			if !ok {
				return nil
			}
			if p != last {
				logger.Info("命令变化", zap.Stringer("packet", p), zap.Stringer("command", sim.Interpret(p)))
				last = p
			}
		case <-ticker.C:
			frame, err := sim.TestPattern(opts.width, opts.height, seq, format)
			if err != nil {
				return err
			}
			images.SetFrame(frame)
		}
	}
}
