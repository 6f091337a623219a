package robot

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/transairobot/legctl/mem"
	"github.com/transairobot/legctl/protocol"
)

var ErrInvalidServerIP = errors.New("invalid server ip")

// Config 是遥控客户端的全部配置，只来自命令行参数
type Config struct {
	ServerIP    string
	CommandPort int
	ImagePort   int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SendTimeout    time.Duration

	// FrameRate 图像请求的频率上限，也用于节流重连
	FrameRate int
	// CommandRate 控制循环每秒发送命令包的次数
	CommandRate int
	// MaxFrameBytes 单帧编码数据上限
	MaxFrameBytes int

	// StatusAddr 非空时启动 HTTP 状态服务
	StatusAddr string
	Telemetry  TelemetryConfig
}

// TelemetryConfig 遥测镜像（QUIC）服务配置，Addr 为空时不启动
type TelemetryConfig struct {
	Addr        string
	CertFile    string
	PrivateFile string
	// Frequency 建议观察端每秒拉取的次数
	Frequency int
}

func DefaultConfig() Config {
	return Config{
		CommandPort:    protocol.CommandPort,
		ImagePort:      protocol.ImagePort,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		SendTimeout:    500 * time.Millisecond,
		FrameRate:      25,
		CommandRate:    50,
		MaxFrameBytes:  mem.DefaultMaxSize,
		Telemetry: TelemetryConfig{
			Frequency: 5,
		},
	}
}

// Validate 在打开任何套接字之前检查配置
func (c *Config) Validate() error {
	if err := ValidateServerIP(c.ServerIP); err != nil {
		return err
	}
	if err := validPort("command port", c.CommandPort); err != nil {
		return err
	}
	if err := validPort("image port", c.ImagePort); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"connect timeout": c.ConnectTimeout,
		"read timeout":    c.ReadTimeout,
		"send timeout":    c.SendTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %d", c.FrameRate)
	}
	if c.CommandRate <= 0 {
		return fmt.Errorf("command rate must be positive, got %d", c.CommandRate)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive, got %d", c.MaxFrameBytes)
	}
	if (c.Telemetry.CertFile == "") != (c.Telemetry.PrivateFile == "") {
		return errors.New("telemetry cert and key must be given together")
	}
	if c.Telemetry.Addr != "" && c.Telemetry.Frequency <= 0 {
		return fmt.Errorf("telemetry frequency must be positive, got %d", c.Telemetry.Frequency)
	}
	return nil
}

// CommandAddr 机器人命令端点
func (c *Config) CommandAddr() string {
	return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.CommandPort))
}

// ImageAddr 机器人图像端点
func (c *Config) ImageAddr() string {
	return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.ImagePort))
}

// ValidateServerIP 只接受 A.B.C.D 形式的点分十进制 IPv4，每段 0-255，不允许前导零
func ValidateServerIP(ip string) error {
	if ip == "" {
		return fmt.Errorf("%w: empty", ErrInvalidServerIP)
	}
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return fmt.Errorf("%w: %q is not a dotted quad", ErrInvalidServerIP, ip)
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 || (len(p) > 1 && p[0] == '0') {
			return fmt.Errorf("%w: bad octet %q in %q", ErrInvalidServerIP, p, ip)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return fmt.Errorf("%w: bad octet %q in %q", ErrInvalidServerIP, p, ip)
			}
		}
		if n, _ := strconv.Atoi(p); n > 255 {
			return fmt.Errorf("%w: octet %q out of range in %q", ErrInvalidServerIP, p, ip)
		}
	}
	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}
