package robot

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/transairobot/legctl/sim"
)

func TestValidateServerIP(t *testing.T) {
	valid := []string{"192.168.1.20", "0.0.0.0", "255.255.255.255", "10.0.0.1"}
	for _, ip := range valid {
		if err := ValidateServerIP(ip); err != nil {
			t.Errorf("%q 应合法: %v", ip, err)
		}
	}

	invalid := []string{
		"", "192.168.1", "192.168.1.1.1", "256.1.1.1", "1.2.3.-4",
		"01.2.3.4", "192.168.01.1", "10.0.0.010", "a.b.c.d", "1..2.3", "localhost", "::1", " 1.2.3.4", "1.2.3.4 ",
	}
	for _, ip := range invalid {
		if err := ValidateServerIP(ip); !errors.Is(err, ErrInvalidServerIP) {
			t.Errorf("%q 应不合法, 得到 %v", ip, err)
		}
	}
}

// 校验通过的地址必须能被 net 解析成同一个 IPv4 地址；
// net 拒绝带前导零的八位组，校验也必须拒绝
func TestValidateServerIPAgreesWithNet(t *testing.T) {
	cases := []string{"192.168.1.20", "0.0.0.0", "255.255.255.255", "192.168.01.1", "010.0.0.1", "1.2.3.00"}
	for _, ip := range cases {
		parsed := net.ParseIP(ip)
		err := ValidateServerIP(ip)
		if (err == nil) != (parsed != nil && parsed.To4() != nil) {
			t.Errorf("%q: 校验结果 %v, net.ParseIP 得到 %v", ip, err, parsed)
		}
		if err == nil {
			conf := DefaultConfig()
			conf.ServerIP = ip
			if _, rerr := net.ResolveUDPAddr("udp4", conf.CommandAddr()); rerr != nil {
				t.Errorf("%q: 校验通过但无法解析: %v", ip, rerr)
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	conf := DefaultConfig()
	if err := conf.Validate(); !errors.Is(err, ErrInvalidServerIP) {
		t.Fatalf("缺少 serverip 应失败, 得到 %v", err)
	}

	conf.ServerIP = "192.168.1.20"
	if err := conf.Validate(); err != nil {
		t.Fatalf("默认配置应合法: %v", err)
	}
	if conf.CommandAddr() != "192.168.1.20:8080" || conf.ImageAddr() != "192.168.1.20:8090" {
		t.Errorf("端点: %s %s", conf.CommandAddr(), conf.ImageAddr())
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"端口越界", func(c *Config) { c.ImagePort = 70000 }},
		{"超时为0", func(c *Config) { c.ReadTimeout = 0 }},
		{"帧率为0", func(c *Config) { c.FrameRate = 0 }},
		{"命令频率为负", func(c *Config) { c.CommandRate = -1 }},
		{"帧上限为0", func(c *Config) { c.MaxFrameBytes = 0 }},
		{"只有证书", func(c *Config) { c.Telemetry.CertFile = "cert.pem" }},
		{"镜像频率为0", func(c *Config) { c.Telemetry.Addr = ":0"; c.Telemetry.Frequency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.ServerIP = "127.0.0.1"
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("期望校验失败")
			}
		})
	}

	if DefaultConfig().ConnectTimeout != 5*time.Second || DefaultConfig().SendTimeout != 500*time.Millisecond {
		t.Error("默认超时不正确")
	}
}

func TestDecodeRGB(t *testing.T) {
	for _, format := range []sim.Format{sim.FormatPNG, sim.FormatJPEG} {
		data, err := sim.TestPattern(16, 8, 0, format)
		if err != nil {
			t.Fatal(err)
		}
		pixels, w, h, err := decodeRGB(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		if w != 16 || h != 8 || len(pixels) != 16*8*3 {
			t.Errorf("得到 %dx%d, %d 字节", w, h, len(pixels))
		}
	}

	if _, _, _, err := decodeRGB(bytes.NewReader([]byte("GIF89a"))); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("期望 ErrMalformedFrame, 得到 %v", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{os.ErrDeadlineExceeded, FailureTimeout},
		{&net.OpError{Op: "dial", Err: timeoutErr{}}, FailureTimeout},
		{fmt.Errorf("read: %w", os.ErrDeadlineExceeded), FailureTimeout},
		{errors.New("connection reset by peer"), FailureConnection},
		{fmt.Errorf("%w: bad", ErrMalformedFrame), FailureMalformed},
		{ErrFrameTooLarge, FailureMalformed},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("%v: 得到 %s, 期望 %s", tt.err, got, tt.want)
		}
	}

	serr := newStreamError(StageConnect, os.ErrDeadlineExceeded)
	if !serr.IsTimeout() || !errors.Is(serr, os.ErrDeadlineExceeded) {
		t.Errorf("StreamError 应可展开: %v", serr)
	}
	if serr.Error() != "connect timeout: i/o timeout" {
		t.Errorf("得到 %q", serr.Error())
	}
}
