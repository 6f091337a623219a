package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace 是所有指标的前缀
const Namespace = "legctl"

// Metrics 是图像流和命令通道的 prometheus 指标。
// nil *Metrics 的所有方法都是空操作，便于测试和无监控运行。
type Metrics struct {
	streamAttempts  prometheus.Counter
	streamFailures  prometheus.Counter
	streamTimeouts  prometheus.Counter
	streamMalformed prometheus.Counter
	framesPublished prometheus.Counter
	counterResets   prometheus.Counter
	packetLoss      prometheus.Gauge
	frameLatency    prometheus.Histogram
	frameBytes      prometheus.Histogram

	commandsSent    prometheus.Counter
	commandFailures prometheus.Counter
}

// NewMetrics 在 reg 上注册指标，reg 为 nil 时使用 prometheus.DefaultRegisterer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		streamAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "attempts_total",
			Help:      "Image requests attempted",
		}),
		streamFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "failures_total",
			Help:      "Image requests lost to connection errors",
		}),
		streamTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "timeouts_total",
			Help:      "Image requests that timed out",
		}),
		streamMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "malformed_total",
			Help:      "Image payloads that could not be decoded",
		}),
		framesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "frames_published_total",
			Help:      "Frames published to the telemetry snapshot",
		}),
		counterResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "counter_resets_total",
			Help:      "Times the loss counters were reset",
		}),
		packetLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "packet_loss_percent",
			Help:      "Current image stream packet loss",
		}),
		frameLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "frame_latency_ms",
			Help:      "Request to decoded frame latency in milliseconds",
			Buckets:   []float64{10, 20, 40, 80, 160, 320, 640, 1280, 5000},
		}),
		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "frame_bytes",
			Help:      "Encoded frame size in bytes",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 7), // 4KB to 16MB
		}),
		commandsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "command",
			Name:      "packets_sent_total",
			Help:      "Command packets written to the UDP socket",
		}),
		commandFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "command",
			Name:      "send_failures_total",
			Help:      "Command packets that failed to send",
		}),
	}
}

func (m *Metrics) StreamAttempt() {
	if m == nil {
		return
	}
	m.streamAttempts.Inc()
}

func (m *Metrics) StreamFailure() {
	if m == nil {
		return
	}
	m.streamFailures.Inc()
}

func (m *Metrics) StreamTimeout() {
	if m == nil {
		return
	}
	m.streamTimeouts.Inc()
}

func (m *Metrics) StreamMalformed() {
	if m == nil {
		return
	}
	m.streamMalformed.Inc()
}

func (m *Metrics) CounterReset() {
	if m == nil {
		return
	}
	m.counterResets.Inc()
}

// FramePublished 记录一帧的大小和延迟
func (m *Metrics) FramePublished(encodedBytes int, latencyMs float64) {
	if m == nil {
		return
	}
	m.framesPublished.Inc()
	m.frameBytes.Observe(float64(encodedBytes))
	m.frameLatency.Observe(latencyMs)
}

func (m *Metrics) SetPacketLoss(percent float64) {
	if m == nil {
		return
	}
	m.packetLoss.Set(percent)
}

func (m *Metrics) CommandSent() {
	if m == nil {
		return
	}
	m.commandsSent.Inc()
}

func (m *Metrics) CommandFailed() {
	if m == nil {
		return
	}
	m.commandFailures.Inc()
}
