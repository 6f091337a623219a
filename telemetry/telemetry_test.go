package telemetry

import (
	"bytes"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestStatsLossPercent(t *testing.T) {
	var s Stats
	if s.LossPercent() != 0 {
		t.Fatalf("空计数应为0, 得到 %f", s.LossPercent())
	}

	for i := 0; i < 50; i++ {
		s.Attempt()
		if i%5 == 4 {
			s.Fail()
		}
	}
	if got := s.LossPercent(); got != 20 {
		t.Errorf("得到 %f, 期望 20", got)
	}
}

func TestStatsZeroFailures(t *testing.T) {
	var s Stats
	for i := 0; i < 100; i++ {
		s.Attempt()
		s.Timeout()
	}
	if s.LossPercent() != 0 {
		t.Errorf("超时不计入丢包, 得到 %f", s.LossPercent())
	}
	if s.Timeouts != 100 {
		t.Errorf("超时次数: 得到 %d", s.Timeouts)
	}
}

func TestStatsReset(t *testing.T) {
	var s Stats
	for i := 0; i < ResetThreshold; i++ {
		s.Attempt()
		s.Fail()
		if s.MaybeReset() {
			t.Fatalf("第 %d 次不应清零", i+1)
		}
	}

	s.Attempt()
	s.Timeout()
	if !s.MaybeReset() {
		t.Fatal("超过阈值应清零")
	}
	if s.Total != 0 || s.Failed != 0 {
		t.Errorf("清零后: total=%d failed=%d", s.Total, s.Failed)
	}
	if s.Timeouts != 1 {
		t.Errorf("超时计数不参与清零: 得到 %d", s.Timeouts)
	}
}

func TestSnapshotPublishAndView(t *testing.T) {
	snap := NewSnapshot()
	if snap.View().HasFrame() {
		t.Fatal("初始不应有帧")
	}

	pixels := []byte{1, 2, 3, 4, 5, 6}
	snap.Publish(pixels, 2, 1, 12.5, 40)

	v := snap.View()
	if !v.HasFrame() || v.Frame.Width != 2 || v.Frame.Height != 1 {
		t.Fatalf("得到 %+v", v.Frame)
	}
	if v.PacketLossPercent != 12.5 || v.LastFrameLatencyMs != 40 {
		t.Errorf("指标: 得到 %f %f", v.PacketLossPercent, v.LastFrameLatencyMs)
	}

	// 副本与内部状态无关
	v.Frame.Pixels[0] = 99
	if snap.View().Frame.Pixels[0] != 1 {
		t.Error("View 应返回深拷贝")
	}
}

func TestSnapshotUpdateLossKeepsFrame(t *testing.T) {
	snap := NewSnapshot()
	snap.Publish([]byte{9, 9, 9}, 1, 1, 0, 30)
	frameSeq := snap.View().FrameSeq

	snap.UpdateLoss(50)
	v := snap.View()
	if v.PacketLossPercent != 50 {
		t.Errorf("丢包率: 得到 %f", v.PacketLossPercent)
	}
	if v.LastFrameLatencyMs != 30 || v.FrameSeq != frameSeq || !bytes.Equal(v.Frame.Pixels, []byte{9, 9, 9}) {
		t.Errorf("帧和延迟不应改变: %+v", v)
	}
	if v.Seq == frameSeq {
		t.Error("UpdateLoss 应递增序号")
	}
}

func TestSnapshotClamp(t *testing.T) {
	snap := NewSnapshot()
	snap.Publish(nil, 0, 0, 150, -3)
	h := snap.Health()
	if h.PacketLossPercent != 100 || h.LastFrameLatencyMs != 0 {
		t.Errorf("得到 %+v", h)
	}
}

func TestSnapshotViewSince(t *testing.T) {
	snap := NewSnapshot()
	if _, ok := snap.ViewSince(0); ok {
		t.Fatal("没有发布时不应返回")
	}
	snap.Publish([]byte{1, 1, 1}, 1, 1, 0, 1)
	v, ok := snap.ViewSince(0)
	if !ok {
		t.Fatal("发布后应返回")
	}
	if _, ok := snap.ViewSince(v.Seq); ok {
		t.Error("同一序号不应重复返回")
	}
}

// 并发读者永远不会看到一次发布的尺寸配上另一次发布的像素
func TestSnapshotAtomicUpdate(t *testing.T) {
	snap := NewSnapshot()
	const rounds = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rounds; i++ {
			w := i%16 + 1
			h := i%7 + 1
			pixels := bytes.Repeat([]byte{byte(i)}, w*h*3)
			snap.Publish(pixels, w, h, float64(i%100), float64(i))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				v := snap.View()
				if !v.HasFrame() {
					continue
				}
				f := v.Frame
				if len(f.Pixels) != f.Width*f.Height*3 {
					t.Errorf("尺寸 %dx%d 与像素长度 %d 不一致", f.Width, f.Height, len(f.Pixels))
					return
				}
				// 延迟等于写入轮次，像素内容也必须来自同一轮
				want := byte(int(v.LastFrameLatencyMs))
				for _, p := range f.Pixels {
					if p != want {
						t.Errorf("像素 %d 与延迟 %f 来自不同发布", p, v.LastFrameLatencyMs)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func metricValue(t *testing.T, c prometheus.Metric) *dto.Metric {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() 失败: %v", err)
	}
	return &m
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.StreamAttempt()
	m.StreamAttempt()
	m.StreamFailure()
	m.SetPacketLoss(50)
	m.FramePublished(2048, 35)
	m.CommandSent()

	if got := metricValue(t, m.streamAttempts).GetCounter().GetValue(); got != 2 {
		t.Errorf("attempts: 得到 %f", got)
	}
	if got := metricValue(t, m.packetLoss).GetGauge().GetValue(); got != 50 {
		t.Errorf("loss: 得到 %f", got)
	}
	if got := metricValue(t, m.frameLatency).GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("latency 样本数: 得到 %d", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather 失败: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "legctl_command_packets_sent_total" {
			found = true
		}
	}
	if !found {
		t.Error("没有找到 legctl_command_packets_sent_total")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.StreamAttempt()
	m.StreamFailure()
	m.StreamTimeout()
	m.StreamMalformed()
	m.CounterReset()
	m.FramePublished(1, 1)
	m.SetPacketLoss(1)
	m.CommandSent()
	m.CommandFailed()
}
