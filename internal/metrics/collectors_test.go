// =============================================================================
// 文件: internal/metrics/collectors_test.go
// 描述: 接收端收集器测试
// =============================================================================
package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/srt-go/internal/receiver"
)

type fakeStats struct {
	stats receiver.Stats
	conns int64
	drops uint64
}

func (f *fakeStats) AggregateStats() receiver.Stats { return f.stats }
func (f *fakeStats) ConnCount() int64               { return f.conns }
func (f *fakeStats) RouteDrops() uint64             { return f.drops }

func TestReceiverCollectorGather(t *testing.T) {
	provider := &fakeStats{
		stats: receiver.Stats{
			PacketsReceived: 100,
			DataReceived:    90,
			AcksSent:        10,
			NaksSent:        2,
			Delivered:       85,
			LossListLen:     3,
			RTT:             25000, // µs
		},
		conns: 2,
		drops: 1,
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(NewReceiverCollector(provider)); err != nil {
		t.Fatalf("注册收集器失败: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("采集失败: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				got[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	checks := map[string]float64{
		"srt_receiver_packets_total":      100,
		"srt_receiver_data_packets_total": 90,
		"srt_receiver_acks_sent_total":    10,
		"srt_receiver_naks_sent_total":    2,
		"srt_receiver_delivered_total":    85,
		"srt_receiver_loss_list_length":   3,
		"srt_receiver_connections":        2,
		"srt_receiver_route_drops_total":  1,
		"srt_receiver_rtt_seconds":        0.025,
	}
	for name, want := range checks {
		if got[name] != want {
			t.Errorf("%s = %v，期望 %v", name, got[name], want)
		}
	}
}

func TestMetricsServerHealthEndpoints(t *testing.T) {
	s := NewMetricsServer(":0", "/metrics", "/health", false)

	t.Run("存活探针跟随分流循环", func(t *testing.T) {
		// 未绑定运行检查时默认存活
		rec := httptest.NewRecorder()
		s.handleLiveness(rec, httptest.NewRequest("GET", "/health/live", nil))
		if rec.Code != 200 {
			t.Errorf("存活探针状态码 = %d，期望 200", rec.Code)
		}

		running := false
		s.SetRunCheck(func() bool { return running })
		rec = httptest.NewRecorder()
		s.handleLiveness(rec, httptest.NewRequest("GET", "/health/live", nil))
		if rec.Code != 503 {
			t.Errorf("分流循环停止后状态码 = %d，期望 503", rec.Code)
		}

		running = true
		rec = httptest.NewRecorder()
		s.handleLiveness(rec, httptest.NewRequest("GET", "/health/live", nil))
		if rec.Code != 200 {
			t.Errorf("分流循环运行时状态码 = %d，期望 200", rec.Code)
		}
	})

	t.Run("就绪探针跟随健康检查", func(t *testing.T) {
		s.SetHealthCheck(func() HealthStatus {
			return HealthStatus{Status: "healthy"}
		})
		rec := httptest.NewRecorder()
		s.handleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
		if rec.Code != 200 {
			t.Errorf("就绪探针状态码 = %d，期望 200", rec.Code)
		}

		s.SetHealthCheck(func() HealthStatus {
			return HealthStatus{Status: "unhealthy"}
		})
		rec = httptest.NewRecorder()
		s.handleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
		if rec.Code != 503 {
			t.Errorf("不健康时就绪状态码 = %d，期望 503", rec.Code)
		}
	})

	t.Run("分流循环停止时不就绪", func(t *testing.T) {
		s.SetHealthCheck(func() HealthStatus {
			return HealthStatus{Status: "healthy"}
		})
		s.SetRunCheck(func() bool { return false })
		rec := httptest.NewRecorder()
		s.handleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
		if rec.Code != 503 {
			t.Errorf("分流循环停止后就绪状态码 = %d，期望 503", rec.Code)
		}
	})
}
