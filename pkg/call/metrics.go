/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 *
 * Prometheus 指标
 * 方法对 nil *Metrics 安全，未配置时不采集
 */
package call

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EndReason 通话结束原因
type EndReason string

const (
	EndReasonLocal    EndReason = "local"
	EndReasonRemote   EndReason = "remote"
	EndReasonRejected EndReason = "rejected"
	EndReasonTimeout  EndReason = "timeout"
	EndReasonFailed   EndReason = "failed"
	EndReasonClosed   EndReason = "closed"
	// 双方同时呼叫，本端的外呼让位给对端
	EndReasonGlare EndReason = "glare"
)

// Metrics 通话指标
type Metrics struct {
	CallsStarted   prometheus.Counter
	CallsReceived  prometheus.Counter
	CallsConnected prometheus.Counter
	CallsEnded     *prometheus.CounterVec
	StaleDropped   prometheus.Counter
	Duration       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg (nil skips
// registration)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "call_core",
			Name:      "calls_started_total",
			Help:      "Outgoing calls started.",
		}),
		CallsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "call_core",
			Name:      "calls_received_total",
			Help:      "Incoming calls that started ringing.",
		}),
		CallsConnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "call_core",
			Name:      "calls_connected_total",
			Help:      "Calls that reached the connected state.",
		}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_core",
			Name:      "calls_ended_total",
			Help:      "Calls torn down, by reason.",
		}, []string{"reason"}),
		StaleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "call_core",
			Name:      "stale_events_dropped_total",
			Help:      "Signaling and transport events dropped because their call was gone.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "call_core",
			Name:      "call_duration_seconds",
			Help:      "Connected call duration.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CallsStarted, m.CallsReceived, m.CallsConnected, m.CallsEnded, m.StaleDropped, m.Duration)
	}
	return m
}

func (m *Metrics) started() {
	if m != nil {
		m.CallsStarted.Inc()
	}
}

func (m *Metrics) received() {
	if m != nil {
		m.CallsReceived.Inc()
	}
}

func (m *Metrics) connected() {
	if m != nil {
		m.CallsConnected.Inc()
	}
}

func (m *Metrics) ended(reason EndReason, duration int, wasConnected bool) {
	if m == nil {
		return
	}
	m.CallsEnded.WithLabelValues(string(reason)).Inc()
	if wasConnected {
		m.Duration.Observe(float64(duration))
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.StaleDropped.Inc()
	}
}
