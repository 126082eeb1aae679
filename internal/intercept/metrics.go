package intercept

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 流的结局
const (
	OutcomeHeld      = "held"
	OutcomePassed    = "passed"
	OutcomeForwarded = "forwarded"
	OutcomeEdited    = "edited"
	OutcomeDropped   = "dropped"
	OutcomeAbandoned = "abandoned"
	OutcomeReleased  = "released"
)

// Metrics 协调器指标
type Metrics struct {
	Flows *prometheus.CounterVec
	Held  prometheus.Gauge
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Flows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_flows_total",
				Help: "按结局统计的流数量",
			},
			[]string{"outcome"},
		),
		Held: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowgate_held_flows",
				Help: "当前挂起的流数量",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Flows, m.Held)
	}
	return m
}

func (m *Metrics) inc(outcome string) {
	if m == nil {
		return
	}
	m.Flows.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setHeld(n int) {
	if m == nil {
		return
	}
	m.Held.Set(float64(n))
}
