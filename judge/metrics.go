package judge

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	verdicts      *prometheus.CounterVec
	checkDuration prometheus.Histogram
	sandboxOps    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqljudge",
			Name:      "verdicts_total",
			Help:      "Verdicts written, by status.",
		}, []string{"status"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sqljudge",
			Name:      "check_duration_seconds",
			Help:      "Wall time of a submission check.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sandboxOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqljudge",
			Name:      "sandbox_operations_total",
			Help:      "Sandbox databases created, recreated and dropped.",
		}, []string{"dbms", "operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.verdicts, m.checkDuration, m.sandboxOps)
	}
	return m
}
