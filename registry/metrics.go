package registry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/splice/fragment"
)

// Build results recorded in splice_plan_builds_total.
const (
	ResultInstalled = "installed"
	ResultRejected  = "rejected"
)

type metrics struct {
	builds    *prometheus.CounterVec
	fragments *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splice_plan_builds_total",
			Help: "Plan builds per target, by result.",
		}, []string{"target", "result"}),
		fragments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "splice_fragments",
			Help: "Fragments registered per target and kind.",
		}, []string{"target", "kind"}),
	}

	if reg != nil {
		m.builds = register(reg, m.builds)
		m.fragments = register(reg, m.fragments)
	}

	return m
}

// register adds c to reg. Registries built against the same registerer share
// the collectors registered first.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}

	panic(err)
}

func (m *metrics) observeBuild(target string, err error) {
	result := ResultInstalled
	if err != nil {
		result = ResultRejected
	}

	m.builds.WithLabelValues(target, result).Inc()
}

func (m *metrics) observeSet(set *fragment.Set) {
	for _, k := range fragment.Kinds() {
		m.fragments.WithLabelValues(set.Target(), k.String()).Set(float64(set.Len(k)))
	}
}
