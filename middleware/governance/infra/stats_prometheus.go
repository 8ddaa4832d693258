package infra

import (
	"context"

	"governance-gateway/middleware/governance/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as decisões como contador `governance_decisions_total`.
//
// Labels propositalmente sem key/path para não explodir cardinalidade.
type PrometheusStats struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	s := &PrometheusStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_decisions_total",
			Help: "Decisions taken by the traffic-governance pipeline.",
		}, []string{"stage", "outcome"}),
	}
	if reg != nil {
		if err := reg.Register(s.decisions); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	stage := string(ev.Stage)
	if stage == "" {
		stage = "none"
	}
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	s.decisions.WithLabelValues(stage, outcome).Inc()
	return nil
}
