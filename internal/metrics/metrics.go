package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the dispatch engine collectors. A nil *Metrics records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	matches      *prometheus.CounterVec
	routes       *prometheus.CounterVec
	steps        *prometheus.CounterVec
	routeLatency prometheus.Histogram
}

// New registers the collectors on reg (the default registerer when nil).
// Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	matches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_matches_total",
		Help: "Emergency matching outcomes by service type",
	}, []string{"service_type", "outcome"})
	routes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_requests_total",
		Help: "Routes produced, by source (external, cache, synthetic)",
	}, []string{"source"})
	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulation_steps_total",
		Help: "Movement simulation steps by resulting status",
	}, []string{"status"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "external_route_latency_seconds",
		Help:    "Latency of external routing service calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	})

	var err error
	if matches, err = register(reg, matches); err != nil {
		return nil, err
	}
	if routes, err = register(reg, routes); err != nil {
		return nil, err
	}
	if steps, err = register(reg, steps); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	return &Metrics{matches: matches, routes: routes, steps: steps, routeLatency: latency}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) RecordMatch(serviceType, outcome string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(serviceType, outcome).Inc()
}

func (m *Metrics) RecordRoute(source string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordStep(status string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRouteLatency(seconds float64) {
	if m == nil {
		return
	}
	m.routeLatency.Observe(seconds)
}
