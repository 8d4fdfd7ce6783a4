// Package metrics exposes Prometheus instrumentation for simulation runs
// and their event sinks.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the simulator's Prometheus metrics. A nil *Collector is
// valid and records nothing, so callers never need to guard it.
type Collector struct {
	gatherer prometheus.Gatherer

	EventsPublished *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	Deposits        *prometheus.CounterVec
	ContainerFill   *prometheus.GaugeVec
	Timesteps       prometheus.Counter
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	published, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simcity_events_published_total",
		Help: "Status events delivered to a sink, labeled by sink and event kind.",
	}, []string{"sink", "event"}), "simcity_events_published_total")
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simcity_publish_failures_total",
		Help: "Status events a sink failed to deliver.",
	}, []string{"sink"}), "simcity_publish_failures_total")
	if err != nil {
		return nil, err
	}

	deposits, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simcity_deposits_total",
		Help: "Deposits applied to a container.",
	}, []string{"location", "container"}), "simcity_deposits_total")
	if err != nil {
		return nil, err
	}

	fill, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simcity_container_fill_pct",
		Help: "Current fill percentage of a container.",
	}, []string{"location", "container"}), "simcity_container_fill_pct")
	if err != nil {
		return nil, err
	}

	timesteps, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simcity_timesteps_total",
		Help: "Simulation timesteps completed.",
	}), "simcity_timesteps_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		EventsPublished: published,
		PublishFailures: failures,
		Deposits:        deposits,
		ContainerFill:   fill,
		Timesteps:       timesteps,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePublish records one delivery attempt to sink.
func (c *Collector) ObservePublish(sink, kind string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.PublishFailures.WithLabelValues(sink).Inc()
		return
	}
	c.EventsPublished.WithLabelValues(sink, kind).Inc()
}

// ObserveFill sets the fill gauge for a container.
func (c *Collector) ObserveFill(location, container string, fillPct int) {
	if c == nil {
		return
	}
	c.ContainerFill.WithLabelValues(location, container).Set(float64(fillPct))
}

// ObserveDeposit counts a deposit and updates the container's fill gauge.
func (c *Collector) ObserveDeposit(location, container string, newFillPct int) {
	if c == nil {
		return
	}
	c.Deposits.WithLabelValues(location, container).Inc()
	c.ObserveFill(location, container, newFillPct)
}

// ObserveTimestep counts a completed timestep.
func (c *Collector) ObserveTimestep() {
	if c == nil {
		return
	}
	c.Timesteps.Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
