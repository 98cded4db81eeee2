// Package monitor turns connection lifecycle events into metrics.
//
// A Collector is fed from the manager's observer callback. Fanout lets
// the collector share that single callback with the history recorder,
// the MQTT publisher and the InfluxDB writer.
package monitor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// Observer receives lifecycle events.
type Observer func(ev tds.LifecycleEvent)

// Fanout returns an observer that calls each non-nil observer in order.
func Fanout(observers ...Observer) func(tds.LifecycleEvent) {
	active := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			active = append(active, o)
		}
	}
	return func(ev tds.LifecycleEvent) {
		for _, o := range active {
			o(ev)
		}
	}
}

// Collector records lifecycle metrics. Calls are made inline with the
// manager's observer and must be cheap.
type Collector interface {
	Observe(ev tds.LifecycleEvent)
	SetTracked(n int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) Observe(tds.LifecycleEvent) {}
func (noopCollector) SetTracked(int)             {}

// outcomeSuccess labels successful handshakes.
const outcomeSuccess = "success"

// PrometheusCollector exposes lifecycle metrics via Prometheus.
type PrometheusCollector struct {
	attempts    *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	disconnects prometheus.Counter
	probes      prometheus.Counter
	handshake   *prometheus.HistogramVec
	tracked     prometheus.Gauge
}

// NewPrometheusCollector registers the metrics with reg, reusing any
// that are already registered. A nil reg means the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdsconn_connect_attempts_total",
		Help: "Connect attempts by outcome: success or the failure kind.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	evictions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tdsconn_evictions_total",
		Help: "Established connections evicted after a socket failure, by kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	disconnects, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tdsconn_disconnects_total",
		Help: "Connections closed through Disconnect.",
	}))
	if err != nil {
		return nil, err
	}
	probes, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tdsconn_probes_total",
		Help: "Successful reachability probes.",
	}))
	if err != nil {
		return nil, err
	}
	handshake, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdsconn_handshake_duration_seconds",
		Help:    "Time from connect start to the settled outcome.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30},
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	tracked, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tdsconn_tracked_connections",
		Help: "Handles currently held by the pool.",
	}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		attempts:    attempts,
		evictions:   evictions,
		disconnects: disconnects,
		probes:      probes,
		handshake:   handshake,
		tracked:     tracked,
	}, nil
}

// register registers c, or returns the existing collector of the same
// type if one with the same descriptor is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Observe updates the counters for ev.
func (p *PrometheusCollector) Observe(ev tds.LifecycleEvent) {
	if p == nil {
		return
	}
	switch ev.Type {
	case tds.LifecycleConnected:
		p.attempts.WithLabelValues(outcomeSuccess).Inc()
		p.handshake.WithLabelValues(outcomeSuccess).Observe(seconds(ev.Duration))
	case tds.LifecycleConnectFailed:
		p.attempts.WithLabelValues(string(ev.Kind)).Inc()
		p.handshake.WithLabelValues(string(ev.Kind)).Observe(seconds(ev.Duration))
	case tds.LifecycleEvicted:
		p.evictions.WithLabelValues(string(ev.Kind)).Inc()
	case tds.LifecycleDisconnected:
		p.disconnects.Inc()
	case tds.LifecycleProbed:
		p.probes.Inc()
		p.handshake.WithLabelValues(outcomeSuccess).Observe(seconds(ev.Duration))
	}
}

// SetTracked updates the tracked-connections gauge.
func (p *PrometheusCollector) SetTracked(n int) {
	if p == nil {
		return
	}
	p.tracked.Set(float64(n))
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
