package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

const defaultNamespace = "billingsync"

// Option configures New.
type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
}

// WithNamespace overrides the metric namespace.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithBuckets overrides the gateway latency histogram buckets.
func WithBuckets(buckets ...float64) Option {
	return func(o *options) {
		if len(buckets) > 0 {
			o.buckets = buckets
		}
	}
}

// Collector records gateway and subscription store metrics.
type Collector struct {
	gatewayCalls  *prometheus.HistogramVec
	gatewayErrors *prometheus.CounterVec
	syncRetries   prometheus.Counter
	staleDiscards *prometheus.CounterVec
	operations    *prometheus.CounterVec
	tracked       prometheus.Gauge
}

// New creates a Collector and registers its series with reg.
func New(reg prometheus.Registerer, opts ...Option) (*Collector, error) {
	o := &options{
		namespace: defaultNamespace,
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Collector{
		gatewayCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: o.namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Payment gateway call latency in seconds.",
				Buckets:   o.buckets,
			},
			[]string{"op", "outcome"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "gateway_errors_total",
				Help:      "Failed payment gateway calls by error kind.",
			},
			[]string{"op", "kind"},
		),
		syncRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "sync_retries_total",
				Help:      "Status fetches retried after a transient failure.",
			},
		),
		staleDiscards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "stale_discards_total",
				Help:      "Async results dropped because the record version moved on.",
			},
			[]string{"source"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "operations_total",
				Help:      "Lifecycle and checkout operations by outcome.",
			},
			[]string{"op", "outcome"},
		),
		tracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "tracked_subscriptions",
				Help:      "Subscriptions currently tracked by the store.",
			},
		),
	}

	for _, col := range []prometheus.Collector{
		c.gatewayCalls,
		c.gatewayErrors,
		c.syncRetries,
		c.staleDiscards,
		c.operations,
		c.tracked,
	} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Join(ErrRegisterCollector, err)
		}
	}

	return c, nil
}

// MustNew is like New but panics on registration failure.
func MustNew(reg prometheus.Registerer, opts ...Option) *Collector {
	c, err := New(reg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ObserveCall implements gateway.Observer.
func (c *Collector) ObserveCall(op string, kind gateway.Kind, d time.Duration) {
	outcome := OutcomeSuccess
	if kind != "" {
		outcome = OutcomeError
		c.gatewayErrors.WithLabelValues(op, string(kind)).Inc()
	}
	c.gatewayCalls.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// Tracked sets the number of tracked subscriptions.
func (c *Collector) Tracked(n int) {
	c.tracked.Set(float64(n))
}

// SyncRetry counts one retried status fetch.
func (c *Collector) SyncRetry() {
	c.syncRetries.Inc()
}

// StaleDiscard counts one result dropped by the version check.
func (c *Collector) StaleDiscard(source string) {
	c.staleDiscards.WithLabelValues(source).Inc()
}

// Operation counts one lifecycle or checkout operation.
func (c *Collector) Operation(op, outcome string) {
	c.operations.WithLabelValues(op, outcome).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
