// Package metrics exposes Prometheus collectors for billingsync.
//
// A single Collector implements both gateway.Observer, which receives one
// event per gateway call from gateway.Instrument, and subscription.Metrics,
// which receives store level events such as sync retries and stale
// discards. All series live under the "billingsync" namespace unless
// WithNamespace says otherwise.
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	m, err := metrics.New(reg)
//	if err != nil {
//		return err
//	}
//
//	gw := gateway.Instrument(stripeGateway, gateway.WithObserver(m))
//	store := subscription.NewStore(gw, subscription.WithMetrics(m))
//
//	r := chi.NewRouter()
//	r.Handle("/metrics", metrics.Handler(reg))
//
// # Series
//
//   - gateway_call_duration_seconds{op,outcome}
//   - gateway_errors_total{op,kind}
//   - sync_retries_total
//   - stale_discards_total{source}
//   - operations_total{op,outcome}
//   - tracked_subscriptions
package metrics
