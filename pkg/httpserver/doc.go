// Package httpserver runs the billingsync ops endpoint: health probes,
// Prometheus metrics and the subscription API mounted by cmd/billingsync.
//
// Server owns one listener and shuts down gracefully when the Run context is
// cancelled. Signal handling belongs to the caller, usually through
// signal.NotifyContext in main.
//
// # Usage
//
//	srv := httpserver.New(cfg, router,
//		httpserver.WithLogger(log),
//	)
//	if err := srv.Run(ctx); err != nil {
//		log.Error("ops server stopped", logger.Error(err))
//	}
//
// HealthHandler aggregates named probes, for example the Redis lock backend:
//
//	r.Get("/readyz", httpserver.HealthHandler(log, map[string]httpserver.Probe{
//		"redis": lock.Healthcheck(client),
//	}))
//
// # Errors
//
// Run wraps listen failures with ErrStart and shutdown failures with
// ErrShutdown.
package httpserver
