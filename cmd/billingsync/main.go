// Command billingsync runs the subscription store against a billing gateway
// and exposes it over a small ops API with health and metrics endpoints.
//
// With BILLING_GATEWAY=demo (the default) it starts an in-memory gateway, so
//
//	BILLING_TRACK=sub_1,sub_2 go run ./cmd/billingsync
//
// is enough to try renew, cancel and checkout with curl.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/billingsync/pkg/config"
	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/metrics"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

type appConfig struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Service string `env:"APP_NAME" envDefault:"billingsync"`

	// Gateway selects the provider adapter: demo, http, stripe or paddle.
	Gateway string `env:"BILLING_GATEWAY" envDefault:"demo"`
	// Locker selects the lock backend: memory or redis.
	Locker string `env:"BILLING_LOCKER" envDefault:"memory"`
	// Track lists subscription ids tracked at startup.
	Track []string `env:"BILLING_TRACK" envSeparator:","`

	Store subscription.Config
	HTTP  httpserver.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()

	if err != nil {
		slog.Error("billingsync stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load[appConfig]()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Service),
		logger.WithContextExtractors(gateway.IdempotencyKeyExtractor),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}

	gw, gwProbes, closeGateway, err := newGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	locker, lockProbes, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	store := subscription.NewStore(
		gateway.Instrument(gw,
			gateway.WithObserver(collector),
			gateway.WithCallLogger(log),
		),
		subscription.WithConfig(cfg.Store),
		subscription.WithLogger(log),
		subscription.WithMetrics(collector),
		subscription.WithLocker(locker),
	)

	api := newAPI(store, log)
	defer api.close()

	for _, id := range cfg.Track {
		if _, err := api.track(ctx, id); err != nil {
			return fmt.Errorf("track %s: %w", id, err)
		}
	}

	probes := make(map[string]httpserver.Probe, len(gwProbes)+len(lockProbes))
	for name, p := range gwProbes {
		probes[name] = p
	}
	for name, p := range lockProbes {
		probes[name] = p
	}

	srv := httpserver.New(cfg.HTTP, api.routes(reg, probes), httpserver.WithLogger(log))

	log.InfoContext(ctx, "billingsync started",
		slog.String("gateway", cfg.Gateway),
		slog.String("locker", cfg.Locker),
		slog.Int("tracked", len(cfg.Track)),
		logger.Duration(cfg.Store.PollInterval),
	)

	runErr := srv.Run(ctx)
	return errors.Join(runErr, store.Close())
}
