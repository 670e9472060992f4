package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/config"
	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/gateway/gatewaytest"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/lock"
)

type tokenConfig struct {
	Token string `env:"GATEWAY_TOKEN"`
}

// newGateway builds the adapter named by cfg.Gateway. The returned probes are
// mounted on /readyz and closeFn releases whatever the adapter started.
func newGateway(ctx context.Context, cfg appConfig, log *slog.Logger) (gateway.Gateway, map[string]httpserver.Probe, func(), error) {
	noop := func() {}

	switch cfg.Gateway {
	case "demo":
		opts := []gatewaytest.Option{
			gatewaytest.WithSubscription("sub_demo_active", "active"),
			gatewaytest.WithSubscription("sub_demo_canceled", "canceled"),
		}
		for _, id := range cfg.Track {
			opts = append(opts, gatewaytest.WithSubscription(id, "inactive"))
		}
		srv := gatewaytest.NewServer(opts...)
		log.InfoContext(ctx, "demo gateway started", slog.String("url", srv.URL))

		gw, err := gateway.NewHTTPGateway(gateway.HTTPConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
		if err != nil {
			srv.Close()
			return nil, nil, noop, err
		}
		return gw, nil, srv.Close, nil

	case "http":
		hc, err := config.Load[gateway.HTTPConfig](config.WithPrefix("BILLING_"))
		if err != nil {
			return nil, nil, noop, err
		}
		tc, err := config.Load[tokenConfig](config.WithPrefix("BILLING_"))
		if err != nil {
			return nil, nil, noop, err
		}

		var opts []gateway.HTTPOption
		if tc.Token != "" {
			opts = append(opts, gateway.WithStaticToken(tc.Token))
		}
		gw, err := gateway.NewHTTPGateway(hc, opts...)
		if err != nil {
			return nil, nil, noop, err
		}
		probes := map[string]httpserver.Probe{"gateway": reachable(hc.BaseURL)}
		return gw, probes, noop, nil

	case "stripe":
		sc, err := config.Load[gateway.StripeConfig]()
		if err != nil {
			return nil, nil, noop, err
		}
		gw, err := gateway.NewStripeGateway(sc)
		if err != nil {
			return nil, nil, noop, err
		}
		return gw, nil, noop, nil

	case "paddle":
		pc, err := config.Load[gateway.PaddleConfig]()
		if err != nil {
			return nil, nil, noop, err
		}
		gw, err := gateway.NewPaddleGateway(pc)
		if err != nil {
			return nil, nil, noop, err
		}
		return gw, nil, noop, nil
	}

	return nil, nil, noop, fmt.Errorf("unknown gateway %q: want demo, http, stripe or paddle", cfg.Gateway)
}

// newLocker builds the lock backend named by cfg.Locker.
func newLocker(ctx context.Context, cfg appConfig) (lock.Locker, map[string]httpserver.Probe, func(), error) {
	switch cfg.Locker {
	case "memory", "":
		return lock.NewMemoryLocker(), nil, func() {}, nil

	case "redis":
		rc, err := config.Load[lock.RedisConfig]()
		if err != nil {
			return nil, nil, nil, err
		}
		client, err := lock.Connect(ctx, rc)
		if err != nil {
			return nil, nil, nil, err
		}
		locker, err := lock.NewRedisLocker(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		probes := map[string]httpserver.Probe{"redis": lock.Healthcheck(client)}
		return locker, probes, func() { _ = client.Close() }, nil
	}

	return nil, nil, nil, fmt.Errorf("unknown locker %q: want memory or redis", cfg.Locker)
}

// reachable reports whether the gateway answers HTTP at all. Any status code
// counts; only transport failures fail the probe.
func reachable(baseURL string) httpserver.Probe {
	client := &http.Client{Timeout: 2 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}
