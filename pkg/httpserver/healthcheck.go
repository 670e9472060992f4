package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Probe reports whether one dependency is usable.
type Probe func(context.Context) error

const probeTimeout = 2 * time.Second

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler runs every probe and answers 200 with status "ok", or 503
// with status "unavailable" when any probe fails. Without probes it is a
// liveness check.
func HealthHandler(log *slog.Logger, probes map[string]Probe) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	names := slices.Sorted(maps.Keys(probes))

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		report := healthReport{Status: "ok"}
		code := http.StatusOK
		if len(names) > 0 {
			report.Checks = make(map[string]string, len(names))
		}

		for _, name := range names {
			if err := probes[name](ctx); err != nil {
				log.WarnContext(ctx, "readiness probe failed", slog.String("probe", name), logger.Error(err))
				report.Checks[name] = err.Error()
				report.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			report.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}
