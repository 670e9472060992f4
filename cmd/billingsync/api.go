package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/metrics"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

// api is the presentation layer over the store. It keeps one handle per
// tracked id and logs every committed record.
type api struct {
	store *subscription.Store
	log   *slog.Logger

	mu      sync.Mutex
	handles map[string]*subscription.Subscription
}

func newAPI(store *subscription.Store, log *slog.Logger) *api {
	return &api{
		store:   store,
		log:     log,
		handles: make(map[string]*subscription.Subscription),
	}
}

func (a *api) routes(g prometheus.Gatherer, probes map[string]httpserver.Probe) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.HealthHandler(a.log, nil))
	r.Get("/readyz", httpserver.HealthHandler(a.log, probes))
	if g != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(g))
	}

	r.Route("/api/subscriptions", func(r chi.Router) {
		r.Get("/", a.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", a.trackHandler)
			r.Delete("/", a.untrack)
			r.Get("/", a.get)
			r.Post("/sync", a.resync)
			r.Post("/renew", a.lifecycle(a.store.Renew))
			r.Post("/cancel", a.lifecycle(a.store.Cancel))
			r.Post("/checkout", a.startCheckout)
			r.Get("/checkout", a.redirect)
			r.Post("/checkout/complete", a.completeCheckout)
			r.Post("/checkout/abandon", a.abandonCheckout)
		})
	})

	return r
}

// track returns the record for id, tracking it first if needed.
func (a *api) track(ctx context.Context, id string) (subscription.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok := a.handles[id]; ok {
		return h.Current(), nil
	}

	h, err := a.store.Track(ctx, id)
	if err != nil {
		return subscription.Record{}, err
	}
	a.handles[id] = h

	go func() {
		for rec := range h.Updates() {
			a.log.Info("subscription updated", slog.Any("record", rec))
		}
	}()

	return h.Current(), nil
}

func (a *api) close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, h := range a.handles {
		_ = h.Close()
		delete(a.handles, id)
	}
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	ids := a.store.Tracked()
	out := make([]recordView, 0, len(ids))
	for _, id := range ids {
		if rec, err := a.store.Get(id); err == nil {
			out = append(out, newRecordView(rec))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) trackHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := a.track(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(rec))
}

func (a *api) untrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.mu.Lock()
	delete(a.handles, id)
	a.mu.Unlock()

	if err := a.store.Untrack(id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r)(a.store.Get(chi.URLParam(r, "id")))
}

func (a *api) resync(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r)(a.store.Resync(r.Context(), chi.URLParam(r, "id")))
}

func (a *api) lifecycle(op func(context.Context, string) (subscription.Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.respond(w, r)(op(r.Context(), chi.URLParam(r, "id")))
	}
}

type checkoutRequest struct {
	ProductID  string `json:"productId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	CustomerID string `json:"customerId"`
}

// handoffView carries the client secret to the provider widget. It is the
// only response that contains it.
type handoffView struct {
	SubscriptionID string `json:"subscriptionId"`
	SessionID      string `json:"sessionId"`
	ClientSecret   string `json:"clientSecret"`
}

func (a *api) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	h, err := a.store.StartCheckout(r.Context(), gateway.CheckoutParams{
		SubscriptionID: chi.URLParam(r, "id"),
		ProductID:      req.ProductID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CustomerID:     req.CustomerID,
	})
	a.writeHandoff(w, r, h, err)
}

func (a *api) redirect(w http.ResponseWriter, r *http.Request) {
	h, err := a.store.Redirect(chi.URLParam(r, "id"))
	a.writeHandoff(w, r, h, err)
}

func (a *api) completeCheckout(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r)(a.store.CompleteCheckout(r.Context(), chi.URLParam(r, "id")))
}

func (a *api) abandonCheckout(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r)(a.store.AbandonCheckout(chi.URLParam(r, "id")))
}

func (a *api) writeHandoff(w http.ResponseWriter, r *http.Request, h subscription.RedirectHandoff, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, handoffView{
		SubscriptionID: h.SubscriptionID,
		SessionID:      h.SessionID,
		ClientSecret:   h.ClientSecret.Reveal(),
	})
}

func (a *api) respond(w http.ResponseWriter, r *http.Request) func(subscription.Record, error) {
	return func(rec subscription.Record, err error) {
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newRecordView(rec))
	}
}

type recordView struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Version         uint64           `json:"version"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	CheckoutPending bool             `json:"checkoutPending"`
	LastError       *recordErrorView `json:"lastError,omitempty"`
}

type recordErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newRecordView(rec subscription.Record) recordView {
	v := recordView{
		ID:              rec.ID,
		Status:          rec.Status.String(),
		Version:         rec.Version,
		UpdatedAt:       rec.UpdatedAt,
		CheckoutPending: !rec.ClientSecret.IsZero(),
	}
	if rec.LastError != nil {
		v.LastError = &recordErrorView{Kind: string(rec.LastError.Kind), Message: rec.LastError.Message}
	}
	return v
}

type errorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "api request failed", slog.String("path", r.URL.Path), logger.Error(err))
	}
	writeJSON(w, status, errorView{Code: code, Message: err.Error()})
}

// classify maps store and gateway errors to an error code and HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, subscription.ErrEmptyID), errors.Is(err, gateway.ErrInvalidParams):
		return "bad_request", http.StatusBadRequest
	case errors.Is(err, subscription.ErrNotTracked):
		return "not_tracked", http.StatusNotFound
	case errors.Is(err, subscription.ErrNoCheckout):
		return "no_checkout", http.StatusNotFound
	case errors.Is(err, subscription.ErrInvalidTransition):
		return "invalid_transition", http.StatusUnprocessableEntity
	case errors.Is(err, subscription.ErrConflict):
		return "conflict", http.StatusConflict
	case subscription.IsCancelled(err), errors.Is(err, subscription.ErrStoreClosed):
		return "unavailable", http.StatusServiceUnavailable
	}

	switch gateway.KindOf(err) {
	case gateway.KindNotFound:
		return string(gateway.KindNotFound), http.StatusNotFound
	case gateway.KindRateLimited:
		return string(gateway.KindRateLimited), http.StatusTooManyRequests
	case gateway.KindInvalidRequest:
		return string(gateway.KindInvalidRequest), http.StatusUnprocessableEntity
	default:
		return string(gateway.KindNetwork), http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
