// Package gatewaytest provides an in-memory implementation of the billing REST
// API consumed by gateway.HTTPGateway, with programmable failures.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
)

// Failure is a canned error response.
type Failure struct {
	StatusCode int
	Message    string
}

type session struct {
	ID     string
	Secret string
}

// Server serves the billing REST API from memory.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	token    string
	statuses map[string]string
	secrets  map[string]string
	failures map[string][]Failure
	delays   map[string]time.Duration
	calls    map[string]int
	keys     map[string][]string
	sessions map[string]session // by idempotency key
	seq      int
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithSubscription seeds a subscription with a raw provider status.
func WithSubscription(id, status string) Option {
	return func(s *Server) {
		s.statuses[id] = status
	}
}

// NewServer starts a server. Call Close when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		statuses: make(map[string]string),
		secrets:  make(map[string]string),
		failures: make(map[string][]Failure),
		delays:   make(map[string]time.Duration),
		calls:    make(map[string]int),
		keys:     make(map[string][]string),
		sessions: make(map[string]session),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)
	r.Get("/api/subscriptions/{id}", s.handle(gateway.OpFetchStatus, s.fetch))
	r.Put("/api/subscriptions/{id}/renew", s.handle(gateway.OpRenew, s.renew))
	r.Delete("/api/subscriptions/{id}", s.handle(gateway.OpCancel, s.cancel))
	r.Post("/api/checkout-sessions", s.handle(gateway.OpCreateCheckout, s.checkout))

	s.Server = httptest.NewServer(r)
	return s
}

// SetStatus sets the raw provider status of a subscription.
func (s *Server) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}

// Status returns the raw provider status of a subscription.
func (s *Server) Status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

// SetClientSecret makes FetchStatus report a pending checkout secret.
func (s *Server) SetClientSecret(id, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[id] = secret
}

// FailNext queues n failures for op; they are served before any success.
func (s *Server) FailNext(op string, n int, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures[op] = append(s.failures[op], f)
	}
}

// SetDelay delays every response for op.
func (s *Server) SetDelay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[op] = d
}

// Calls returns how many requests reached op.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// IdempotencyKeys returns the Idempotency-Key headers received for op.
func (s *Server) IdempotencyKeys(op string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys[op]...)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handle counts the call, applies delay and queued failures, then runs fn.
func (s *Server) handle(op string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[op]++
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			s.keys[op] = append(s.keys[op], key)
		}
		delay := s.delays[op]
		var failure *Failure
		if queue := s.failures[op]; len(queue) > 0 {
			failure = &queue[0]
			s.failures[op] = queue[1:]
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if failure != nil {
			writeJSON(w, failure.StatusCode, map[string]string{"error": failure.Message})
			return
		}
		fn(w, r)
	}
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	status, ok := s.statuses[id]
	secret := s.secrets[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription not found"})
		return
	}
	body := map[string]string{"status": status}
	if secret != "" {
		body["clientSecret"] = secret
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "id"), "active")
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "id"), "canceled")
}

func (s *Server) transition(w http.ResponseWriter, id, to string) {
	s.mu.Lock()
	_, ok := s.statuses[id]
	if ok {
		s.statuses[id] = to
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": to})
}

type checkoutRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	ProductID      string `json:"productId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	CustomerID     string `json:"customerId"`
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.ProductID == "" || req.Currency == "" || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "productId, amount and currency are required"})
		return
	}

	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	sess, replay := s.sessions[key]
	if !replay || key == "" {
		s.seq++
		id := "cs_" + strconv.Itoa(s.seq)
		sess = session{ID: id, Secret: id + "_secret_" + uuid.NewString()}
		if key != "" {
			s.sessions[key] = sess
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{
		"sessionId":    sess.ID,
		"clientSecret": sess.Secret,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
