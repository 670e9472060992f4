package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/retry"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	maxErrorBody         = 4 << 10
)

// HTTPConfig configures HTTPGateway.
type HTTPConfig struct {
	BaseURL string        `env:"GATEWAY_URL,required"`
	Timeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	// RateLimit is the client-side request budget per second; 0 disables it.
	RateLimit float64 `env:"GATEWAY_RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"GATEWAY_RATE_BURST" envDefault:"1"`

	// CircuitFailures opens the breaker after that many consecutive transient
	// failures; 0 disables it.
	CircuitFailures int           `env:"GATEWAY_CIRCUIT_FAILURES" envDefault:"0"`
	CircuitRecovery time.Duration `env:"GATEWAY_CIRCUIT_RECOVERY" envDefault:"30s"`
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithTokenSource sets the bearer credential source.
func WithTokenSource(ts oauth2.TokenSource) HTTPOption {
	return func(g *HTTPGateway) {
		g.tokens = ts
	}
}

// WithStaticToken authenticates every request with a fixed bearer token.
func WithStaticToken(token string) HTTPOption {
	return WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// WithRateLimiter overrides the limiter built from HTTPConfig.
func WithRateLimiter(l *rate.Limiter) HTTPOption {
	return func(g *HTTPGateway) {
		g.limiter = l
	}
}

// WithCircuitBreaker overrides the breaker built from HTTPConfig.
func WithCircuitBreaker(cb *retry.CircuitBreaker) HTTPOption {
	return func(g *HTTPGateway) {
		g.breaker = cb
	}
}

// HTTPGateway talks to the billing REST API:
//
//	GET    /api/subscriptions/{id}         -> {status, clientSecret?}
//	PUT    /api/subscriptions/{id}/renew   -> {status}
//	DELETE /api/subscriptions/{id}         -> {status}
//	POST   /api/checkout-sessions          -> {sessionId, clientSecret}
type HTTPGateway struct {
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	breaker *retry.CircuitBreaker
}

// NewHTTPGateway validates cfg and builds the adapter.
func NewHTTPGateway(cfg HTTPConfig, opts ...HTTPOption) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Join(ErrMissingBaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrMissingBaseURL, cfg.BaseURL)
	}

	g := &HTTPGateway{
		baseURL: base,
		timeout: cfg.Timeout,
		client:  &http.Client{},
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	if cfg.CircuitFailures > 0 {
		g.breaker = retry.NewCircuitBreaker(cfg.CircuitFailures, 1, cfg.CircuitRecovery)
	}

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type statusBody struct {
	Status       string `json:"status"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type checkoutRequestBody struct {
	SubscriptionID string `json:"subscriptionId,omitempty"`
	ProductID      string `json:"productId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	CustomerID     string `json:"customerId,omitempty"`
}

type checkoutBody struct {
	SessionID    string `json:"sessionId"`
	ClientSecret string `json:"clientSecret"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *HTTPGateway) FetchStatus(ctx context.Context, id string) (*StatusResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpFetchStatus, "empty id", ErrEmptyID)
	}

	var body statusBody
	if err := g.do(ctx, OpFetchStatus, http.MethodGet, subscriptionPath(id), nil, &body); err != nil {
		return nil, err
	}

	status, ok := ParseStatus(body.Status)
	if !ok {
		return nil, NewError(KindNetwork, OpFetchStatus, "missing status", ErrMalformedReply)
	}
	return &StatusResult{Status: status, ClientSecret: logger.Secret(body.ClientSecret)}, nil
}

func (g *HTTPGateway) Renew(ctx context.Context, id string) (*MutationResult, error) {
	return g.mutate(ctx, OpRenew, http.MethodPut, id, subscriptionPath(id)+"/renew")
}

func (g *HTTPGateway) Cancel(ctx context.Context, id string) (*MutationResult, error) {
	return g.mutate(ctx, OpCancel, http.MethodDelete, id, subscriptionPath(id))
}

func (g *HTTPGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	req := checkoutRequestBody{
		SubscriptionID: params.SubscriptionID,
		ProductID:      params.ProductID,
		Amount:         params.Amount,
		Currency:       params.Currency,
		CustomerID:     params.CustomerID,
	}

	var body checkoutBody
	if err := g.do(ctx, OpCreateCheckout, http.MethodPost, "/api/checkout-sessions", req, &body); err != nil {
		return nil, err
	}
	if body.SessionID == "" {
		return nil, NewError(KindNetwork, OpCreateCheckout, "missing session id", ErrMalformedReply)
	}
	if body.ClientSecret == "" {
		return nil, NewError(KindNetwork, OpCreateCheckout, "missing client secret", ErrMissingSecret)
	}

	return &CheckoutSession{SessionID: body.SessionID, ClientSecret: logger.Secret(body.ClientSecret)}, nil
}

func (g *HTTPGateway) mutate(ctx context.Context, op, method, id, path string) (*MutationResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, op, "empty id", ErrEmptyID)
	}

	var body statusBody
	if err := g.do(ctx, op, method, path, nil, &body); err != nil {
		return nil, err
	}

	status, ok := ParseStatus(body.Status)
	if !ok {
		return nil, NewError(KindNetwork, op, "missing status", ErrMalformedReply)
	}
	return &MutationResult{Status: status}, nil
}

func subscriptionPath(id string) string {
	return "/api/subscriptions/" + url.PathEscape(id)
}

// do performs one bounded request and classifies every failure.
func (g *HTTPGateway) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.breaker != nil && !g.breaker.Allow() {
		return NewError(KindNetwork, op, "circuit open", retry.ErrCircuitOpen)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return NewError(KindRateLimited, op, "client-side rate limit", err)
		}
	}

	req, err := g.newRequest(ctx, op, method, path, in)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.recordOutcome(KindNetwork)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return wrapContext(op, ctxErr)
		}
		return NewError(KindNetwork, op, "transport failure", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gerr := responseError(op, resp)
		g.recordOutcome(gerr.Kind)
		return gerr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			g.recordOutcome(KindNetwork)
			return NewError(KindNetwork, op, "undecodable response", errors.Join(ErrMalformedReply, err))
		}
	}
	g.recordOutcome("")
	return nil
}

func (g *HTTPGateway) newRequest(ctx context.Context, op, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, NewError(KindInvalidRequest, op, "unencodable request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL.String()+path, body)
	if err != nil {
		return nil, NewError(KindInvalidRequest, op, "invalid request", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerRequestID, uuid.NewString())
	if key, ok := IdempotencyKeyFromContext(ctx); ok && method != http.MethodGet {
		req.Header.Set(headerIdempotencyKey, key)
	}

	if g.tokens != nil {
		tok, err := g.tokens.Token()
		if err != nil {
			return nil, NewError(KindNetwork, op, "credentials unavailable", errors.Join(ErrCredentials, err))
		}
		tok.SetAuthHeader(req)
	}

	return req, nil
}

// recordOutcome feeds the breaker. Only transient failures count against the
// endpoint; caller errors say nothing about its health.
func (g *HTTPGateway) recordOutcome(kind Kind) {
	if g.breaker == nil {
		return
	}
	if kind == KindNetwork {
		g.breaker.RecordFailure()
		return
	}
	g.breaker.RecordSuccess()
}

func responseError(op string, resp *http.Response) *Error {
	var kind Kind
	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code == http.StatusTooManyRequests:
		kind = KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code >= 500:
		kind = KindNetwork
	default:
		kind = KindInvalidRequest
	}

	msg := http.StatusText(resp.StatusCode)
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}

	return NewError(kind, op, msg, fmt.Errorf("unexpected status %d", resp.StatusCode))
}
