package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// StripeConfig configures StripeGateway.
type StripeConfig struct {
	SecretKey string        `env:"STRIPE_SECRET_KEY,required"`
	Timeout   time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
	// ReturnURL is where the embedded checkout sends the customer afterwards.
	ReturnURL string `env:"STRIPE_RETURN_URL"`
	// Interval is the recurring interval for ad-hoc checkout prices.
	Interval string `env:"STRIPE_BILLING_INTERVAL" envDefault:"month"`
	// CancelImmediately ends the subscription right away instead of at period end.
	CancelImmediately bool `env:"STRIPE_CANCEL_IMMEDIATELY" envDefault:"false"`
}

// StripeGateway maps Gateway onto Stripe subscriptions and embedded Checkout.
//
// By default cancel schedules cancellation at period end and renew lifts it,
// so both transitions are reversible; such a subscription reports canceled.
type StripeGateway struct {
	cfg           StripeConfig
	subscriptions subscription.Client
	sessions      session.Client
}

// StripeOption configures a StripeGateway.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backend stripe.Backend
}

// WithStripeBackend replaces the API backend, e.g. to point at a test server.
func WithStripeBackend(b stripe.Backend) StripeOption {
	return func(o *stripeOptions) {
		o.backend = b
	}
}

// NewStripeGateway builds the adapter on explicit clients; the global stripe.Key is never used.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Interval == "" {
		cfg.Interval = string(stripe.PriceRecurringIntervalMonth)
	}

	o := &stripeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.backend == nil {
		o.backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: cfg.Timeout},
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
	}

	return &StripeGateway{
		cfg:           cfg,
		subscriptions: subscription.Client{B: o.backend, Key: cfg.SecretKey},
		sessions:      session.Client{B: o.backend, Key: cfg.SecretKey},
	}, nil
}

func (g *StripeGateway) FetchStatus(ctx context.Context, id string) (*StatusResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpFetchStatus, "empty id", ErrEmptyID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.subscriptions.Get(id, params)
	if err != nil {
		return nil, stripeError(ctx, OpFetchStatus, err)
	}
	status, err := stripeStatus(OpFetchStatus, sub)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Status: status}, nil
}

func (g *StripeGateway) Renew(ctx context.Context, id string) (*MutationResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpRenew, "empty id", ErrEmptyID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	setStripeIdempotency(ctx, &params.Params)

	sub, err := g.subscriptions.Update(id, params)
	if err != nil {
		return nil, stripeError(ctx, OpRenew, err)
	}
	status, err := stripeStatus(OpRenew, sub)
	if err != nil {
		return nil, err
	}
	return &MutationResult{Status: status}, nil
}

func (g *StripeGateway) Cancel(ctx context.Context, id string) (*MutationResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpCancel, "empty id", ErrEmptyID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var (
		sub *stripe.Subscription
		err error
	)
	if g.cfg.CancelImmediately {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		setStripeIdempotency(ctx, &params.Params)
		sub, err = g.subscriptions.Cancel(id, params)
	} else {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		setStripeIdempotency(ctx, &params.Params)
		sub, err = g.subscriptions.Update(id, params)
	}
	if err != nil {
		return nil, stripeError(ctx, OpCancel, err)
	}

	status, err := stripeStatus(OpCancel, sub)
	if err != nil {
		return nil, err
	}
	return &MutationResult{Status: status}, nil
}

// CreateCheckoutSession creates an embedded Checkout Session; its client_secret
// is what Stripe.js needs to mount the payment form.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:   stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		UIMode: stripe.String("embedded"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.Currency),
				Product:    stripe.String(p.ProductID),
				UnitAmount: stripe.Int64(p.Amount),
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String(g.cfg.Interval),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if g.cfg.ReturnURL != "" {
		params.ReturnURL = stripe.String(g.cfg.ReturnURL)
	}
	params.Context = ctx
	params.AddMetadata("subscription_id", p.SubscriptionID)
	setStripeIdempotency(ctx, &params.Params)

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, stripeError(ctx, OpCreateCheckout, err)
	}
	if s.ClientSecret == "" {
		return nil, NewError(KindNetwork, OpCreateCheckout, "session has no client secret", ErrMissingSecret)
	}

	return &CheckoutSession{SessionID: s.ID, ClientSecret: logger.Secret(s.ClientSecret)}, nil
}

func setStripeIdempotency(ctx context.Context, p *stripe.Params) {
	if key, ok := IdempotencyKeyFromContext(ctx); ok {
		p.SetIdempotencyKey(key)
	}
}

func stripeStatus(op string, sub *stripe.Subscription) (Status, error) {
	if sub == nil {
		return "", NewError(KindNetwork, op, "empty subscription", ErrMalformedReply)
	}
	status, ok := ParseStatus(string(sub.Status))
	if !ok {
		return "", NewError(KindNetwork, op, "missing status", ErrMalformedReply)
	}
	if status == StatusActive && sub.CancelAtPeriodEnd {
		return StatusCanceled, nil
	}
	return status, nil
}

// stripeError maps *stripe.Error onto the gateway kinds.
func stripeError(ctx context.Context, op string, err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return wrapContext(op, ctxErr)
		}
		return NewError(KindNetwork, op, "transport failure", err)
	}

	kind := KindInvalidRequest
	switch {
	case serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing:
		kind = KindNotFound
	case serr.HTTPStatusCode == http.StatusTooManyRequests || serr.Code == stripe.ErrorCodeRateLimit:
		kind = KindRateLimited
	case serr.HTTPStatusCode >= 500, serr.HTTPStatusCode == http.StatusConflict, serr.Type == stripe.ErrorTypeAPI:
		// 409 is an idempotency/lock conflict on Stripe's side and clears on retry
		kind = KindNetwork
	}

	msg := serr.Msg
	if msg == "" {
		msg = string(serr.Code)
	}
	return NewError(kind, op, msg, err)
}
