package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// PaddleConfig holds configuration for the Paddle Billing adapter.
type PaddleConfig struct {
	APIKey      string        `env:"PADDLE_API_KEY,required"`
	Environment string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Timeout     time.Duration `env:"PADDLE_TIMEOUT" envDefault:"10s"`
}

type paddleSubscriptions interface {
	GetSubscription(ctx context.Context, req *paddle.GetSubscriptionRequest) (*paddle.Subscription, error)
	CancelSubscription(ctx context.Context, req *paddle.CancelSubscriptionRequest) (*paddle.Subscription, error)
	ResumeSubscription(ctx context.Context, req *paddle.ResumeSubscriptionRequest) (*paddle.Subscription, error)
}

type paddleTransactions interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
}

// PaddleGateway maps Gateway onto Paddle Billing.
//
// Checkout creates a transaction; its id is the token Paddle.js opens the
// overlay checkout with, so it travels as the client secret.
type PaddleGateway struct {
	timeout       time.Duration
	subscriptions paddleSubscriptions
	transactions  paddleTransactions
}

// NewPaddleGateway creates the adapter for the configured environment.
func NewPaddleGateway(cfg PaddleConfig) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnv, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return newPaddleGateway(cfg.Timeout, client.SubscriptionsClient, client.TransactionsClient), nil
}

func newPaddleGateway(timeout time.Duration, subs paddleSubscriptions, txns paddleTransactions) *PaddleGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaddleGateway{timeout: timeout, subscriptions: subs, transactions: txns}
}

func (g *PaddleGateway) FetchStatus(ctx context.Context, id string) (*StatusResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpFetchStatus, "empty id", ErrEmptyID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	sub, err := g.subscriptions.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: id})
	if err != nil {
		return nil, paddleError(ctx, OpFetchStatus, err)
	}
	status, err := paddleStatus(OpFetchStatus, sub)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Status: status}, nil
}

func (g *PaddleGateway) Renew(ctx context.Context, id string) (*MutationResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpRenew, "empty id", ErrEmptyID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	sub, err := g.subscriptions.ResumeSubscription(ctx, &paddle.ResumeSubscriptionRequest{SubscriptionID: id})
	if err != nil {
		return nil, paddleError(ctx, OpRenew, err)
	}
	status, err := paddleStatus(OpRenew, sub)
	if err != nil {
		return nil, err
	}
	return &MutationResult{Status: status}, nil
}

func (g *PaddleGateway) Cancel(ctx context.Context, id string) (*MutationResult, error) {
	if id == "" {
		return nil, NewError(KindInvalidRequest, OpCancel, "empty id", ErrEmptyID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	sub, err := g.subscriptions.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{SubscriptionID: id})
	if err != nil {
		return nil, paddleError(ctx, OpCancel, err)
	}
	status, err := paddleStatus(OpCancel, sub)
	if err != nil {
		return nil, err
	}
	return &MutationResult{Status: status}, nil
}

// CreateCheckoutSession creates a transaction for the product's price.
// ProductID is the Paddle price id (pri_...); Amount and Currency are carried
// in custom data for reconciliation since the catalog price is authoritative.
func (g *PaddleGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  p.ProductID,
		Quantity: 1,
	})

	req := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"subscription_id": p.SubscriptionID,
			"amount":          p.Amount,
			"currency":        p.Currency,
		},
	}
	if p.CustomerID != "" {
		req.CustomData["customer_id"] = p.CustomerID
	}

	txn, err := g.transactions.CreateTransaction(ctx, req)
	if err != nil {
		return nil, paddleError(ctx, OpCreateCheckout, err)
	}
	if txn == nil || txn.ID == "" {
		return nil, NewError(KindNetwork, OpCreateCheckout, "transaction has no id", ErrMissingSecret)
	}

	return &CheckoutSession{SessionID: txn.ID, ClientSecret: logger.Secret(txn.ID)}, nil
}

func paddleStatus(op string, sub *paddle.Subscription) (Status, error) {
	if sub == nil {
		return "", NewError(KindNetwork, op, "empty subscription", ErrMalformedReply)
	}
	status, ok := ParseStatus(string(sub.Status))
	if !ok {
		return "", NewError(KindNetwork, op, "missing status", ErrMalformedReply)
	}
	return status, nil
}

// paddleError maps paddleerr.Error codes onto the gateway kinds.
func paddleError(ctx context.Context, op string, err error) error {
	var perr *paddleerr.Error
	if !errors.As(err, &perr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return wrapContext(op, ctxErr)
		}
		return NewError(KindNetwork, op, "transport failure", err)
	}

	code := string(perr.Code)
	kind := KindInvalidRequest
	switch {
	case code == "not_found" || strings.HasSuffix(code, "_not_found"):
		kind = KindNotFound
	case code == "too_many_requests" || code == "rate_limit_exceeded":
		kind = KindRateLimited
	case code == "internal_error" || code == "service_unavailable" || code == "bad_gateway" || code == "gateway_timeout":
		kind = KindNetwork
	}

	msg := perr.Detail
	if msg == "" {
		msg = code
	}
	return NewError(kind, op, msg, err)
}
