package gateway

import (
	"context"
	"strings"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Gateway is the payment provider as seen by the subscription controllers.
// Every call is bounded by the adapter's timeout and honours ctx cancellation.
// Failures are always *Error with a Kind from the closed set in errors.go.
type Gateway interface {
	FetchStatus(ctx context.Context, id string) (*StatusResult, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	Renew(ctx context.Context, id string) (*MutationResult, error)
	Cancel(ctx context.Context, id string) (*MutationResult, error)
}

// Operation names used for idempotency keys, logs and metrics.
const (
	OpFetchStatus    = "fetch_status"
	OpCreateCheckout = "checkout"
	OpRenew          = "renew"
	OpCancel         = "cancel"
)

// Status is the provider status normalised to the three live states.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
)

// ParseStatus normalises a provider status string.
// active and trialing are live, the canceled spellings and incomplete_expired
// are terminal, every other non-empty value (past_due, paused, unpaid,
// incomplete...) is inactive. An empty value is a malformed response.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", false
	case "active", "trialing":
		return StatusActive, true
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled, true
	default:
		return StatusInactive, true
	}
}

// StatusResult is the outcome of FetchStatus.
type StatusResult struct {
	Status       Status
	ClientSecret logger.Secret
}

// MutationResult is the outcome of Renew and Cancel.
type MutationResult struct {
	Status Status
}

// CheckoutParams describes the checkout session to create.
type CheckoutParams struct {
	SubscriptionID string
	ProductID      string
	Amount         int64 // minor units
	Currency       string
	CustomerID     string
}

// Validate reports missing or malformed fields as a KindInvalidRequest error.
func (p CheckoutParams) Validate() error {
	switch {
	case p.SubscriptionID == "":
		return invalidParams("subscription id is required")
	case p.ProductID == "":
		return invalidParams("product id is required")
	case p.Amount <= 0:
		return invalidParams("amount must be positive")
	case p.Currency == "":
		return invalidParams("currency is required")
	}
	return nil
}

func invalidParams(msg string) error {
	return &Error{Kind: KindInvalidRequest, Op: OpCreateCheckout, Message: msg, Err: ErrInvalidParams}
}

// CheckoutSession is a created provider session. The client secret is what the
// provider UI needs to complete payment.
type CheckoutSession struct {
	SessionID    string
	ClientSecret logger.Secret
}
