package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies gateway failures. The set is closed: adapters map every
// provider-specific error shape onto one of these.
type Kind string

const (
	// KindNetwork is a transient transport or provider failure.
	KindNetwork Kind = "network"
	// KindNotFound means the id is unknown to the provider.
	KindNotFound Kind = "not_found"
	// KindRateLimited means the provider asked us to slow down.
	KindRateLimited Kind = "rate_limited"
	// KindInvalidRequest is a caller bug; retrying cannot help.
	KindInvalidRequest Kind = "invalid_request"
)

// Retryable reports whether the failure is transient.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimited
}

func (k Kind) String() string { return string(k) }

// Sentinels matching each kind with errors.Is.
var (
	ErrNetwork        = errors.New("gateway network error")
	ErrNotFound       = errors.New("gateway resource not found")
	ErrRateLimited    = errors.New("gateway rate limited")
	ErrInvalidRequest = errors.New("gateway rejected request")
)

// Configuration and contract errors.
var (
	ErrMissingBaseURL   = errors.New("gateway base URL is required")
	ErrMissingAPIKey    = errors.New("gateway API key is required")
	ErrInvalidEnv       = errors.New("invalid gateway environment")
	ErrInvalidParams    = errors.New("invalid checkout parameters")
	ErrMalformedReply   = errors.New("malformed gateway response")
	ErrMissingSecret    = errors.New("gateway returned no client secret")
	ErrCredentials      = errors.New("failed to obtain gateway credentials")
	ErrEmptyID          = errors.New("subscription id is required")
	ErrUnknownOperation = errors.New("unknown gateway operation")
)

// Error is the single error type crossing the Gateway boundary.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("gateway: %s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("gateway: %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindInvalidRequest:
		return ErrInvalidRequest
	default:
		return nil
	}
}

// NewError builds an *Error.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// KindOf classifies any error returned by a Gateway call.
// Context cancellation and deadlines count as network failures; so does any
// error an adapter failed to classify. Nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindNetwork
}

// Message returns the human-readable part of a gateway error.
func Message(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) {
		if gerr.Message != "" {
			return gerr.Message
		}
		if gerr.Err != nil {
			return gerr.Err.Error()
		}
		return string(gerr.Kind)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// wrapContext turns a context error raised inside an adapter into a network *Error.
func wrapContext(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindNetwork, op, "request timed out", err)
	}
	return NewError(KindNetwork, op, "request cancelled", err)
}
