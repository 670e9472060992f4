package subscription

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Status is the local status of a tracked subscription.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusSyncing  Status = "syncing"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
	StatusError    Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// IsLive reports whether s is a status confirmed by the gateway.
func (s Status) IsLive() bool {
	switch s {
	case StatusActive, StatusInactive, StatusCanceled:
		return true
	}
	return false
}

func statusFromGateway(s gateway.Status) Status {
	switch s {
	case gateway.StatusActive:
		return StatusActive
	case gateway.StatusCanceled:
		return StatusCanceled
	default:
		return StatusInactive
	}
}

// RecordError is the structured error surfaced on a record.
type RecordError struct {
	Kind    gateway.Kind
	Message string
}

func (e *RecordError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func newRecordError(err error) *RecordError {
	return &RecordError{Kind: gateway.KindOf(err), Message: gateway.Message(err)}
}

// Record is the local snapshot of one subscription. Records are values:
// the store hands out copies and only changes them through versioned commits.
type Record struct {
	ID           string
	Status       Status
	ClientSecret logger.Secret
	LastError    *RecordError
	Version      uint64
	UpdatedAt    time.Time
}

// HasError reports whether the record carries an error annotation.
func (r Record) HasError() bool {
	return r.LastError != nil
}

// LogValue implements slog.LogValuer. The client secret is never included.
func (r Record) LogValue() slog.Value {
	attrs := []slog.Attr{
		logger.SubscriptionID(r.ID),
		logger.Status(r.Status.String()),
		logger.Version(r.Version),
	}
	if r.LastError != nil {
		attrs = append(attrs, logger.ErrorKind(string(r.LastError.Kind)))
	}
	if !r.ClientSecret.IsZero() {
		attrs = append(attrs, slog.Bool("checkout_pending", true))
	}
	return slog.GroupValue(attrs...)
}

func (r Record) String() string {
	return fmt.Sprintf("%s@%d(%s)", r.ID, r.Version, r.Status)
}

// validate checks the record invariants. awaitingRedirect is the state of the
// record's checkout flow at commit time.
func (r Record) validate(awaitingRedirect bool) error {
	switch {
	case r.Status == StatusError && r.LastError == nil:
		return fmt.Errorf("%w: error status without last error", ErrInvalidRecord)
	case (r.Status == StatusSyncing || r.Status == StatusUnknown) && r.LastError != nil:
		return fmt.Errorf("%w: %s status with last error", ErrInvalidRecord, r.Status)
	case !r.ClientSecret.IsZero() && !awaitingRedirect:
		return fmt.Errorf("%w: client secret without pending checkout", ErrInvalidRecord)
	}
	return nil
}
