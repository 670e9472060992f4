package subscription

import "errors"

var (
	ErrEmptyID             = errors.New("subscription id is required")
	ErrNotTracked          = errors.New("subscription is not tracked")
	ErrStoreClosed         = errors.New("subscription store is closed")
	ErrInvalidTransition   = errors.New("invalid subscription transition")
	ErrConflict            = errors.New("another operation is outstanding for this subscription")
	ErrCancelled           = errors.New("subscription operation cancelled")
	ErrInvalidRecord       = errors.New("subscription record invariant violated")
	ErrCheckoutInProgress  = errors.New("checkout is in progress")
	ErrNoCheckout          = errors.New("no checkout is awaiting redirect")
	ErrMissingClientSecret = errors.New("checkout session has no client secret")
)

// OpError records the operation and subscription id an error happened for.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	return "subscription: " + e.Op + " " + e.ID + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Op == op && oe.ID == id {
		return err
	}
	return &OpError{Op: op, ID: id, Err: err}
}

// IsCancelled reports whether err is the expected result of an eviction or
// caller cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
