package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Observer receives one event per gateway call. kind is empty on success.
type Observer interface {
	ObserveCall(op string, kind Kind, d time.Duration)
}

// InstrumentOption configures Instrument.
type InstrumentOption func(*Instrumented)

// WithObserver reports call latency and outcome.
func WithObserver(o Observer) InstrumentOption {
	return func(i *Instrumented) {
		i.observer = o
	}
}

// WithCallLogger logs every call.
func WithCallLogger(l *slog.Logger) InstrumentOption {
	return func(i *Instrumented) {
		if l != nil {
			i.log = l
		}
	}
}

// Instrumented decorates a Gateway with logging and call observation.
// Client secrets are never logged.
type Instrumented struct {
	next     Gateway
	log      *slog.Logger
	observer Observer
	now      func() time.Time
}

// Instrument wraps next.
func Instrument(next Gateway, opts ...InstrumentOption) *Instrumented {
	i := &Instrumented{
		next: next,
		log:  logger.Discard(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.With(logger.Component("gateway"))
	return i
}

func (i *Instrumented) FetchStatus(ctx context.Context, id string) (*StatusResult, error) {
	start := i.now()
	res, err := i.next.FetchStatus(ctx, id)
	i.observe(ctx, OpFetchStatus, id, start, err, func() []slog.Attr {
		if res == nil {
			return nil
		}
		return []slog.Attr{logger.Status(string(res.Status))}
	})
	return res, err
}

func (i *Instrumented) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	start := i.now()
	res, err := i.next.CreateCheckoutSession(ctx, params)
	i.observe(ctx, OpCreateCheckout, params.SubscriptionID, start, err, func() []slog.Attr {
		if res == nil {
			return nil
		}
		return []slog.Attr{slog.String("session_id", res.SessionID)}
	})
	return res, err
}

func (i *Instrumented) Renew(ctx context.Context, id string) (*MutationResult, error) {
	start := i.now()
	res, err := i.next.Renew(ctx, id)
	i.observe(ctx, OpRenew, id, start, err, func() []slog.Attr {
		if res == nil {
			return nil
		}
		return []slog.Attr{logger.Status(string(res.Status))}
	})
	return res, err
}

func (i *Instrumented) Cancel(ctx context.Context, id string) (*MutationResult, error) {
	start := i.now()
	res, err := i.next.Cancel(ctx, id)
	i.observe(ctx, OpCancel, id, start, err, func() []slog.Attr {
		if res == nil {
			return nil
		}
		return []slog.Attr{logger.Status(string(res.Status))}
	})
	return res, err
}

// observe logs and reports one call. success is only evaluated when err is nil.
func (i *Instrumented) observe(ctx context.Context, op, id string, start time.Time, err error, success func() []slog.Attr) {
	elapsed := i.now().Sub(start)
	kind := KindOf(err)

	if i.observer != nil {
		i.observer.ObserveCall(op, kind, elapsed)
	}

	attrs := []slog.Attr{
		logger.Operation(op),
		logger.SubscriptionID(id),
		logger.Duration(elapsed),
	}
	if err != nil {
		attrs = append(attrs, logger.ErrorKind(string(kind)), logger.Error(err))
		i.log.LogAttrs(ctx, slog.LevelWarn, "gateway call failed", attrs...)
		return
	}
	attrs = append(attrs, success()...)
	i.log.LogAttrs(ctx, slog.LevelDebug, "gateway call succeeded", attrs...)
}
