package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/statemachine"
)

// Operation outcomes reported to Metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// lifecycleTable maps each operation to the statuses it may start from.
// The target is the optimistic status shown while the gateway call runs.
var lifecycleTable = statemachine.MustNewTable[Status, string](
	statemachine.WithTransitionFrom(StatusSyncing, gateway.OpRenew, StatusInactive, StatusCanceled, StatusError),
	statemachine.WithTransitionFrom(StatusSyncing, gateway.OpCancel, StatusActive),
)

// CanRenew reports whether a record in status s may be renewed.
func CanRenew(s Status) bool {
	return lifecycleTable.Can(s, gateway.OpRenew)
}

// CanCancel reports whether a record in status s may be cancelled.
func CanCancel(s Status) bool {
	return lifecycleTable.Can(s, gateway.OpCancel)
}

// Renew reactivates id. Valid from Inactive, Canceled and Error.
func (s *Store) Renew(ctx context.Context, id string) (Record, error) {
	return s.transition(ctx, id, gateway.OpRenew)
}

// Cancel cancels id. Valid from Active.
func (s *Store) Cancel(ctx context.Context, id string) (Record, error) {
	return s.transition(ctx, id, gateway.OpCancel)
}

// transition runs one renew or cancel:
// lock, check the precondition, commit Syncing, call the gateway, then
// commit the returned status or roll back to the previous one with LastError.
func (s *Store) transition(ctx context.Context, id, op string) (rec Record, err error) {
	defer func() {
		s.metrics.Operation(op, outcome(err))
	}()

	e, err := s.lookup(id)
	if err != nil {
		return Record{}, opError(op, id, err)
	}

	lease, err := s.acquire(ctx, id)
	if err != nil {
		return e.snapshot(), opError(op, id, err)
	}
	defer s.releaseLease(lease)

	e.mu.Lock()
	prev := e.rec
	next, terr := lifecycleTable.Next(prev.Status, op)
	if terr != nil {
		e.mu.Unlock()
		return prev, opError(op, id, errors.Join(ErrInvalidTransition, terr))
	}
	if e.checkoutPending() {
		e.mu.Unlock()
		return prev, opError(op, id, errors.Join(ErrConflict, ErrCheckoutInProgress))
	}
	optimistic, err := e.commitLocked(prev.Version, func(r *Record) {
		r.Status = next
		r.LastError = nil
	})
	e.mu.Unlock()
	if err != nil {
		return prev, opError(op, id, err)
	}

	key := gateway.IdempotencyKey(op, id, prev.Version)
	callCtx, cancel := s.callContext(ctx, e)
	res, gerr := s.mutate(gateway.WithIdempotencyKey(callCtx, key), op, id)
	cancel()

	switch {
	case gerr == nil:
		rec, err = e.commit(optimistic.Version, func(r *Record) {
			r.Status = statusFromGateway(res.Status)
			r.LastError = nil
		})
	case e.ctx.Err() != nil:
		return e.snapshot(), opError(op, id, ErrCancelled)
	case ctx.Err() != nil:
		rec, err = e.commit(optimistic.Version, func(r *Record) {
			r.Status = prev.Status
			r.LastError = prev.LastError
		})
		if err == nil {
			err = errors.Join(ErrCancelled, ctx.Err())
		}
	default:
		rec, err = e.commit(optimistic.Version, func(r *Record) {
			r.Status = prev.Status
			r.LastError = newRecordError(gerr)
		})
		if err == nil {
			err = gerr
		}
	}

	attrs := []slog.Attr{
		logger.SubscriptionID(id),
		logger.Operation(op),
		logger.IdempotencyKey(key),
		logger.Version(rec.Version),
		logger.Status(rec.Status.String()),
	}
	if err != nil {
		attrs = append(attrs, logger.ErrorKind(string(gateway.KindOf(gerr))), logger.Error(err))
		s.log.LogAttrs(ctx, slog.LevelWarn, "subscription transition failed", attrs...)
		return rec, opError(op, id, err)
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "subscription transition committed", attrs...)
	return rec, nil
}

func (s *Store) mutate(ctx context.Context, op, id string) (*gateway.MutationResult, error) {
	var (
		res *gateway.MutationResult
		err error
	)
	switch op {
	case gateway.OpRenew:
		res, err = s.gw.Renew(ctx, id)
	case gateway.OpCancel:
		res, err = s.gw.Cancel(ctx, id)
	default:
		return nil, gateway.NewError(gateway.KindInvalidRequest, op, "unknown operation", gateway.ErrUnknownOperation)
	}
	if err == nil && res == nil {
		err = gateway.NewError(gateway.KindNetwork, op, "empty response", gateway.ErrMalformedReply)
	}
	return res, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsCancelled(err):
		return OutcomeCancelled
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrInvalidTransition):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
