package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/billingsync/pkg/async"
	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/statemachine"
)

const (
	opCheckout = gateway.OpCreateCheckout
	opRedirect = "redirect"
	opComplete = "checkout_complete"
	opAbandon  = "checkout_abandon"
)

// CheckoutState is the state of the checkout flow for one id.
type CheckoutState string

const (
	CheckoutIdle             CheckoutState = "idle"
	CheckoutCreatingSession  CheckoutState = "creating_session"
	CheckoutAwaitingRedirect CheckoutState = "awaiting_redirect"
	CheckoutCompleted        CheckoutState = "completed"
	CheckoutCanceled         CheckoutState = "canceled"
	CheckoutFailed           CheckoutState = "failed"
)

type checkoutEvent string

const (
	checkoutStart    checkoutEvent = "start"
	checkoutCreated  checkoutEvent = "created"
	checkoutFail     checkoutEvent = "fail"
	checkoutComplete checkoutEvent = "complete"
	checkoutAbandon  checkoutEvent = "abandon"
	checkoutTeardown checkoutEvent = "teardown"
)

var checkoutTable = statemachine.MustNewTable[CheckoutState, checkoutEvent](
	statemachine.WithTransition(CheckoutIdle, CheckoutCreatingSession, checkoutStart),
	statemachine.WithTransition(CheckoutCreatingSession, CheckoutAwaitingRedirect, checkoutCreated),
	statemachine.WithTransition(CheckoutCreatingSession, CheckoutFailed, checkoutFail),
	statemachine.WithTransition(CheckoutAwaitingRedirect, CheckoutCompleted, checkoutComplete),
	statemachine.WithTransition(CheckoutAwaitingRedirect, CheckoutCanceled, checkoutAbandon),
	statemachine.WithTransitionFrom(CheckoutCanceled, checkoutTeardown, CheckoutCreatingSession, CheckoutAwaitingRedirect),
)

// RedirectHandoff is what the provider UI needs to complete payment.
// ClientSecret renders as [REDACTED]; use Reveal when handing it over.
type RedirectHandoff struct {
	SubscriptionID string
	SessionID      string
	ClientSecret   logger.Secret
}

type checkoutFlow struct {
	machine *statemachine.Machine[CheckoutState, checkoutEvent]
	future  *async.Future[RedirectHandoff]
	session RedirectHandoff
}

func (f *checkoutFlow) state() CheckoutState {
	return f.machine.Current()
}

// StartCheckout creates a checkout session for params.SubscriptionID.
//
// Only one flow runs per id. A start while the session is being created
// joins that call and gets its result; a start while awaiting redirect gets
// the existing session. The gateway call runs detached from ctx so joiners
// are served even if the first caller gives up.
//
// On failure the record moves to StatusError with LastError set. On success
// the client secret is stored on the record until the flow completes, is
// abandoned or the id is evicted.
func (s *Store) StartCheckout(ctx context.Context, params gateway.CheckoutParams) (RedirectHandoff, error) {
	id := params.SubscriptionID

	e, err := s.lookup(id)
	if err != nil {
		return RedirectHandoff{}, opError(opCheckout, id, err)
	}
	if err := params.Validate(); err != nil {
		s.metrics.Operation(opCheckout, OutcomeRejected)
		return RedirectHandoff{}, opError(opCheckout, id, err)
	}

	if f := e.pendingCheckout(); f != nil {
		return s.awaitCheckout(ctx, id, f)
	}

	lease, err := s.acquire(ctx, id)
	if err != nil {
		// the lock may belong to a start that raced us
		if f := e.pendingCheckout(); f != nil {
			return s.awaitCheckout(ctx, id, f)
		}
		s.metrics.Operation(opCheckout, outcome(err))
		return RedirectHandoff{}, opError(opCheckout, id, err)
	}

	e.mu.Lock()
	if e.checkoutPending() {
		f := e.checkout.future
		e.mu.Unlock()
		s.releaseLease(lease)
		return s.awaitCheckout(ctx, id, f)
	}
	if e.evicted {
		e.mu.Unlock()
		s.releaseLease(lease)
		return RedirectHandoff{}, opError(opCheckout, id, ErrCancelled)
	}

	flow := &checkoutFlow{machine: checkoutTable.NewMachine(CheckoutIdle)}
	if _, err := flow.machine.Fire(checkoutStart); err != nil {
		e.mu.Unlock()
		s.releaseLease(lease)
		return RedirectHandoff{}, opError(opCheckout, id, err)
	}
	future, resolve := async.NewFuture[RedirectHandoff]()
	flow.future = future
	e.checkout = flow
	version := e.rec.Version
	e.mu.Unlock()

	go func() {
		defer s.releaseLease(lease)
		h, err := s.createSession(e, flow, params, version)
		s.metrics.Operation(opCheckout, outcome(err))
		resolve(h, err)
	}()

	return s.awaitCheckout(ctx, id, future)
}

// Redirect returns the handoff for the checkout awaiting redirect.
// A pending flow without a client secret is a contract violation and fails
// with ErrMissingClientSecret.
func (s *Store) Redirect(id string) (RedirectHandoff, error) {
	e, err := s.lookup(id)
	if err != nil {
		return RedirectHandoff{}, opError(opRedirect, id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.awaitingRedirect() {
		return RedirectHandoff{}, opError(opRedirect, id, ErrNoCheckout)
	}
	if e.rec.ClientSecret.IsZero() || e.checkout.session.SessionID == "" {
		return RedirectHandoff{}, opError(opRedirect, id, ErrMissingClientSecret)
	}

	h := e.checkout.session
	h.ClientSecret = e.rec.ClientSecret
	return h, nil
}

// CompleteCheckout marks the awaiting checkout completed, clears the client
// secret and resyncs so the record reflects the paid subscription.
func (s *Store) CompleteCheckout(ctx context.Context, id string) (Record, error) {
	if _, err := s.finishCheckout(id, opComplete, checkoutComplete); err != nil {
		return Record{}, err
	}
	return s.Resync(ctx, id)
}

// AbandonCheckout cancels the awaiting checkout and clears the client secret.
func (s *Store) AbandonCheckout(id string) (Record, error) {
	return s.finishCheckout(id, opAbandon, checkoutAbandon)
}

// CheckoutState returns the state of the latest checkout flow for id.
func (s *Store) CheckoutState(id string) (CheckoutState, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", opError(opCheckout, id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.checkout == nil {
		return CheckoutIdle, nil
	}
	return e.checkout.state(), nil
}

func (s *Store) finishCheckout(id, op string, ev checkoutEvent) (rec Record, err error) {
	defer func() {
		s.metrics.Operation(op, outcome(err))
	}()

	e, err := s.lookup(id)
	if err != nil {
		return Record{}, opError(op, id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.checkout == nil {
		return e.rec, opError(op, id, ErrNoCheckout)
	}
	if _, err := e.checkout.machine.Fire(ev); err != nil {
		return e.rec, opError(op, id, errors.Join(ErrNoCheckout, err))
	}

	rec, err = e.commitLocked(e.rec.Version, func(r *Record) {
		r.ClientSecret = ""
	})
	if err != nil {
		return rec, opError(op, id, err)
	}

	s.log.Info("checkout finished",
		logger.SubscriptionID(id),
		logger.Operation(op),
		logger.Version(rec.Version),
	)
	return rec, nil
}

// pendingCheckout returns the future of a checkout that is creating a
// session or awaiting redirect.
func (e *entry) pendingCheckout() *async.Future[RedirectHandoff] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.checkoutPending() {
		return nil
	}
	return e.checkout.future
}

func (s *Store) awaitCheckout(ctx context.Context, id string, f *async.Future[RedirectHandoff]) (RedirectHandoff, error) {
	h, err := f.Await(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return RedirectHandoff{}, opError(opCheckout, id, errors.Join(ErrCancelled, err))
	}
	return h, err
}

// createSession calls the gateway and commits the outcome of flow.
func (s *Store) createSession(e *entry, flow *checkoutFlow, params gateway.CheckoutParams, version uint64) (RedirectHandoff, error) {
	ctx, cancel := context.WithTimeout(e.ctx, s.cfg.GatewayTimeout)
	key := gateway.IdempotencyKey(opCheckout, e.id, version)
	sess, err := s.gw.CreateCheckoutSession(gateway.WithIdempotencyKey(ctx, key), params)
	cancel()

	if err == nil && (sess == nil || sess.ClientSecret.IsZero()) {
		err = gateway.NewError(gateway.KindNetwork, opCheckout, "session has no client secret", gateway.ErrMissingSecret)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return RedirectHandoff{}, opError(opCheckout, e.id, ErrCancelled)
	}

	if err != nil {
		_, _ = flow.machine.Fire(checkoutFail)
		rec, cerr := e.commitLocked(e.rec.Version, func(r *Record) {
			r.Status = StatusError
			r.LastError = newRecordError(err)
		})
		s.log.Warn("checkout session failed",
			logger.SubscriptionID(e.id),
			logger.IdempotencyKey(key),
			logger.Version(rec.Version),
			logger.ErrorKind(string(gateway.KindOf(err))),
			logger.Error(err),
			logger.Errors(cerr),
		)
		return RedirectHandoff{}, opError(opCheckout, e.id, err)
	}

	_, _ = flow.machine.Fire(checkoutCreated)
	flow.session = RedirectHandoff{
		SubscriptionID: e.id,
		SessionID:      sess.SessionID,
		ClientSecret:   sess.ClientSecret,
	}
	rec, err := e.commitLocked(e.rec.Version, func(r *Record) {
		r.ClientSecret = sess.ClientSecret
	})
	if err != nil {
		return RedirectHandoff{}, opError(opCheckout, e.id, err)
	}

	s.log.Info("checkout session created",
		logger.SubscriptionID(e.id),
		logger.IdempotencyKey(key),
		logger.Version(rec.Version),
		slog.String("session_id", sess.SessionID),
	)
	return flow.session, nil
}
