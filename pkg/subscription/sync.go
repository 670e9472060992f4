package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/billingsync/pkg/async"
	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/retry"
	"github.com/dmitrymomot/billingsync/pkg/statemachine"
)

const opSync = "sync"

// SyncState is the state of the status sync for one id.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncSynced  SyncState = "synced"
	SyncFailed  SyncState = "failed"
)

type syncEvent string

const (
	syncStart   syncEvent = "start"
	syncSucceed syncEvent = "succeed"
	syncFail    syncEvent = "fail"
	syncDiscard syncEvent = "discard"
)

var syncTable = statemachine.MustNewTable[SyncState, syncEvent](
	statemachine.WithTransitionFrom(SyncSyncing, syncStart, SyncIdle, SyncSynced, SyncFailed),
	statemachine.WithTransition(SyncSyncing, SyncSynced, syncSucceed),
	statemachine.WithTransition(SyncSyncing, SyncFailed, syncFail),
	statemachine.WithTransition(SyncSyncing, SyncIdle, syncDiscard),
)

// Sync fetches the gateway status for id. While a fetch is in flight every
// caller gets the same future, so concurrent calls issue one request.
//
// The fetch is detached from ctx: it runs until it resolves or the id is
// evicted. Its result is committed only if the record version did not move
// since dispatch; otherwise it is discarded and the future resolves to the
// current record.
func (s *Store) Sync(ctx context.Context, id string) *async.Future[Record] {
	e, err := s.lookup(id)
	if err != nil {
		return async.Resolved(Record{}, opError(opSync, id, err))
	}
	s.log.DebugContext(ctx, "sync requested", logger.SubscriptionID(id))
	return s.startSync(e)
}

// Resync is Sync followed by Await. Giving up on ctx does not stop the fetch.
func (s *Store) Resync(ctx context.Context, id string) (Record, error) {
	rec, err := s.Sync(ctx, id).Await(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return rec, opError(opSync, id, errors.Join(ErrCancelled, err))
	}
	return rec, err
}

// SyncState returns the sync state for id.
func (s *Store) SyncState(id string) (SyncState, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", opError(opSync, id, err)
	}
	return e.sync.Current(), nil
}

func (s *Store) startSync(e *entry) *async.Future[Record] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return async.Resolved(e.rec, opError(opSync, e.id, ErrCancelled))
	}
	if e.inflight != nil {
		// the running fetch is already stale; fetch again once it lands
		if e.rec.Version != e.inflightVersion {
			e.refetch = true
		}
		return e.inflight
	}
	if _, err := e.sync.Fire(syncStart); err != nil {
		return async.Resolved(e.rec, opError(opSync, e.id, err))
	}

	f, resolve := async.NewFuture[Record]()
	e.inflight = f
	e.inflightVersion = e.rec.Version
	e.refetch = false

	go func(version uint64) {
		res, err := s.fetch(e)
		resolve(s.applySync(e, version, res, err))
	}(e.rec.Version)

	return f
}

// fetch calls the gateway, retrying retryable failures up to MaxRetries
// times. It returns ErrCancelled once the entry is evicted.
func (s *Store) fetch(e *entry) (*gateway.StatusResult, error) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(e.ctx, s.cfg.GatewayTimeout)
		res, err := s.gw.FetchStatus(ctx, e.id)
		cancel()

		if err == nil && res == nil {
			err = gateway.NewError(gateway.KindNetwork, gateway.OpFetchStatus, "empty response", gateway.ErrMalformedReply)
		}
		if err == nil {
			return res, nil
		}
		if e.ctx.Err() != nil {
			return nil, ErrCancelled
		}

		kind := gateway.KindOf(err)
		if !kind.Retryable() || attempt > s.cfg.MaxRetries {
			return nil, err
		}

		delay := s.backoff.NextInterval(attempt)
		s.metrics.SyncRetry()
		s.log.LogAttrs(e.ctx, slog.LevelDebug, "retrying status fetch",
			logger.SubscriptionID(e.id),
			logger.Attempt(attempt),
			logger.ErrorKind(string(kind)),
			logger.Duration(delay),
		)

		if err := retry.Wait(e.ctx, delay); err != nil {
			return nil, ErrCancelled
		}
	}
}

// applySync commits a fetch result dispatched at version.
func (s *Store) applySync(e *entry, version uint64, res *gateway.StatusResult, fetchErr error) (Record, error) {
	e.mu.Lock()
	e.inflight = nil

	if e.evicted || errors.Is(fetchErr, ErrCancelled) {
		_, _ = e.sync.Fire(syncDiscard)
		rec := e.rec
		e.mu.Unlock()
		return rec, opError(opSync, e.id, ErrCancelled)
	}

	// a lifecycle call owns the record while it is Syncing
	if e.rec.Version != version || e.rec.Status == StatusSyncing {
		_, _ = e.sync.Fire(syncDiscard)
		rec := e.rec
		followUp := rec.Status != StatusSyncing && (e.refetch || rec.Status == StatusUnknown)
		e.mu.Unlock()

		s.metrics.StaleDiscard(opSync)
		s.log.Debug("stale sync result discarded",
			logger.SubscriptionID(e.id),
			slog.Uint64("dispatched_version", version),
			logger.Version(rec.Version),
			slog.Bool("follow_up", followUp),
		)

		if followUp {
			return s.followUp(e)
		}
		return rec, nil
	}

	var (
		rec Record
		err error
	)
	if fetchErr == nil {
		rec, err = e.commitLocked(version, func(r *Record) {
			r.Status = statusFromGateway(res.Status)
			r.LastError = nil
			if r.ClientSecret.IsZero() && e.awaitingRedirect() {
				r.ClientSecret = res.ClientSecret
			}
		})
		_, _ = e.sync.Fire(syncSucceed)
	} else {
		rec, err = e.commitLocked(version, func(r *Record) {
			r.Status = StatusError
			r.LastError = newRecordError(fetchErr)
		})
		_, _ = e.sync.Fire(syncFail)
	}
	e.mu.Unlock()

	if err != nil {
		s.log.Error("failed to commit sync result", logger.SubscriptionID(e.id), logger.Error(err))
		return rec, opError(opSync, e.id, err)
	}

	if fetchErr != nil {
		s.log.Warn("subscription sync failed",
			logger.SubscriptionID(e.id),
			logger.Version(rec.Version),
			logger.ErrorKind(string(rec.LastError.Kind)),
			logger.Error(fetchErr),
		)
		return rec, opError(opSync, e.id, fetchErr)
	}

	s.log.Debug("subscription synced",
		logger.SubscriptionID(e.id),
		logger.Version(rec.Version),
		logger.Status(rec.Status.String()),
	)
	return rec, nil
}

// followUp runs one more sync for callers that joined a stale fetch.
func (s *Store) followUp(e *entry) (Record, error) {
	rec, err := s.startSync(e).Await(e.ctx)
	if err != nil && e.ctx.Err() != nil && !IsCancelled(err) {
		return rec, opError(opSync, e.id, ErrCancelled)
	}
	return rec, err
}
