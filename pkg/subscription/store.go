package subscription

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/async"
	"github.com/dmitrymomot/billingsync/pkg/broadcast"
	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/lock"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/retry"
	"github.com/dmitrymomot/billingsync/pkg/statemachine"
)

var errStale = errors.New("record version moved on")

// Store owns one Record per tracked subscription id and serialises every
// change to it through versioned commits. Presentation layers track ids,
// observe the returned handles and call the operation methods; they never
// talk to the gateway directly.
type Store struct {
	gw      gateway.Gateway
	cfg     Config
	log     *slog.Logger
	metrics Metrics
	locker  lock.Locker
	now     func() time.Time
	backoff retry.Strategy

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewStore creates a store backed by gw.
// Panics if gw is nil so misconfiguration stops startup.
func NewStore(gw gateway.Gateway, opts ...Option) *Store {
	if gw == nil {
		panic("subscription: gateway is required")
	}

	s := &Store{
		gw:      gw,
		cfg:     DefaultConfig(),
		log:     logger.Discard(),
		metrics: noopMetrics{},
		locker:  lock.NewMemoryLocker(),
		now:     time.Now,
		done:    make(chan struct{}),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cfg = s.cfg.normalize()
	s.backoff = s.cfg.backoff()
	s.log = s.log.With(logger.Component("subscription"))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.cfg.PollInterval > 0 {
		go s.poll(s.ctx, s.cfg.PollInterval)
	} else {
		close(s.done)
	}

	return s
}

// Track starts tracking id and returns an observable handle. The first
// handle for an id creates the record in StatusUnknown and starts a sync.
// The record is evicted when the last handle is closed.
func (s *Store) Track(ctx context.Context, id string) (*Subscription, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	e, ok := s.entries[id]
	if !ok {
		e = newEntry(s.ctx, id, s.now)
		s.entries[id] = e
	}
	e.refs++
	n := len(s.entries)
	s.mu.Unlock()

	h := &Subscription{
		store:   s,
		entry:   e,
		updates: e.topic.Subscribe(e.ctx),
	}

	if !ok {
		s.metrics.Tracked(n)
		s.log.DebugContext(ctx, "subscription tracked", logger.SubscriptionID(id))
		s.startSync(e)
	}

	return h, nil
}

// Untrack evicts id immediately, closing every handle for it.
// In-flight operations for the id are cancelled and their results discarded.
func (s *Store) Untrack(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	n := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return opError("untrack", id, ErrNotTracked)
	}
	s.evict(e, n)
	return nil
}

// Get returns the current record for id.
func (s *Store) Get(id string) (Record, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Record{}, opError("get", id, err)
	}
	return e.snapshot(), nil
}

// Tracked returns the tracked ids in lexical order.
func (s *Store) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// Close stops the poller and evicts every tracked subscription.
// Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := slices.Collect(maps.Values(s.entries))
	clear(s.entries)
	s.mu.Unlock()

	s.cancel()
	<-s.done

	for _, e := range entries {
		e.evict()
	}
	s.metrics.Tracked(0)
	s.log.Debug("subscription store closed", slog.Int("evicted", len(entries)))
	return nil
}

func (s *Store) lookup(id string) (*entry, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotTracked
	}
	return e, nil
}

// release drops one handle reference and evicts the entry on the last one.
func (s *Store) release(e *entry) {
	s.mu.Lock()
	e.refs--
	last := e.refs <= 0 && s.entries[e.id] == e
	if last {
		delete(s.entries, e.id)
	}
	n := len(s.entries)
	s.mu.Unlock()

	if last {
		s.evict(e, n)
	}
}

func (s *Store) evict(e *entry, remaining int) {
	e.evict()
	s.metrics.Tracked(remaining)
	s.log.Debug("subscription evicted", logger.SubscriptionID(e.id))
}

// callContext bounds one gateway call by the configured timeout. The call is
// cancelled when the entry is evicted or when caller is done.
func (s *Store) callContext(caller context.Context, e *entry) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(e.ctx, s.cfg.GatewayTimeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// acquire takes the per-id lock shared by renew, cancel and checkout.
func (s *Store) acquire(ctx context.Context, id string) (lock.Lease, error) {
	lease, err := s.locker.TryLock(ctx, lockKey(id), s.cfg.LockTTL)
	switch {
	case err == nil:
		return lease, nil
	case errors.Is(err, lock.ErrLocked):
		return nil, errors.Join(ErrConflict, err)
	case ctx.Err() != nil:
		return nil, errors.Join(ErrCancelled, err)
	default:
		return nil, err
	}
}

func (s *Store) releaseLease(lease lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GatewayTimeout)
	defer cancel()

	if err := lease.Release(ctx); err != nil {
		s.log.Warn("failed to release subscription lock",
			slog.String("key", lease.Key()),
			logger.Error(err),
		)
	}
}

func lockKey(id string) string {
	return "subscription:" + id
}

// entry is the per-id state. refs is guarded by Store.mu, everything else
// by entry.mu. Lock order is Store.mu before entry.mu.
type entry struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	topic  *broadcast.Topic[Record]
	now    func() time.Time

	refs int

	mu              sync.Mutex
	rec             Record
	evicted         bool
	sync            *statemachine.Machine[SyncState, syncEvent]
	inflight        *async.Future[Record]
	inflightVersion uint64
	refetch         bool
	checkout        *checkoutFlow
}

func newEntry(parent context.Context, id string, now func() time.Time) *entry {
	ctx, cancel := context.WithCancel(parent)
	rec := Record{ID: id, Status: StatusUnknown, UpdatedAt: now()}

	return &entry{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		topic:  broadcast.NewTopicWithValue(rec),
		now:    now,
		rec:    rec,
		sync:   syncTable.NewMachine(SyncIdle),
	}
}

func (e *entry) snapshot() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

func (e *entry) commit(expect uint64, mutate func(*Record)) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitLocked(expect, mutate)
}

// commitLocked applies mutate only if the record is still at version expect.
// The new record gets the next version, is validated and then published.
func (e *entry) commitLocked(expect uint64, mutate func(*Record)) (Record, error) {
	if e.evicted {
		return e.rec, ErrCancelled
	}
	if e.rec.Version != expect {
		return e.rec, errStale
	}

	next := e.rec
	mutate(&next)
	next.ID = e.id
	next.Version = e.rec.Version + 1
	next.UpdatedAt = e.now()

	if err := next.validate(e.awaitingRedirect()); err != nil {
		return e.rec, err
	}

	e.rec = next
	_ = e.topic.Publish(next)
	return next, nil
}

func (e *entry) awaitingRedirect() bool {
	return e.checkout != nil && e.checkout.state() == CheckoutAwaitingRedirect
}

func (e *entry) checkoutPending() bool {
	if e.checkout == nil {
		return false
	}
	switch e.checkout.state() {
	case CheckoutCreatingSession, CheckoutAwaitingRedirect:
		return true
	}
	return false
}

// evict cancels every in-flight operation, tears down a pending checkout and
// closes all handles. The client secret never outlives the entry.
func (e *entry) evict() {
	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}
	e.evicted = true
	if e.checkoutPending() {
		_, _ = e.checkout.machine.Fire(checkoutTeardown)
	}
	e.rec.ClientSecret = ""
	e.mu.Unlock()

	e.cancel()
	_ = e.topic.Close()
}

// Subscription is an observable handle on one tracked record.
type Subscription struct {
	store   *Store
	entry   *entry
	updates *broadcast.Subscription[Record]
	once    sync.Once
}

// ID returns the subscription id.
func (h *Subscription) ID() string {
	return h.entry.id
}

// Current returns the latest record.
func (h *Subscription) Current() Record {
	return h.entry.snapshot()
}

// Updates delivers committed records. Delivery is conflating: a slow reader
// skips intermediate versions but always receives the latest one. The
// channel is closed when the handle is closed or the id is evicted.
func (h *Subscription) Updates() <-chan Record {
	return h.updates.C()
}

// Close releases the handle. Closing the last handle for an id evicts it.
func (h *Subscription) Close() error {
	h.once.Do(func() {
		_ = h.updates.Close()
		h.store.release(h.entry)
	})
	return nil
}
