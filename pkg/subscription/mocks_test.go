package subscription_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

// MockGateway is a mock implementation of gateway.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) FetchStatus(ctx context.Context, id string) (*gateway.StatusResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.StatusResult), args.Error(1)
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, params gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CheckoutSession), args.Error(1)
}

func (m *MockGateway) Renew(ctx context.Context, id string) (*gateway.MutationResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.MutationResult), args.Error(1)
}

func (m *MockGateway) Cancel(ctx context.Context, id string) (*gateway.MutationResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.MutationResult), args.Error(1)
}

// recordingMetrics is a subscription.Metrics that keeps counts in memory.
type recordingMetrics struct {
	mu      sync.Mutex
	tracked int
	retries int
	stale   int
	ops     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: make(map[string]int)}
}

func (m *recordingMetrics) Tracked(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = n
}

func (m *recordingMetrics) SyncRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) StaleDiscard(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *recordingMetrics) Operation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op+"/"+outcome]++
}

func (m *recordingMetrics) snapshot() (tracked, retries, stale int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked, m.retries, m.stale
}

func (m *recordingMetrics) operations(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[key]
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// gate blocks mock calls until released, or until the call's ctx is done.
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) run(args mock.Arguments) {
	g.once.Do(func() { close(g.started) })
	ctx := args.Get(0).(context.Context)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

func (g *gate) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway call did not start")
	}
}

func (g *gate) open() {
	close(g.release)
}

func testConfig() subscription.Config {
	return subscription.Config{
		GatewayTimeout:  2 * time.Second,
		MaxRetries:      3,
		BackoffBase:     time.Millisecond,
		BackoffMax:      4 * time.Millisecond,
		BackoffFactor:   2,
		LockTTL:         10 * time.Second,
		PollConcurrency: 4,
	}
}

func newTestStore(t *testing.T, gw gateway.Gateway, opts ...subscription.Option) *subscription.Store {
	t.Helper()
	store := subscription.NewStore(gw, append([]subscription.Option{subscription.WithConfig(testConfig())}, opts...)...)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func statusResult(s gateway.Status) *gateway.StatusResult {
	return &gateway.StatusResult{Status: s}
}

func mutationResult(s gateway.Status) *gateway.MutationResult {
	return &gateway.MutationResult{Status: s}
}

// waitForStatus waits until the record for id has status want.
func waitForStatus(t *testing.T, store *subscription.Store, id string, want subscription.Status) subscription.Record {
	t.Helper()
	var rec subscription.Record
	require.Eventually(t, func() bool {
		r, err := store.Get(id)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 2*time.Second, time.Millisecond, "record %s never reached %s", id, want)
	return rec
}

// trackAt tracks id and waits for the initial sync to commit status.
func trackAt(t *testing.T, store *subscription.Store, gw *MockGateway, id string, status gateway.Status) *subscription.Subscription {
	t.Helper()
	gw.On("FetchStatus", mock.Anything, id).Return(statusResult(status), nil).Once()

	sub, err := store.Track(context.Background(), id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	rec := waitForStatus(t, store, id, map[gateway.Status]subscription.Status{
		gateway.StatusActive:   subscription.StatusActive,
		gateway.StatusInactive: subscription.StatusInactive,
		gateway.StatusCanceled: subscription.StatusCanceled,
	}[status])
	require.Equal(t, uint64(1), rec.Version)
	return sub
}

func idempotencyKey(want string) any {
	return mock.MatchedBy(func(ctx context.Context) bool {
		key, _ := gateway.IdempotencyKeyFromContext(ctx)
		return key == want
	})
}
