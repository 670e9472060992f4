package gateway

import (
	"context"
	"errors"
	"testing"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaddle struct {
	status  string
	err     error
	lastTxn *paddle.CreateTransactionRequest
	calls   []string
}

func (f *fakePaddle) reply(op string) (*paddle.Subscription, error) {
	f.calls = append(f.calls, op)
	if f.err != nil {
		return nil, f.err
	}
	return &paddle.Subscription{ID: "sub_1", Status: paddle.SubscriptionStatus(f.status)}, nil
}

func (f *fakePaddle) GetSubscription(_ context.Context, req *paddle.GetSubscriptionRequest) (*paddle.Subscription, error) {
	return f.reply("get:" + req.SubscriptionID)
}

func (f *fakePaddle) CancelSubscription(_ context.Context, req *paddle.CancelSubscriptionRequest) (*paddle.Subscription, error) {
	f.status = "canceled"
	return f.reply("cancel:" + req.SubscriptionID)
}

func (f *fakePaddle) ResumeSubscription(_ context.Context, req *paddle.ResumeSubscriptionRequest) (*paddle.Subscription, error) {
	f.status = "active"
	return f.reply("resume:" + req.SubscriptionID)
}

func (f *fakePaddle) CreateTransaction(_ context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error) {
	f.lastTxn = req
	if f.err != nil {
		return nil, f.err
	}
	return &paddle.Transaction{ID: "txn_1"}, nil
}

func TestNewPaddleGateway_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPaddleGateway(PaddleConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewPaddleGateway(PaddleConfig{APIKey: "key", Environment: "staging"})
	assert.ErrorIs(t, err, ErrInvalidEnv)

	gw, err := NewPaddleGateway(PaddleConfig{APIKey: "key", Environment: "sandbox"})
	require.NoError(t, err)
	assert.NotNil(t, gw)
}

func TestPaddleGateway_Lifecycle(t *testing.T) {
	t.Parallel()

	f := &fakePaddle{status: "past_due"}
	gw := newPaddleGateway(0, f, f)
	ctx := context.Background()

	res, err := gw.FetchStatus(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, res.Status)

	mut, err := gw.Renew(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, mut.Status)

	mut, err = gw.Cancel(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, mut.Status)

	assert.Equal(t, []string{"get:sub_1", "resume:sub_1", "cancel:sub_1"}, f.calls)

	_, err = gw.Cancel(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestPaddleGateway_CreateCheckoutSession(t *testing.T) {
	t.Parallel()

	f := &fakePaddle{}
	gw := newPaddleGateway(0, f, f)

	sess, err := gw.CreateCheckoutSession(context.Background(), CheckoutParams{
		SubscriptionID: "sub_1",
		ProductID:      "pri_1",
		Amount:         900,
		Currency:       "EUR",
		CustomerID:     "ctm_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn_1", sess.SessionID)
	assert.Equal(t, "txn_1", sess.ClientSecret.Reveal())

	require.NotNil(t, f.lastTxn)
	assert.Len(t, f.lastTxn.Items, 1)
	assert.Equal(t, "sub_1", f.lastTxn.CustomData["subscription_id"])
	assert.Equal(t, "ctm_1", f.lastTxn.CustomData["customer_id"])
}

func TestPaddleError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", &paddleerr.Error{Code: "not_found", Detail: "missing"}, KindNotFound},
		{"entity not found", &paddleerr.Error{Code: "subscription_not_found"}, KindNotFound},
		{"rate limited", &paddleerr.Error{Code: "too_many_requests"}, KindRateLimited},
		{"internal", &paddleerr.Error{Code: "internal_error"}, KindNetwork},
		{"validation", &paddleerr.Error{Code: "invalid_field"}, KindInvalidRequest},
		{"transport", errors.New("connection reset"), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakePaddle{err: tt.err}
			_, err := newPaddleGateway(0, f, f).FetchStatus(context.Background(), "sub_1")
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	perr := paddleError(context.Background(), OpRenew, &paddleerr.Error{Code: "not_found", Detail: "missing"})
	assert.Equal(t, "missing", Message(perr))
}

func TestPaddleError_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := paddleError(ctx, OpFetchStatus, errors.New("request aborted"))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}
