package gateway_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

func TestInstrumented_Success(t *testing.T) {
	t.Parallel()

	next := &MockGateway{}
	obs := &MockObserver{}
	var buf bytes.Buffer

	gw := gateway.Instrument(next,
		gateway.WithObserver(obs),
		gateway.WithCallLogger(logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelDebug))),
	)

	next.On("FetchStatus", mock.Anything, "sub_1").
		Return(&gateway.StatusResult{Status: gateway.StatusActive, ClientSecret: "cs_live_secret"}, nil).Once()
	obs.On("ObserveCall", gateway.OpFetchStatus, gateway.Kind(""), mock.AnythingOfType("time.Duration")).Once()

	res, err := gw.FetchStatus(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusActive, res.Status)

	out := buf.String()
	assert.Contains(t, out, `"operation":"fetch_status"`)
	assert.Contains(t, out, `"subscription_id":"sub_1"`)
	assert.NotContains(t, out, "cs_live_secret")

	next.AssertExpectations(t)
	obs.AssertExpectations(t)
}

func TestInstrumented_FailureReportsKind(t *testing.T) {
	t.Parallel()

	next := &MockGateway{}
	obs := &MockObserver{}
	var buf bytes.Buffer

	gw := gateway.Instrument(next,
		gateway.WithObserver(obs),
		gateway.WithCallLogger(logger.New(logger.WithOutput(&buf))),
	)

	gerr := gateway.NewError(gateway.KindRateLimited, gateway.OpRenew, "slow down", nil)
	next.On("Renew", mock.Anything, "sub_1").Return(nil, gerr).Once()
	obs.On("ObserveCall", gateway.OpRenew, gateway.KindRateLimited, mock.AnythingOfType("time.Duration")).Once()

	_, err := gw.Renew(context.Background(), "sub_1")
	assert.ErrorIs(t, err, gateway.ErrRateLimited)

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"error_kind":"rate_limited"`)

	obs.AssertExpectations(t)
}

func TestInstrumented_CheckoutNeverLogsSecret(t *testing.T) {
	t.Parallel()

	next := &MockGateway{}
	var buf bytes.Buffer
	gw := gateway.Instrument(next, gateway.WithCallLogger(logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelDebug))))

	params := gateway.CheckoutParams{SubscriptionID: "sub_1", ProductID: "p", Amount: 1, Currency: "usd"}
	next.On("CreateCheckoutSession", mock.Anything, params).
		Return(&gateway.CheckoutSession{SessionID: "cs_1", ClientSecret: "cs_1_secret_xyz"}, nil).Once()

	sess, err := gw.CreateCheckoutSession(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "cs_1_secret_xyz", sess.ClientSecret.Reveal(), "decorator passes the secret through")
	assert.Contains(t, buf.String(), `"session_id":"cs_1"`)
	assert.NotContains(t, buf.String(), "cs_1_secret_xyz")
}

func TestInstrumented_CancelWithoutObserver(t *testing.T) {
	t.Parallel()

	next := &MockGateway{}
	gw := gateway.Instrument(next)

	next.On("Cancel", mock.Anything, "sub_1").Return(&gateway.MutationResult{Status: gateway.StatusCanceled}, nil).Once()

	res, err := gw.Cancel(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCanceled, res.Status)
	next.AssertExpectations(t)
}
