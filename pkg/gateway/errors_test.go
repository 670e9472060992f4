package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
)

func TestKind_Retryable(t *testing.T) {
	t.Parallel()

	assert.True(t, gateway.KindNetwork.Retryable())
	assert.True(t, gateway.KindRateLimited.Retryable())
	assert.False(t, gateway.KindNotFound.Retryable())
	assert.False(t, gateway.KindInvalidRequest.Retryable())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want gateway.Kind
	}{
		{"nil", nil, ""},
		{"gateway error", gateway.NewError(gateway.KindNotFound, gateway.OpFetchStatus, "gone", nil), gateway.KindNotFound},
		{"wrapped gateway error", fmt.Errorf("outer: %w", gateway.NewError(gateway.KindRateLimited, "", "slow down", nil)), gateway.KindRateLimited},
		{"deadline", context.DeadlineExceeded, gateway.KindNetwork},
		{"unclassified", errors.New("boom"), gateway.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, gateway.KindOf(tt.err))
		})
	}
}

func TestError_IsKindSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("sync: %w", gateway.NewError(gateway.KindNotFound, gateway.OpFetchStatus, "no such subscription", assert.AnError))

	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.NotErrorIs(t, err, gateway.ErrNetwork)
	assert.ErrorIs(t, err, assert.AnError, "cause stays reachable")
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := gateway.NewError(gateway.KindInvalidRequest, gateway.OpRenew, "bad id", nil)
	assert.Equal(t, "gateway: renew: invalid_request: bad id", err.Error())
	assert.Equal(t, "bad id", gateway.Message(err))

	noMsg := gateway.NewError(gateway.KindNetwork, "", "", errors.New("reset by peer"))
	assert.Equal(t, "gateway: network: reset by peer", noMsg.Error())
	assert.Equal(t, "reset by peer", gateway.Message(noMsg))

	assert.Equal(t, "", gateway.Message(nil))
	assert.Equal(t, "plain", gateway.Message(errors.New("plain")))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   gateway.Status
		wantOK bool
	}{
		{"active", gateway.StatusActive, true},
		{"Active", gateway.StatusActive, true},
		{"trialing", gateway.StatusActive, true},
		{"canceled", gateway.StatusCanceled, true},
		{"cancelled", gateway.StatusCanceled, true},
		{"incomplete_expired", gateway.StatusCanceled, true},
		{"inactive", gateway.StatusInactive, true},
		{"past_due", gateway.StatusInactive, true},
		{"paused", gateway.StatusInactive, true},
		{"", "", false},
		{"  ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := gateway.ParseStatus(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckoutParams_Validate(t *testing.T) {
	t.Parallel()

	valid := gateway.CheckoutParams{SubscriptionID: "sub_1", ProductID: "prod_1", Amount: 1000, Currency: "usd"}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*gateway.CheckoutParams){
		"missing subscription": func(p *gateway.CheckoutParams) { p.SubscriptionID = "" },
		"missing product":      func(p *gateway.CheckoutParams) { p.ProductID = "" },
		"zero amount":          func(p *gateway.CheckoutParams) { p.Amount = 0 },
		"missing currency":     func(p *gateway.CheckoutParams) { p.Currency = "" },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := valid
			mutate(&p)
			err := p.Validate()
			assert.ErrorIs(t, err, gateway.ErrInvalidParams)
			assert.Equal(t, gateway.KindInvalidRequest, gateway.KindOf(err))
		})
	}
}
