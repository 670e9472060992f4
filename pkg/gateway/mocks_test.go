package gateway_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
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

// MockObserver is a mock implementation of gateway.Observer.
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) ObserveCall(op string, kind gateway.Kind, d time.Duration) {
	m.Called(op, kind, d)
}
