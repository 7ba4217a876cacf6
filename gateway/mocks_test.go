package gateway

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/models"
)

// MockVerifier is a mock implementation of identity.Verifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (*identity.VerifiedIdentity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.VerifiedIdentity), args.Error(1)
}

// MockAccountStore is a mock implementation of repositories.AccountStore
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) Get(ctx context.Context, collection, key string) (*models.Account, error) {
	args := m.Called(ctx, collection, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}
