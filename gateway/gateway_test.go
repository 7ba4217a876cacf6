package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/models"
	"github.com/upb/transcriber-gateway/repositories"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const collection = "user-accounts"

func validIdentity(subject string) *identity.VerifiedIdentity {
	return &identity.VerifiedIdentity{Subject: subject, ExpiresAt: time.Now().Add(time.Hour)}
}

func accountFor(subject string) *models.Account {
	return &models.Account{Collection: collection, SubjectID: subject}
}

func newTestGateway(v identity.Verifier, s repositories.AccountStore, opts Options) *Gateway {
	opts.Collection = collection
	return New(v, s, opts, zap.NewNop())
}

func TestAuthorize_Allow(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Return(accountFor("u1"), nil)

	d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
		&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

	assert.True(t, d.Allowed())
	assert.Equal(t, OutcomeAllow, d.Outcome)
	assert.Empty(t, d.Reason)
	assert.Equal(t, "abc", d.Identity.Subject)
	assert.Equal(t, "u1", d.Account.SubjectID)
	verifier.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestAuthorize_AccountNotFound(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u2").
		Return(nil, fmt.Errorf("account %s/u2: %w", collection, repositories.ErrNotFound))

	d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
		&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u2"})

	assert.False(t, d.Allowed())
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, ReasonAccountNotFound, d.Reason)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, "User account is not found", d.Message)
	assert.Nil(t, d.Identity)
	assert.Nil(t, d.Account)
}

func TestAuthorize_InvalidTokenNeverQueriesStore(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "forged").
		Return(nil, fmt.Errorf("%w: signature", identity.ErrInvalidToken))

	d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
		&Credential{BearerToken: "forged", ClaimedSubjectID: "u1"})

	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, ReasonInvalidToken, d.Reason)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, "Invalid or expired token", d.Message)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorize_ProviderUnavailableFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"provider down", fmt.Errorf("%w: status code 503", identity.ErrProviderUnavailable)},
		{"deadline", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := new(MockVerifier)
			store := new(MockAccountStore)
			verifier.On("Verify", mock.Anything, "valid-abc").Return(nil, tt.err)

			d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
				&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

			assert.Equal(t, OutcomeError, d.Outcome)
			assert.Equal(t, ReasonIdentityProviderUnavailable, d.Reason)
			assert.Equal(t, http.StatusInternalServerError, d.Status)
			assert.Equal(t, "Internal server error", d.Message)
			store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAuthorize_StoreErrorFailsClosed(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Return(nil, errors.New("connection reset"))

	d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
		&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

	assert.False(t, d.Allowed())
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)
	assert.Equal(t, http.StatusInternalServerError, d.Status)
	assert.ErrorIs(t, d.Err, ErrStoreUnavailable)
}

func TestAuthorize_StoreTimeoutFailsClosed(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	g := newTestGateway(verifier, store, Options{LookupTimeout: 20 * time.Millisecond})
	d := g.Authorize(context.Background(), &Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)
}

func TestAuthorize_VerifyRunsUnderTimeout(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").
		Run(func(args mock.Arguments) {
			_, ok := args.Get(0).(context.Context).Deadline()
			assert.True(t, ok)
		}).
		Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Return(accountFor("u1"), nil)

	g := newTestGateway(verifier, store, Options{VerifyTimeout: time.Second})
	d := g.Authorize(context.Background(), &Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})
	assert.True(t, d.Allowed())
}

func TestAuthorize_SubjectMatch(t *testing.T) {
	t.Run("lenient by default", func(t *testing.T) {
		verifier := new(MockVerifier)
		store := new(MockAccountStore)
		verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
		store.On("Get", mock.Anything, collection, "u1").Return(accountFor("u1"), nil)

		d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
			&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})
		assert.True(t, d.Allowed())
	})

	t.Run("strict mismatch denies before lookup", func(t *testing.T) {
		verifier := new(MockVerifier)
		store := new(MockAccountStore)
		verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)

		d := newTestGateway(verifier, store, Options{EnforceSubjectMatch: true}).Authorize(context.Background(),
			&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

		assert.Equal(t, OutcomeDeny, d.Outcome)
		assert.Equal(t, ReasonSubjectMismatch, d.Reason)
		assert.Equal(t, http.StatusUnauthorized, d.Status)
		assert.Equal(t, "Token subject does not match user ID", d.Message)
		store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("strict match allows", func(t *testing.T) {
		verifier := new(MockVerifier)
		store := new(MockAccountStore)
		verifier.On("Verify", mock.Anything, "valid-u1").Return(validIdentity("u1"), nil)
		store.On("Get", mock.Anything, collection, "u1").Return(accountFor("u1"), nil)

		d := newTestGateway(verifier, store, Options{EnforceSubjectMatch: true}).Authorize(context.Background(),
			&Credential{BearerToken: "valid-u1", ClaimedSubjectID: "u1"})
		assert.True(t, d.Allowed())
	})
}

func TestAuthorize_Idempotent(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Return(accountFor("u1"), nil)
	store.On("Get", mock.Anything, collection, "u2").Return(nil, repositories.ErrNotFound)

	g := newTestGateway(verifier, store, Options{})
	for _, subject := range []string{"u1", "u2"} {
		cred := &Credential{BearerToken: "valid-abc", ClaimedSubjectID: subject}
		first := g.Authorize(context.Background(), cred)
		for i := 0; i < 5; i++ {
			again := g.Authorize(context.Background(), cred)
			assert.Equal(t, first.Outcome, again.Outcome)
			assert.Equal(t, first.Reason, again.Reason)
			assert.Equal(t, first.Status, again.Status)
		}
	}
}

func TestAuthorize_IncompleteCredential(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	g := newTestGateway(verifier, store, Options{})

	assert.Equal(t, ReasonMissingCredential, g.Authorize(context.Background(), nil).Reason)
	assert.Equal(t, ReasonMissingCredential,
		g.Authorize(context.Background(), &Credential{ClaimedSubjectID: "u1"}).Reason)
	assert.Equal(t, ReasonMissingSubjectID,
		g.Authorize(context.Background(), &Credential{BearerToken: "valid-abc"}).Reason)

	verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorize_PanicBecomesInternal(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Run(func(mock.Arguments) {
		panic("driver bug")
	}).Return(nil, nil)

	d := newTestGateway(verifier, store, Options{}).Authorize(context.Background(),
		&Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Equal(t, ReasonInternal, d.Reason)
	assert.Equal(t, http.StatusInternalServerError, d.Status)
}

func TestAuthorize_NilResultsDeny(t *testing.T) {
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "empty").Return(nil, nil)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Return(nil, nil)

	g := newTestGateway(verifier, store, Options{})

	d := g.Authorize(context.Background(), &Credential{BearerToken: "empty", ClaimedSubjectID: "u1"})
	assert.Equal(t, ReasonInternal, d.Reason)

	d = g.Authorize(context.Background(), &Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})
	assert.Equal(t, ReasonAccountNotFound, d.Reason)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		body       string
		wantReason Reason
		wantStatus int
		wantMsg    string
	}{
		{"allowed", "Bearer valid-abc", `{"user_id":"u1"}`, "", 0, ""},
		{"unknown account", "Bearer valid-abc", `{"user_id":"u2"}`, ReasonAccountNotFound, 401, "User account is not found"},
		{"no header", "", `{"user_id":"u1"}`, ReasonMissingCredential, 401, "Missing or invalid authorization header"},
		{"missing user_id", "Bearer valid-abc", `{}`, ReasonMissingSubjectID, 400, "User ID is required"},
		{"bad json", "Bearer valid-abc", `{`, ReasonMalformedRequestBody, 400, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := new(MockVerifier)
			store := new(MockAccountStore)
			verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil).Maybe()
			store.On("Get", mock.Anything, collection, "u1").Return(accountFor("u1"), nil).Maybe()
			store.On("Get", mock.Anything, collection, "u2").Return(nil, repositories.ErrNotFound).Maybe()

			d := newTestGateway(verifier, store, Options{}).Evaluate(newRequest(tt.header, tt.body))

			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantMsg, d.Message)
			if tt.wantReason == ReasonMissingCredential {
				verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
				store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAuthorize_LogsInternalFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	verifier := new(MockVerifier)
	store := new(MockAccountStore)
	verifier.On("Verify", mock.Anything, "valid-abc").Return(validIdentity("abc"), nil)
	store.On("Get", mock.Anything, collection, "u1").Return(nil, errors.New("connection reset"))

	g := New(verifier, store, Options{Collection: collection}, zap.New(core))
	g.Authorize(context.Background(), &Credential{BearerToken: "valid-abc", ClaimedSubjectID: "u1"})

	entries := logs.FilterMessage("authorization failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "lookup", fields["stage"])
	assert.Equal(t, "u1", fields["subject_id"])
	assert.Equal(t, string(ReasonStoreUnavailable), fields["reason"])
}
