package middleware

import (
	"context"
	"net/http"

	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// IdentityKey is the context key for the verified identity
	IdentityKey contextKey = "identity"

	// AccountKey is the context key for the account record
	AccountKey contextKey = "account"

	// PeerAddrKey is the context key for the TCP peer address of the connection
	PeerAddrKey contextKey = "peer_addr"
)

// GetIdentityFromContext retrieves the verified identity from context
func GetIdentityFromContext(ctx context.Context) *identity.VerifiedIdentity {
	if id, ok := ctx.Value(IdentityKey).(*identity.VerifiedIdentity); ok {
		return id
	}
	return nil
}

// WithIdentity adds a verified identity to the context
func WithIdentity(ctx context.Context, id *identity.VerifiedIdentity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetAccountFromContext retrieves the account record from context
func GetAccountFromContext(ctx context.Context) *models.Account {
	if account, ok := ctx.Value(AccountKey).(*models.Account); ok {
		return account
	}
	return nil
}

// WithAccount adds an account record to the context
func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// CapturePeer records r.RemoteAddr as the connection's peer address. It must
// run before any middleware that rewrites RemoteAddr from forwarded headers.
func CapturePeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), PeerAddrKey, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPeerAddrFromContext returns the address recorded by CapturePeer
func GetPeerAddrFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(PeerAddrKey).(string)
	return addr, ok && addr != ""
}
