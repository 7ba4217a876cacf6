package middleware

import (
	"net/http"

	"github.com/upb/transcriber-gateway/gateway"
	"github.com/upb/transcriber-gateway/internal/observability"
	"github.com/upb/transcriber-gateway/utils"
	"go.uber.org/zap"
)

// Authorizer evaluates a request against the verification gateway
type Authorizer interface {
	Evaluate(r *http.Request) gateway.Decision
}

// GatewayMiddleware puts the verification gateway in front of handlers
type GatewayMiddleware struct {
	authorizer Authorizer
	logger     *zap.Logger
}

// NewGatewayMiddleware creates a new GatewayMiddleware
func NewGatewayMiddleware(authorizer Authorizer, logger *zap.Logger) *GatewayMiddleware {
	return &GatewayMiddleware{
		authorizer: authorizer,
		logger:     logger,
	}
}

// RequireAccount lets a request through only when the gateway allows it.
// Allowed requests reach next untouched apart from the identity and account
// added to their context; everything else ends here with a JSON error.
func (m *GatewayMiddleware) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := observability.EnsureRequestID(r.Context())
		r = r.WithContext(ctx)

		decision := m.authorizer.Evaluate(r)
		if !decision.Allowed() {
			_ = utils.WriteError(w, decision.Status, decision.Message)
			return
		}

		ctx = WithIdentity(ctx, decision.Identity)
		ctx = WithAccount(ctx, decision.Account)

		observability.LoggerFromContext(ctx, m.logger).Debug("gateway passed",
			zap.String("subject_id", decision.Account.SubjectID),
			zap.String("path", r.URL.Path))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
