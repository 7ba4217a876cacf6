package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/internal/observability"
	"github.com/upb/transcriber-gateway/models"
	"github.com/upb/transcriber-gateway/repositories"
	"go.uber.org/zap"
)

// Options tunes a Gateway
type Options struct {
	Collection          string
	VerifyTimeout       time.Duration
	LookupTimeout       time.Duration
	EnforceSubjectMatch bool
}

// Gateway decides whether a credential may reach protected handlers.
// A request is allowed only when its token verifies and an account exists
// for the claimed subject. Every failure path denies.
type Gateway struct {
	verifier identity.Verifier
	accounts repositories.AccountStore
	opts     Options
	logger   *zap.Logger
}

// New creates a Gateway
func New(verifier identity.Verifier, accounts repositories.AccountStore, opts Options, logger *zap.Logger) *Gateway {
	if opts.Collection == "" {
		opts.Collection = models.DefaultAccountCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		verifier: verifier,
		accounts: accounts,
		opts:     opts,
		logger:   logger,
	}
}

// Evaluate extracts the credential from r and authorizes it
func (g *Gateway) Evaluate(r *http.Request) Decision {
	cred, err := ExtractCredential(r)
	if err != nil {
		d := DecisionFor(err)
		g.record(r.Context(), "extract", nil, d)
		return d
	}
	return g.Authorize(r.Context(), cred)
}

// Authorize verifies the credential's token and then looks up the account
// for its claimed subject. It never returns an allow decision on error.
func (g *Gateway) Authorize(ctx context.Context, cred *Credential) (decision Decision) {
	stage := "verify"
	defer func() {
		if rec := recover(); rec != nil {
			decision = DecisionFor(NewError(ReasonInternal, fmt.Errorf("panic: %v", rec)))
		}
		g.record(ctx, stage, cred, decision)
	}()

	if cred == nil || cred.BearerToken == "" {
		return DecisionFor(ErrMissingCredential)
	}
	if cred.ClaimedSubjectID == "" {
		return DecisionFor(ErrMissingSubjectID)
	}

	id, err := g.verify(ctx, cred.BearerToken)
	if err != nil {
		return DecisionFor(err)
	}

	if g.opts.EnforceSubjectMatch && id.Subject != cred.ClaimedSubjectID {
		stage = "subject"
		return DecisionFor(NewError(ReasonSubjectMismatch,
			fmt.Errorf("token subject %q, claimed %q", id.Subject, cred.ClaimedSubjectID)))
	}

	stage = "lookup"
	account, err := g.lookup(ctx, cred.ClaimedSubjectID)
	if err != nil {
		return DecisionFor(err)
	}

	stage = "allow"
	return Allow(id, account)
}

func (g *Gateway) verify(ctx context.Context, token string) (*identity.VerifiedIdentity, error) {
	if g.opts.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.VerifyTimeout)
		defer cancel()
	}

	id, err := g.verifier.Verify(ctx, token)
	switch {
	case err == nil && id == nil:
		return nil, NewError(ReasonInternal, errors.New("verifier returned no identity"))
	case err == nil:
		return id, nil
	case errors.Is(err, identity.ErrProviderUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return nil, NewError(ReasonIdentityProviderUnavailable, err)
	default:
		return nil, NewError(ReasonInvalidToken, err)
	}
}

func (g *Gateway) lookup(ctx context.Context, subjectID string) (*models.Account, error) {
	if g.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.LookupTimeout)
		defer cancel()
	}

	account, err := g.accounts.Get(ctx, g.opts.Collection, subjectID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil, NewError(ReasonAccountNotFound, err)
	case err != nil:
		return nil, NewError(ReasonStoreUnavailable, err)
	case account == nil:
		return nil, NewError(ReasonAccountNotFound, errors.New("store returned no record"))
	}
	return account, nil
}

// record logs the decision; internal failures at error level with their cause
func (g *Gateway) record(ctx context.Context, stage string, cred *Credential, d Decision) {
	logger := observability.LoggerFromContext(ctx, g.logger)
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("outcome", string(d.Outcome)),
	}
	if cred != nil {
		fields = append(fields, zap.String("subject_id", cred.ClaimedSubjectID))
	}
	if d.Reason != "" {
		fields = append(fields, zap.String("reason", string(d.Reason)))
	}

	switch d.Outcome {
	case OutcomeAllow:
		logger.Debug("request allowed", fields...)
	case OutcomeDeny:
		logger.Info("request denied", append(fields, zap.NamedError("cause", d.Err))...)
	default:
		logger.Error("authorization failed", append(fields, zap.Error(d.Err))...)
	}
}
