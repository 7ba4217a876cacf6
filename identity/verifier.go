package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuerPrefix is prepended to the project id to form the expected iss claim
const DefaultIssuerPrefix = "https://securetoken.google.com/"

// Verifier exchanges a bearer token for a verified identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*VerifiedIdentity, error)
}

// Config holds configuration for FirebaseVerifier
type Config struct {
	ProjectID   string
	JWKSURL     string
	KeySetTTL   time.Duration
	HTTPTimeout time.Duration
	ClockSkew   time.Duration
}

// FirebaseVerifier validates ID tokens issued by Firebase Authentication
type FirebaseVerifier struct {
	projectID string
	issuer    string
	clockSkew time.Duration
	keys      *KeySet
	now       func() time.Time
}

// NewFirebaseVerifier creates a new ID token verifier
func NewFirebaseVerifier(config Config) (*FirebaseVerifier, error) {
	if config.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if config.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 10 * time.Second
	}

	return &FirebaseVerifier{
		projectID: config.ProjectID,
		issuer:    DefaultIssuerPrefix + config.ProjectID,
		clockSkew: config.ClockSkew,
		keys:      NewKeySet(config.JWKSURL, &http.Client{Timeout: config.HTTPTimeout}, config.KeySetTTL),
		now:       time.Now,
	}, nil
}

// Issuer returns the iss claim tokens must carry
func (v *FirebaseVerifier) Issuer() string {
	return v.issuer
}

// KeySet exposes the verifier's signing key cache
func (v *FirebaseVerifier) KeySet() *KeySet {
	return v.keys
}

// Verify validates the token signature and claims and returns the identity it carries.
// Validation failures wrap ErrInvalidToken; key-set retrieval failures wrap
// ErrProviderUnavailable.
func (v *FirebaseVerifier) Verify(ctx context.Context, tokenString string) (*VerifiedIdentity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("kid header not found")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.AuthTime != nil && claims.AuthTime.Time.After(v.now().Add(v.clockSkew)) {
		return nil, fmt.Errorf("%w: auth_time is in the future", ErrInvalidToken)
	}
	if claims.Subject == "" || len(claims.Subject) > maxSubjectLength {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidSubject)
	}

	return toIdentity(claims), nil
}

// classify maps parser errors onto this package's sentinels
func classify(err error) error {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidIssuer)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidAudience)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
