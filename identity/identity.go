package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token fails verification
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrInvalidSubject is returned when the sub claim is missing or malformed
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrProviderUnavailable is returned when the provider's signing keys
	// cannot be obtained (unreachable, timeout, bad response)
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// maxSubjectLength is the longest uid the provider issues
const maxSubjectLength = 128

// Claims represents the claims carried by a provider-issued ID token
type Claims struct {
	jwt.RegisteredClaims
	Email         string           `json:"email,omitempty"`
	EmailVerified bool             `json:"email_verified,omitempty"`
	AuthTime      *jwt.NumericDate `json:"auth_time,omitempty"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider,omitempty"`
	} `json:"firebase"`
}

// VerifiedIdentity is the trust-anchored result of verifying a bearer token
type VerifiedIdentity struct {
	Subject        string    `json:"sub"`
	Email          string    `json:"email,omitempty"`
	EmailVerified  bool      `json:"email_verified,omitempty"`
	SignInProvider string    `json:"sign_in_provider,omitempty"`
	AuthTime       time.Time `json:"auth_time"`
	IssuedAt       time.Time `json:"iat"`
	ExpiresAt      time.Time `json:"exp"`
}

// Expired reports whether the underlying token is past its expiry at now
func (v *VerifiedIdentity) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// toIdentity converts verified claims into a VerifiedIdentity
func toIdentity(claims *Claims) *VerifiedIdentity {
	id := &VerifiedIdentity{
		Subject:        claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		SignInProvider: claims.Firebase.SignInProvider,
	}
	if claims.AuthTime != nil {
		id.AuthTime = claims.AuthTime.Time
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id
}
