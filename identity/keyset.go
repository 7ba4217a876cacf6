package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// minRefreshInterval bounds how often an unknown kid may force a refetch
const minRefreshInterval = time.Minute

// JWKS represents the JSON Web Key Set published by the provider
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// errUnknownKey is returned when the token names a kid the provider does not publish
var errUnknownKey = errors.New("signing key not published")

// KeySet caches the provider's public signing keys.
// Keys are fetched lazily; concurrent fetches collapse into one request.
type KeySet struct {
	url         string
	httpClient  *http.Client
	fallbackTTL time.Duration
	now         func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time

	inflight singleflight.Group
}

// NewKeySet creates a key set reading from url
func NewKeySet(url string, httpClient *http.Client, fallbackTTL time.Duration) *KeySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if fallbackTTL <= 0 {
		fallbackTTL = time.Hour
	}
	return &KeySet{
		url:         url,
		httpClient:  httpClient,
		fallbackTTL: fallbackTTL,
		now:         time.Now,
		keys:        make(map[string]*rsa.PublicKey),
	}
}

// Key returns the public key for kid, fetching the key set when needed.
// Fetch failures wrap ErrProviderUnavailable.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, found := k.keys[kid]
	fresh := k.now().Before(k.expiresAt)
	recent := k.now().Sub(k.fetchedAt) < minRefreshInterval
	k.mu.RUnlock()

	if fresh && found {
		return key, nil
	}
	if fresh && recent {
		return nil, fmt.Errorf("%w: kid %q", errUnknownKey, kid)
	}

	if err := k.refresh(ctx); err != nil {
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", errUnknownKey, kid)
}

// Invalidate drops the cached keys so the next lookup refetches
func (k *KeySet) Invalidate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = make(map[string]*rsa.PublicKey)
	k.expiresAt = time.Time{}
	k.fetchedAt = time.Time{}
}

// Len returns the number of cached keys
func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// refresh fetches the key set once for all concurrent callers.
// The shared fetch is detached from any single caller's cancellation;
// each caller still stops waiting when its own context ends.
func (k *KeySet) refresh(ctx context.Context) error {
	ch := k.inflight.DoChan("jwks", func() (any, error) {
		// Another flight may have completed while this caller waited.
		k.mu.RLock()
		now := k.now()
		done := now.Before(k.expiresAt) && now.Sub(k.fetchedAt) < minRefreshInterval
		k.mu.RUnlock()
		if done {
			return nil, nil
		}
		return nil, k.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
	}
}

func (k *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrProviderUnavailable, err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status code %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("%w: failed to decode JWKS: %v", ErrProviderUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		pub, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: key set contains no usable RSA keys", ErrProviderUnavailable)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = k.fallbackTTL
	}

	now := k.now()
	k.mu.Lock()
	k.keys = keys
	k.fetchedAt = now
	k.expiresAt = now.Add(ttl)
	k.mu.Unlock()

	return nil
}

// maxAge extracts the max-age directive from a Cache-Control header
func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
