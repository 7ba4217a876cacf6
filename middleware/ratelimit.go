package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/upb/transcriber-gateway/utils"
	"golang.org/x/time/rate"
)

// limiterEntry is a token bucket plus the last time its key was seen
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyRateLimiter provides per-key rate limiting using token buckets
type KeyRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewKeyRateLimiter allows reqPerMinute per key with ten seconds of burst
func NewKeyRateLimiter(reqPerMinute float64) *KeyRateLimiter {
	burst := int(reqPerMinute / 6)
	if burst < 1 {
		burst = 1
	}
	return &KeyRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(reqPerMinute / 60),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *KeyRateLimiter) entry(key string) *limiterEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = l.now()
	return e
}

// Allow reports whether key is within its rate limit and, when it is not,
// roughly how long until the next request would be admitted
func (l *KeyRateLimiter) Allow(key string) (bool, time.Duration) {
	e := l.entry(key)
	now := l.now()
	if e.limiter.AllowN(now, 1) {
		return true, 0
	}
	reservation := e.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, delay
}

// Prune forgets keys idle for longer than maxIdle and returns how many were dropped
func (l *KeyRateLimiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// StartPruner prunes idle keys every interval until ctx is done
func (l *KeyRateLimiter) StartPruner(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune(maxIdle)
		case <-ctx.Done():
			return
		}
	}
}

// IPRateLimiter is chi middleware that rate limits by client IP
type IPRateLimiter struct {
	inner *KeyRateLimiter
}

// NewIPRateLimiter creates an IPRateLimiter admitting reqPerMinute per client
func NewIPRateLimiter(reqPerMinute float64) *IPRateLimiter {
	return &IPRateLimiter{inner: NewKeyRateLimiter(reqPerMinute)}
}

// Limiter exposes the underlying per-key limiter
func (l *IPRateLimiter) Limiter() *KeyRateLimiter {
	return l.inner
}

// Middleware rejects requests over the limit with 429 and Retry-After
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ok, retryAfter := l.inner.Allow(ip); !ok {
			_ = utils.WriteTooManyRequests(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP keys on the connection peer captured by CapturePeer, so forwarded
// headers cannot select a fresh bucket. Without it RemoteAddr is used as is.
func clientIP(r *http.Request) string {
	addr, ok := GetPeerAddrFromContext(r.Context())
	if !ok {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
