// internal/access/middleware.go
package access

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PrincipalHeader carries the caller identity resolved by the wallet/auth
// layer in front of the ledger.
const PrincipalHeader = "X-Principal"

// Wire codes of the errors written by this package.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeRateLimited     = "rate_limited"
)

type (
	principalKey struct{}
	verifiedKey  struct{}
)

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the caller identity placed by Identify.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p != ""
}

// Identify resolves the caller from PrincipalHeader and, for protected
// principals, checks the bearer token. Anonymous requests pass through
// without a principal in the context.
func Identify(creds *Credentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := Principal(strings.TrimSpace(r.Header.Get(PrincipalHeader)))
			if p == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if err := creds.Verify(p, token); err != nil {
				WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			if creds.Protected(p) {
				ctx = context.WithValue(ctx, verifiedKey{}, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Verified reports whether the principal in ctx proved its identity with a
// token. Other principals are only claimed by the caller.
func Verified(ctx context.Context) bool {
	v, _ := ctx.Value(verifiedKey{}).(bool)
	return v
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes an ErrorBody with status.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{Error: msg, Code: code})
}

const defaultIdleTimeout = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per key. Verified principals are
// keyed by principal; everyone else by remote address, since an unverified
// X-Principal costs nothing to rotate. Buckets idle longer than the idle
// timeout are evicted.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithIdleTimeout sets how long an unused bucket is kept.
func WithIdleTimeout(d time.Duration) LimiterOption {
	return func(rl *RateLimiter) {
		rl.idle = d
	}
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst for every key.
func NewRateLimiter(rps float64, burst int, opts ...LimiterOption) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    defaultIdleTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	rl.lastSweep = rl.now()
	return rl
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweep(now)
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweep drops idle buckets. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.idle {
			delete(rl.buckets, key)
		}
	}
	rl.lastSweep = now
}

// Middleware rejects requests over the caller's budget with 429. It must be
// installed after Identify.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(limiterKey(r)) {
			WriteError(w, http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limiterKey(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok && Verified(r.Context()) {
		return "principal:" + string(p)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
