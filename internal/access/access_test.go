package access

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	c := NewControl("0xowner")

	tests := []struct {
		name      string
		principal Principal
		op        Operation
		wantErr   bool
	}{
		{"owner adds book", "0xowner", OpAddBook, false},
		{"owner updates stock", "0xowner", OpUpdateStock, false},
		{"stranger adds book", "0xstranger", OpAddBook, true},
		{"stranger updates stock", "0xstranger", OpUpdateStock, true},
		{"anonymous updates stock", "", OpUpdateStock, true},
		{"stranger purchases", "0xstranger", OpPurchaseBook, false},
		{"stranger favorites", "0xstranger", OpAddFavorite, false},
		{"stranger unfavorites", "0xstranger", OpRemoveFavorite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Authorize(tt.principal, tt.op)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthorizeWithoutOwnerRejectsAdmin(t *testing.T) {
	assert.ErrorIs(t, NewControl("").Authorize("", OpAddBook), ErrUnauthorized)
}

func TestCredentials(t *testing.T) {
	creds := NewCredentials()
	require.NoError(t, creds.Register("0xowner", "s3cret"))

	assert.True(t, creds.Protected("0xowner"))
	assert.False(t, creds.Protected("0xbuyer"))

	assert.NoError(t, creds.Verify("0xowner", "s3cret"))
	assert.ErrorIs(t, creds.Verify("0xowner", "wrong"), ErrUnauthenticated)
	assert.ErrorIs(t, creds.Verify("0xowner", ""), ErrUnauthenticated)
	assert.NoError(t, creds.Verify("0xbuyer", ""))

	assert.ErrorIs(t, creds.Register("", "x"), ErrEmptyCredentials)
}

func TestVerifyTokenRejectsMalformedHash(t *testing.T) {
	_, err := verifyToken("token", "no-separator")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestIdentify(t *testing.T) {
	creds := NewCredentials()
	require.NoError(t, creds.Register("0xowner", "s3cret"))

	var (
		seen     Principal
		verified bool
	)
	handler := Identify(creds)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		verified = Verified(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name         string
		principal    string
		token        string
		wantCode     int
		wantSeen     Principal
		wantVerified bool
	}{
		{"anonymous", "", "", http.StatusNoContent, "", false},
		{"buyer", "0xbuyer", "", http.StatusNoContent, "0xbuyer", false},
		{"owner with token", "0xowner", "s3cret", http.StatusNoContent, "0xowner", true},
		{"owner without token", "0xowner", "", http.StatusUnauthorized, "", false},
		{"owner with bad token", "0xowner", "nope", http.StatusUnauthorized, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, verified = "", false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.principal != "" {
				req.Header.Set(PrincipalHeader, tt.principal)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantSeen, seen)
			assert.Equal(t, tt.wantVerified, verified)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				var body ErrorBody
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, CodeUnauthenticated, body.Code)
				assert.Contains(t, body.Error, ErrUnauthenticated.Error())
			}
		})
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	assert.True(t, rl.Allow("principal:0xa"))
	assert.True(t, rl.Allow("principal:0xa"))
	assert.False(t, rl.Allow("principal:0xa"))
	assert.True(t, rl.Allow("principal:0xb"), "buckets are per key")
}

func limitedHandler(creds *Credentials, rl *RateLimiter) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Identify(creds)(rl.Middleware(ok))
}

func TestRateLimiterIgnoresClaimedPrincipals(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := limitedHandler(NewCredentials(), rl)

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = fmt.Sprintf("203.0.113.7:%d", 40000+i)
		req.Header.Set(PrincipalHeader, fmt.Sprintf("0x%040x", i))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code == http.StatusOK {
			allowed++
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, CodeRateLimited, body.Code)
	}

	assert.Equal(t, 1, allowed, "rotating X-Principal must not mint new buckets")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiterVerifiedPrincipalHasOwnBucket(t *testing.T) {
	creds := NewCredentials()
	require.NoError(t, creds.Register("0xowner", "s3cret"))
	handler := limitedHandler(creds, NewRateLimiter(1, 1))

	send := func(principal, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.1:5555"
		if principal != "" {
			req.Header.Set(PrincipalHeader, principal)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("0xbuyer", ""))
	assert.Equal(t, http.StatusTooManyRequests, send("", ""), "anonymous shares the address bucket")
	assert.Equal(t, http.StatusOK, send("0xowner", "s3cret"))
	assert.Equal(t, http.StatusTooManyRequests, send("0xowner", "s3cret"))
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(0.001, 1, WithIdleTimeout(time.Minute))
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	for i := 0; i < 10; i++ {
		rl.Allow(fmt.Sprintf("addr:10.0.0.%d", i))
	}
	assert.Equal(t, 10, rl.Len())
	assert.False(t, rl.Allow("addr:10.0.0.0"))

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("addr:10.0.0.0"), "evicted bucket starts full")
	assert.Equal(t, 1, rl.Len())
}
