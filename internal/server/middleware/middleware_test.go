package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAuth(t *testing.T) {
	h := Auth("k3y", "/api/health")(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public path", "/api/health", nil, http.StatusOK},
		{"missing token", "/api/chains", nil, http.StatusUnauthorized},
		{"bearer", "/api/chains", map[string]string{"Authorization": "Bearer k3y"}, http.StatusOK},
		{"api key header", "/api/chains", map[string]string{"X-API-Key": "k3y"}, http.StatusOK},
		{"wrong key", "/api/chains", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	w := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chains", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/api/attestations", nil)
	r.Header.Set("Origin", "https://dash.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/chains", nil)
	r.Header.Set("Origin", "https://other.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(quiet())(okHandler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

type countingLimiter struct {
	n    int
	keys []string
	err  error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	c.keys = append(c.keys, key)
	if c.err != nil {
		return false, c.err
	}
	c.n++
	return c.n <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{}
	h := RateLimit(lim, 2, time.Minute, quiet())(okHandler)

	codes := make([]int, 3)
	for i := range codes {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes[i] = w.Code
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	require.NotEmpty(t, lim.keys)
	assert.Equal(t, "api:203.0.113.7", lim.keys[0])
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Second, quiet())(okHandler)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
