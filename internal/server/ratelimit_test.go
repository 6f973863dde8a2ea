// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	mw := rateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: 0,
		Burst:             10,
	}, quietLogger(), done)
	wrapped := mw(okHandler())

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitMiddleware_WithinLimit(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	mw := rateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             5,
	}, quietLogger(), done)
	wrapped := mw(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i)
	}
}

func TestRateLimitMiddleware_ExceedsLimit(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	mw := rateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             3,
	}, quietLogger(), done)
	wrapped := mw(okHandler())

	ip := "192.168.1.1:12345"

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimitMiddleware_PerIPIsolation(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	mw := rateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             2,
	}, quietLogger(), done)
	wrapped := mw(okHandler())

	ip1 := "192.168.1.1:12345"
	ip2 := "192.168.1.2:12345"

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = ip1
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req1.RemoteAddr = ip1
	w1 := httptest.NewRecorder()
	wrapped.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusTooManyRequests, w1.Code)

	// The second IP still has its full burst.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = ip2
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "second IP request %d should succeed", i)
	}
}

func TestRateLimitMiddleware_TokenRefill(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	// 10 requests per second refills one token every 100ms.
	mw := rateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             2,
	}, quietLogger(), done)
	wrapped := mw(okHandler())

	ip := "192.168.1.1:12345"

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	time.Sleep(150 * time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = ip
	w = httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "request should succeed after token refill")
}

func TestRateLimitMiddleware_CleanupShutdown(t *testing.T) {
	done := make(chan struct{})
	mw := rateLimitMiddleware(RateLimitConfig{RequestsPerSecond: 10, Burst: 5}, quietLogger(), done)
	wrapped := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Closing done must stop the cleanup goroutine.
	close(done)
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr bool
	}{
		{"valid", RateLimitConfig{RequestsPerSecond: 10, Burst: 5}, false},
		{"valid with max visitors", RateLimitConfig{RequestsPerSecond: 10, Burst: 5, MaxVisitors: 1000}, false},
		{"disabled", RateLimitConfig{}, false},
		{"zero burst with positive rate", RateLimitConfig{RequestsPerSecond: 10, Burst: 0}, true},
		{"negative rate", RateLimitConfig{RequestsPerSecond: -1, Burst: 5}, true},
		{"negative burst with zero rate", RateLimitConfig{RequestsPerSecond: 0, Burst: -1}, false},
		{"negative max visitors", RateLimitConfig{RequestsPerSecond: 10, Burst: 5, MaxVisitors: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if cfg.RequestsPerSecond >= 0 && tt.cfg.MaxVisitors == 0 {
				assert.Equal(t, 10000, cfg.MaxVisitors, "default max visitors applies")
			}
		})
	}
}
