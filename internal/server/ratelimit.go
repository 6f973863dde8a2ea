// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// RateLimitConfig configures per-IP rate limiting for the ops API. A
// zero RequestsPerSecond disables limiting entirely.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per IP.
	RequestsPerSecond float64
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxVisitors caps the number of unique IPs tracked concurrently.
	// Oldest entries are evicted during cleanup once the map exceeds
	// this size. Zero applies the default of 10000.
	MaxVisitors int
}

// Validate checks the RateLimitConfig and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return fferr.Errorf(fferr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.RequestsPerSecond < 0 {
		return fferr.Errorf(fferr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)",
			c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return fferr.Errorf(fferr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)",
			c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = 10000
	}
	return nil
}

// rateLimitMiddleware enforces per-IP rate limits with a token bucket.
// Returns a pass-through middleware when cfg.RequestsPerSecond is zero.
// The done channel signals the cleanup goroutine to exit on shutdown.
func rateLimitMiddleware(cfg RateLimitConfig, logger *slog.Logger, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitorEntry)
	)

	// Periodically drop stale entries so the visitor map cannot grow
	// without bound.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				now := time.Now()
				const staleThreshold = 10 * time.Minute

				type entry struct {
					ip       string
					lastSeen time.Time
				}
				entries := make([]entry, 0, len(visitors))
				for ip, v := range visitors {
					if now.Sub(v.lastSeen) > staleThreshold {
						delete(visitors, ip)
					} else {
						entries = append(entries, entry{ip: ip, lastSeen: v.lastSeen})
					}
				}

				if cfg.MaxVisitors > 0 && len(entries) > cfg.MaxVisitors {
					slices.SortFunc(entries, func(a, b entry) int {
						return a.lastSeen.Compare(b.lastSeen)
					})
					toEvict := len(entries) - cfg.MaxVisitors
					for i := 0; i < toEvict; i++ {
						delete(visitors, entries[i].ip)
					}
					logger.Warn("rate limiter visitor map cap enforced",
						"evicted", toEvict, "max_visitors", cfg.MaxVisitors, "remaining", len(visitors))
				}
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Strip the port so limits apply per IP, not per connection.
			// A client opening fresh connections from ephemeral ports
			// must not get a fresh bucket each time.
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				// RemoteAddr might not carry a port (e.g. in tests).
				host = r.RemoteAddr
			}
			ip := host

			mu.Lock()
			v, exists := visitors[ip]
			if !exists {
				v = &visitorEntry{
					tokens:     float64(cfg.Burst),
					lastSeen:   time.Now(),
					lastRefill: time.Now(),
					rate:       cfg.RequestsPerSecond,
					burst:      float64(cfg.Burst),
				}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()

			elapsed := time.Since(v.lastRefill).Seconds()
			v.tokens += elapsed * v.rate
			if v.tokens > v.burst {
				v.tokens = v.burst
			}
			v.lastRefill = time.Now()

			if v.tokens < 1 {
				mu.Unlock()
				logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				if _, err := w.Write([]byte(`{"error":"rate limit exceeded"}`)); err != nil {
					logger.Warn("failed to write rate limit response", "error", err)
				}
				return
			}
			v.tokens--
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

type visitorEntry struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
	rate       float64
	burst      float64
}
