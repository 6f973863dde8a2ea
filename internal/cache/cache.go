// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package cache stores prior successful fetch results under TTL. Keys are
// derived deterministically from the operation plus a canonical parameter
// serialization, so identical logical requests hit the same entry
// regardless of argument ordering.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/feedfuse/feedfuse/internal/provider"
)

// Store is the TTL cache contract. Implementations must treat an expired
// entry exactly like a miss. Errors are advisory: callers degrade to a
// miss rather than failing the surrounding fetch.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key builds the deterministic cache key for one logical request. The
// operation name stays readable as a prefix; the canonicalized parameters
// are folded into a SHA-256 digest.
func Key(op provider.Operation, params provider.Params) string {
	n := params.Normalized()

	var b strings.Builder
	b.WriteString(string(op))
	b.WriteByte('|')
	b.WriteString(strings.Join(n.Symbols, ","))
	b.WriteByte('|')
	if !n.Start.IsZero() {
		b.WriteString(n.Start.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	if !n.End.IsZero() {
		b.WriteString(n.End.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	b.WriteString(string(n.Interval))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(n.Query))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(n.Limit))

	sum := sha256.Sum256([]byte(b.String()))
	return string(op) + ":" + hex.EncodeToString(sum[:])
}
