// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package conflict_test

import (
	"testing"
	"time"

	"github.com/feedfuse/feedfuse/internal/conflict"
	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chainOrder = []string{"alphasim", "betasim", "gammasim"}

func ts(min int) time.Time {
	return time.Date(2026, 3, 1, 12, min, 0, 0, time.UTC)
}

func TestParseStrategy(t *testing.T) {
	s, err := conflict.ParseStrategy("primary_wins")
	require.NoError(t, err)
	assert.Equal(t, conflict.PrimaryWins, s)

	s, err = conflict.ParseStrategy("latest_timestamp")
	require.NoError(t, err)
	assert.Equal(t, conflict.LatestTimestamp, s)

	_, err = conflict.ParseStrategy("newest")
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeConflictStrategyInvalid))
}

func TestResolvePrimaryWins(t *testing.T) {
	tests := []struct {
		name     string
		bySource map[string]conflict.Sample
		want     string
	}{
		{
			name: "primary present",
			bySource: map[string]conflict.Sample{
				"alphasim": {}, "betasim": {}, "gammasim": {},
			},
			want: "alphasim",
		},
		{
			name: "primary absent falls to secondary",
			bySource: map[string]conflict.Sample{
				"betasim": {}, "gammasim": {},
			},
			want: "betasim",
		},
		{
			name: "only tertiary present",
			bySource: map[string]conflict.Sample{
				"gammasim": {},
			},
			want: "gammasim",
		},
		{
			name: "no source matches known priorities",
			bySource: map[string]conflict.Sample{
				"zeta": {}, "epsilon": {},
			},
			want: "epsilon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conflict.Resolve(tt.bySource, chainOrder, conflict.PrimaryWins)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveLatestTimestamp(t *testing.T) {
	bySource := map[string]conflict.Sample{
		"alphasim": {Timestamp: ts(0)},
		"betasim":  {Timestamp: ts(5)},
		"gammasim": {Timestamp: ts(3)},
	}

	got, err := conflict.Resolve(bySource, chainOrder, conflict.LatestTimestamp)
	require.NoError(t, err)
	assert.Equal(t, "betasim", got, "most recent timestamp wins")
}

func TestResolveLatestTimestampTieFavorsPriority(t *testing.T) {
	bySource := map[string]conflict.Sample{
		"alphasim": {Timestamp: ts(5)},
		"betasim":  {Timestamp: ts(5)},
	}

	got, err := conflict.Resolve(bySource, chainOrder, conflict.LatestTimestamp)
	require.NoError(t, err)
	assert.Equal(t, "alphasim", got)
}

func TestResolveLatestTimestampFallsBackToPrimaryWins(t *testing.T) {
	bySource := map[string]conflict.Sample{
		"betasim":  {},
		"gammasim": {},
	}

	got, err := conflict.Resolve(bySource, chainOrder, conflict.LatestTimestamp)
	require.NoError(t, err)
	assert.Equal(t, "betasim", got, "no extractable timestamps falls back to priority order")
}

func TestResolveLatestTimestampIgnoresZeroTimestamps(t *testing.T) {
	bySource := map[string]conflict.Sample{
		"alphasim": {},
		"gammasim": {Timestamp: ts(1)},
	}

	got, err := conflict.Resolve(bySource, chainOrder, conflict.LatestTimestamp)
	require.NoError(t, err)
	assert.Equal(t, "gammasim", got)
}

func TestResolveEmptySources(t *testing.T) {
	_, err := conflict.Resolve(nil, chainOrder, conflict.PrimaryWins)
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeConflictNoSources))
}

func TestResolveUnknownStrategy(t *testing.T) {
	_, err := conflict.Resolve(map[string]conflict.Sample{"alphasim": {}}, chainOrder, conflict.Strategy("vote"))
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeConflictStrategyInvalid))
}

func TestExtractTimestampFromBarHistory(t *testing.T) {
	payload := map[string][]provider.Bar{
		"AAPL": {{Timestamp: ts(1)}, {Timestamp: ts(9)}},
		"MSFT": {{Timestamp: ts(4)}},
	}
	assert.Equal(t, ts(9), conflict.ExtractTimestamp(payload))
}

func TestExtractTimestampFromQuoteMap(t *testing.T) {
	payload := map[string]provider.Bar{
		"AAPL": {Timestamp: ts(2)},
		"MSFT": {Timestamp: ts(7)},
	}
	assert.Equal(t, ts(7), conflict.ExtractTimestamp(payload))
}

func TestExtractTimestampUnknownShape(t *testing.T) {
	assert.True(t, conflict.ExtractTimestamp([]provider.AssetInfo{{Symbol: "AAPL"}}).IsZero())
	assert.True(t, conflict.ExtractTimestamp(nil).IsZero())
	assert.True(t, conflict.ExtractTimestamp("text").IsZero())
}
