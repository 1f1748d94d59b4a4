/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-taskkit/testutil"
)

func TestCachePrometheusMetrics(t *testing.T) {
	metrics := NewPrometheusMetrics()
	c := New[string, int](Options{MaxEntries: 2, DefaultTTL: time.Minute}, metrics)

	compute := func(ctx context.Context) (int, error) { return 1, nil }

	_, err := c.GetOrCompute(context.Background(), "a", compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(context.Background(), "a", compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(context.Background(), "b", compute)
	require.NoError(t, err)

	testutil.RequireSamplesCountInCounter(t, metrics.HitsTotal, 1)
	testutil.RequireSamplesCountInCounter(t, metrics.MissesTotal, 2)
	testutil.RequireGaugeValue(t, metrics.EntriesAmount, 2)
	testutil.RequireGaugeValue(t, metrics.PendingAmount, 0)

	// exceeding the bound evicts the least recently used entry
	_, err = c.GetOrCompute(context.Background(), "c", compute)
	require.NoError(t, err)
	testutil.RequireSamplesCountInCounter(t, metrics.EvictionsTotal, 1)
	testutil.RequireGaugeValue(t, metrics.EntriesAmount, 2)
}
