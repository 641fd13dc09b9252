package infra

import (
	"context"
	"fmt"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_CountsByRouteAndKey(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "a", Allowed: true, Method: "GET", Path: "/"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "a", Allowed: false, Excess: 0.4, Method: "GET", Path: "/"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "b", Allowed: false, Excess: 1, Method: "POST", Path: "/api/"}))

	assert.Equal(t, Counters{Allowed: 1, Rejected: 2}, s.Total())

	snap := s.Snapshot()
	assert.Equal(t, Counters{Allowed: 1, Rejected: 1}, snap.ByRoute["GET /"])
	assert.Equal(t, Counters{Rejected: 1}, snap.ByRoute["POST /api/"])
	assert.Equal(t, Counters{Allowed: 1, Rejected: 1}, snap.ByKey["a"])
	assert.Equal(t, 1.0, snap.MaxExcess)
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Key: "a", Allowed: true}))

	assert.Nil(t, s.Snapshot().ByKey)
}

func TestMemoryStatsStore_PrefersRouteLabel(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{
		Allowed: true, Method: "GET", Path: "/api/users/7", Route: "GET /api/",
	}))

	snap := s.Snapshot()
	assert.Len(t, snap.ByRoute, 1)
	assert.Equal(t, Counters{Allowed: 1}, snap.ByRoute["GET /api/"])
}

func TestMemoryStatsStore_FoldsOverflowIntoOther(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true), WithMaxRoutes(10), WithMaxKeys(5))
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Record(ctx, domain.StatsEvent{
			Key:    domain.Key(fmt.Sprintf("10.0.%d.%d", i/256, i%256)),
			Method: "GET",
			Path:   fmt.Sprintf("/x/%d", i),
		}))
	}

	snap := s.Snapshot()
	assert.Len(t, snap.ByRoute, 11, "ten distinct routes plus the overflow bucket")
	assert.Equal(t, Counters{Rejected: 990}, snap.ByRoute[OverflowLabel])
	assert.Equal(t, Counters{Rejected: 1}, snap.ByRoute["GET /x/0"])
	assert.Len(t, snap.ByKey, 6)
	assert.Equal(t, Counters{Rejected: 995}, snap.ByKey[OverflowLabel])
	assert.Equal(t, Counters{Rejected: 1000}, snap.Total)
}
