package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, metrics *Metrics) (*QueryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueryCache(NewRedisKVStore(client), 5*time.Minute, zap.NewNop(), metrics), mr
}

func TestQueryCacheRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t, nil)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "0000123", 1)
	assert.False(t, ok)

	cache.Set(ctx, "0000123", 1, &PatientQueryResult{
		PatientKey:         "0000123",
		SnapshotGeneration: 1,
		ActionList:         []ActionItem{{Priority: 1, Color: "red"}},
	})

	key := "clinic-snapshot:patient:0000123:1"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 5*time.Minute, mr.TTL(key))

	cached, ok := cache.Get(ctx, "0000123", 1)
	require.True(t, ok)
	assert.Equal(t, "0000123", cached.PatientKey)
	require.Len(t, cached.ActionList, 1)
	assert.Equal(t, "red", cached.ActionList[0].Color)

	// A new snapshot generation never sees older entries
	_, ok = cache.Get(ctx, "0000123", 2)
	assert.False(t, ok)

	mr.FastForward(6 * time.Minute)
	_, ok = cache.Get(ctx, "0000123", 1)
	assert.False(t, ok)
}

func TestQueryCacheInvalidate(t *testing.T) {
	cache, mr := newTestCache(t, nil)
	ctx := context.Background()

	cache.Set(ctx, "0000001", 3, &PatientQueryResult{PatientKey: "0000001"})
	cache.Set(ctx, "0000002", 3, &PatientQueryResult{PatientKey: "0000002"})

	cache.Invalidate(ctx, 3, []string{"0000001", "0000404"})
	assert.False(t, mr.Exists("clinic-snapshot:patient:0000001:3"))
	assert.True(t, mr.Exists("clinic-snapshot:patient:0000002:3"))

	cache.Invalidate(ctx, 3, nil)
	assert.True(t, mr.Exists("clinic-snapshot:patient:0000002:3"))
}

func TestQueryCacheTreatsFailuresAsMisses(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	cache, mr := newTestCache(t, metrics)
	ctx := context.Background()

	require.NoError(t, mr.Set("clinic-snapshot:patient:0000001:1", "{not json"))
	_, ok := cache.Get(ctx, "0000001", 1)
	assert.False(t, ok)

	mr.Close()
	_, ok = cache.Get(ctx, "0000001", 1)
	assert.False(t, ok)
	cache.Set(ctx, "0000001", 1, &PatientQueryResult{})
	cache.Invalidate(ctx, 1, []string{"0000001"})

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.QueryCache.WithLabelValues("miss")))
	assert.Zero(t, testutil.ToFloat64(metrics.QueryCache.WithLabelValues("hit")))
}

func TestNilQueryCache(t *testing.T) {
	var cache *QueryCache
	ctx := context.Background()

	_, ok := cache.Get(ctx, "0000001", 1)
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		cache.Set(ctx, "0000001", 1, &PatientQueryResult{})
		cache.Invalidate(ctx, 1, []string{"0000001"})
	})
}

func TestQueryServiceUsesCache(t *testing.T) {
	cache, mr := newTestCache(t, nil)
	s, records, labs := newTestQueryService(t, clinicSource(), cache)
	ctx := context.Background()
	records.Preload(ctx, defaultPreloadTables, nil, nil)

	first, err := s.QueryPatient(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, 9.5, first.LabSnapshot["DM"]["HBA1C"].Value)
	assert.True(t, mr.Exists("clinic-snapshot:patient:0000123:1"))

	// The wide row changes behind the cache
	_, err = labs.UpsertWide(ctx, "0000123", map[string]WideCell{"HBA1C": {Value: 6.8, Date: "1130520"}})
	require.NoError(t, err)

	cached, err := s.QueryPatient(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, 9.5, cached.LabSnapshot["DM"]["HBA1C"].Value)

	s.Invalidate(ctx, []string{"0000123"})
	fresh, err := s.QueryPatient(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, 6.8, fresh.LabSnapshot["DM"]["HBA1C"].Value)
	require.Len(t, fresh.ActionList, 1)
	assert.Equal(t, 5, fresh.ActionList[0].Priority)
}

func TestQueryServiceSkipsCacheWhenDegraded(t *testing.T) {
	cache, mr := newTestCache(t, nil)
	s, _, _ := newTestQueryService(t, clinicSource(), cache)

	result, err := s.QueryPatient(context.Background(), "123")
	require.NoError(t, err)
	assert.NotEmpty(t, result.DegradedTables)
	assert.Empty(t, mr.Keys())
}
