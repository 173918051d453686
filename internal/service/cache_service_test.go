package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type cacheRepoStub struct {
	data      map[string][]byte
	ttls      map[string]time.Duration
	getErr    error
	patterns  []string
	deleteErr error
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (r *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if r.getErr != nil {
		return r.getErr
	}
	raw, ok := r.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.data[key] = raw
	r.ttls[key] = ttl
	return nil
}

func (r *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	r.patterns = append(r.patterns, pattern)
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	n := len(r.data)
	r.data = map[string][]byte{}
	return n, nil
}

func TestCacheServiceRoundTripAndMetrics(t *testing.T) {
	repo := newCacheRepoStub()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, nil, true)
	ctx := context.Background()

	var summary struct{ PlacedHours int }
	hit, err := svc.Get(ctx, ResultKey("abc"), &summary)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, ResultKey("abc"), map[string]int{"PlacedHours": 7}, 0))
	assert.Equal(t, time.Hour, repo.ttls["timetable:result:abc"])

	hit, err = svc.Get(ctx, ResultKey("abc"), &summary)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, summary.PlacedHours)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.cacheHitRatio))

	require.NoError(t, svc.InvalidateResults(ctx))
	assert.Equal(t, []string{"timetable:result:*"}, repo.patterns)
}

func TestCacheServiceDisabledAndFailing(t *testing.T) {
	repo := newCacheRepoStub()
	disabled := NewCacheService(repo, nil, time.Minute, nil, false)
	require.NoError(t, disabled.Set(context.Background(), "k", 1, 0))
	assert.Empty(t, repo.data)
	hit, err := disabled.Get(context.Background(), "k", new(int))
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, disabled.InvalidateResults(context.Background()))
	assert.Empty(t, repo.patterns)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())

	repo.getErr = errors.New("redis down")
	svc := NewCacheService(repo, nil, time.Minute, nil, true)
	hit, err = svc.Get(context.Background(), "k", new(int))
	require.Error(t, err)
	assert.False(t, hit)

	repo.deleteErr = errors.New("redis down")
	require.Error(t, svc.InvalidateResults(context.Background()))
}

func TestMetricsServiceRuns(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveRun("COMPLETED", "solver", 2*time.Second, 40, 1)
	metrics.ObserveRun("COMPLETED", "cache", 0, 0, 0)
	metrics.SetQueueDepth(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.runsTotal.WithLabelValues("COMPLETED", "solver")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.runsTotal.WithLabelValues("COMPLETED", "cache")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.queueDepth))

	var nilMetrics *MetricsService
	nilMetrics.ObserveRun("FAILED", "solver", 0, 0, 0)
	nilMetrics.RecordCacheOperation(true, 0)
}
