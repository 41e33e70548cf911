package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/errors"
	"go.uber.org/zap"
)

func testBatcherConfig() config.BatcherConfig {
	return config.BatcherConfig{
		BatchSize:          3,
		BatchTimeout:       20 * time.Millisecond,
		BatchMaxWait:       200 * time.Millisecond,
		QueryTimeout:       time.Second,
		CacheTTL:           time.Minute,
		SlowQueryThreshold: time.Second,
	}
}

func setupBatcher(t *testing.T, cfg config.BatcherConfig) *QueryBatcher {
	t.Helper()
	b := NewQueryBatcher(cfg, nil, zap.NewNop())
	t.Cleanup(b.Shutdown)
	return b
}

func staticFetch(data interface{}) FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		return data, nil
	}
}

func TestQueryBatcher_SizeTriggerFlushesImmediately(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.BatchSize = 3
	cfg.BatchTimeout = 10 * time.Second // debounce alone would stall the test
	cfg.BatchMaxWait = 10 * time.Second
	b := setupBatcher(t, cfg)

	var fetches int64
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&fetches, 1)
		return "row", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.Query(context.Background(), "tasks", "list",
				map[string]string{"i": fmt.Sprint(i)}, fetch)
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "row", results[i])
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(&fetches))
	assert.Equal(t, int64(1), b.Stats().Flushes)
}

func TestQueryBatcher_DebounceFlushesAfterQuietGap(t *testing.T) {
	cfg := testBatcherConfig()
	b := setupBatcher(t, cfg)

	start := time.Now()
	data, err := b.Query(context.Background(), "tasks", "list", nil, staticFetch(42))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 42, data)
	assert.GreaterOrEqual(t, elapsed, cfg.BatchTimeout)
}

func TestQueryBatcher_DebounceTimerResetsPerEnqueue(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.BatchSize = 10
	cfg.BatchTimeout = 200 * time.Millisecond
	cfg.BatchMaxWait = 10 * time.Second
	b := setupBatcher(t, cfg)

	waitForBatched := func(n int64) {
		require.Eventually(t, func() bool {
			return b.Stats().BatchedQueries == n
		}, time.Second, 2*time.Millisecond)
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.Query(context.Background(), "tasks", "list",
				map[string]string{"i": fmt.Sprint(i)}, staticFetch("row"))
		}()
		waitForBatched(int64(i + 1))
		if i < 2 {
			time.Sleep(80 * time.Millisecond)
		}
	}

	// The third enqueue arrived ~160ms in, past the first item's original
	// 200ms deadline once this sleep elapses. Each enqueue restarts the
	// debounce timer, so nothing may have flushed yet.
	time.Sleep(90 * time.Millisecond)
	assert.Equal(t, int64(0), b.Stats().Flushes, "flush fired at the first item's original deadline")

	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int64(1), b.Stats().Flushes, "quiet gap flushes the whole batch once")
}

func TestQueryBatcher_MaxWaitCapsDebounceStarvation(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.BatchSize = 10
	cfg.BatchTimeout = 5 * time.Second
	cfg.BatchMaxWait = 8 * time.Second
	b := setupBatcher(t, cfg)

	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	b.now = clock.now

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = b.Query(context.Background(), "tasks", "list",
			map[string]string{"i": "0"}, staticFetch("row"))
	}()
	require.Eventually(t, func() bool {
		return b.Stats().BatchedQueries == 1
	}, time.Second, 2*time.Millisecond)

	// The second enqueue lands after the first item has exceeded the max-wait
	// budget; instead of re-arming the debounce timer the batch must flush
	// immediately
	clock.advance(cfg.BatchMaxWait + time.Second)
	start := time.Now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = b.Query(context.Background(), "tasks", "list",
			map[string]string{"i": "1"}, staticFetch("row"))
	}()
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
	}
	assert.Less(t, time.Since(start), 2*time.Second, "callers released without waiting out the debounce timer")
	assert.Equal(t, int64(1), b.Stats().Flushes)
}

func TestQueryBatcher_CacheHitSkipsFetch(t *testing.T) {
	b := setupBatcher(t, testBatcherConfig())

	var fetches int64
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&fetches, 1)
		return "row", nil
	}

	params := map[string]string{"status": "open"}
	_, err := b.Query(context.Background(), "tasks", "list", params, fetch)
	require.NoError(t, err)

	data, err := b.Query(context.Background(), "tasks", "list", params, fetch)
	require.NoError(t, err)

	assert.Equal(t, "row", data)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches), "second query is served from cache")

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.CachedQueries)
}

func TestQueryBatcher_ParamOrderDoesNotChangeKey(t *testing.T) {
	b := setupBatcher(t, testBatcherConfig())

	var fetches int64
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&fetches, 1)
		return "row", nil
	}

	_, err := b.Query(context.Background(), "tasks", "list",
		map[string]string{"a": "1", "b": "2"}, fetch)
	require.NoError(t, err)

	_, err = b.Query(context.Background(), "tasks", "list",
		map[string]string{"b": "2", "a": "1"}, fetch)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches))
}

func TestQueryBatcher_FailureIsolatedPerItem(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.BatchSize = 2
	b := setupBatcher(t, cfg)

	failing := func(ctx context.Context) (interface{}, error) {
		return nil, errors.StoreUnavailable("fetch", fmt.Errorf("connection refused"))
	}

	var wg sync.WaitGroup
	var okData interface{}
	var okErr, badErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		okData, okErr = b.Query(context.Background(), "tasks", "list", nil, staticFetch("fine"))
	}()
	go func() {
		defer wg.Done()
		_, badErr = b.Query(context.Background(), "projects", "list", nil, failing)
	}()
	wg.Wait()

	require.NoError(t, okErr)
	assert.Equal(t, "fine", okData)
	require.Error(t, badErr)
	assert.True(t, errors.IsStoreUnavailable(badErr))

	// Failed queries must not populate the cache
	var fetches int64
	_, err := b.Query(context.Background(), "projects", "list", nil,
		func(ctx context.Context) (interface{}, error) {
			atomic.AddInt64(&fetches, 1)
			return "recovered", nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches))
}

func TestQueryBatcher_PerItemTimeout(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.QueryTimeout = 30 * time.Millisecond
	b := setupBatcher(t, cfg)

	slow := func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	_, err := b.Query(context.Background(), "tasks", "list", nil, slow)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Equal(t, int64(1), b.Stats().Timeouts)
}

func TestQueryBatcher_InvalidateTable(t *testing.T) {
	b := setupBatcher(t, testBatcherConfig())

	var fetches int64
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&fetches, 1)
		return "row", nil
	}

	_, err := b.Query(context.Background(), "tasks", "list", nil, fetch)
	require.NoError(t, err)

	b.InvalidateTable("tasks")

	_, err = b.Query(context.Background(), "tasks", "list", nil, fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&fetches))
}

func TestQueryBatcher_ShutdownRejectsNewQueries(t *testing.T) {
	b := NewQueryBatcher(testBatcherConfig(), nil, zap.NewNop())
	b.Shutdown()

	_, err := b.Query(context.Background(), "tasks", "list", nil, staticFetch("x"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeShuttingDown, errors.GetCode(err))
}

func TestQueryBatcher_ContextCancelUnblocksCaller(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.BatchTimeout = 10 * time.Second
	cfg.BatchMaxWait = 10 * time.Second
	b := setupBatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Query(ctx, "tasks", "list", nil, staticFetch("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueryBatcher_StatsEfficiency(t *testing.T) {
	b := setupBatcher(t, testBatcherConfig())

	params := map[string]string{"k": "v"}
	_, err := b.Query(context.Background(), "tasks", "list", params, staticFetch("row"))
	require.NoError(t, err)
	_, err = b.Query(context.Background(), "tasks", "list", params, staticFetch("row"))
	require.NoError(t, err)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.BatchedQueries)
	assert.InDelta(t, 0.5, stats.BatchingEfficiency, 0.001)
	assert.Greater(t, stats.AverageResponseTime, time.Duration(0))
}
