package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/errors"
	"github.com/taskhive/chatcache/internal/metrics"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FetchFunc is the backing-store read wrapped by a batch item
type FetchFunc func(ctx context.Context) (interface{}, error)

type queryResult struct {
	data interface{}
	err  error
}

// batchItem exists only between enqueue and batch flush
type batchItem struct {
	key         string
	table       string
	operation   string
	fetch       FetchFunc
	enqueueTime time.Time
	result      chan queryResult
}

// QueryBatcher debounces backing-store reads into batches and caches results
// by (table, operation, params) key. The debounce timer restarts on every
// sub-threshold enqueue, so a batch flushes on a quiet gap, on reaching the
// batch size, or once the oldest item has waited the absolute max-wait cap.
type QueryBatcher struct {
	config       config.BatcherConfig
	cache        map[string]*model.QueryCacheEntry
	pending      []*batchItem
	timer        *time.Timer
	firstEnqueue time.Time
	mu           sync.Mutex
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	closed       bool
	flushWG      sync.WaitGroup

	totalQueries   int64
	cachedQueries  int64
	batchedQueries int64
	flushes        int64
	completed      int64
	totalDuration  time.Duration
	slowQueries    int64
	timeouts       int64
}

// QueryBatcherStats holds batcher statistics
type QueryBatcherStats struct {
	TotalQueries        int64
	CachedQueries       int64
	BatchedQueries      int64
	Flushes             int64
	AverageResponseTime time.Duration
	SlowQueries         int64
	Timeouts            int64
	BatchingEfficiency  float64
}

// NewQueryBatcher creates a new query batcher
func NewQueryBatcher(cfg config.BatcherConfig, m *metrics.Metrics, logger *zap.Logger) *QueryBatcher {
	return &QueryBatcher{
		config:  cfg,
		cache:   make(map[string]*model.QueryCacheEntry),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// serializeParams produces a deterministic string form of the query params
func serializeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, "&")
}

func queryKey(table, operation string, params map[string]string) string {
	return fmt.Sprintf("%s|%s|%s", table, operation, serializeParams(params))
}

// Query returns a cached result immediately when the key is fresh, otherwise
// enqueues the fetch into the current batch and blocks until the batch
// executes, the per-item timeout fires, or ctx is canceled.
func (b *QueryBatcher) Query(ctx context.Context, table, operation string, params map[string]string, fetchFn FetchFunc) (interface{}, error) {
	key := queryKey(table, operation, params)
	now := b.now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.ShuttingDown("query batcher")
	}

	b.totalQueries++

	if entry, exists := b.cache[key]; exists {
		if !entry.Expired(now) {
			b.cachedQueries++
			data := entry.Data
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.QueryCacheHitsTotal.Inc()
			}
			return data, nil
		}
		delete(b.cache, key)
	}

	if b.metrics != nil {
		b.metrics.QueryCacheMissesTotal.Inc()
	}

	item := &batchItem{
		key:         key,
		table:       table,
		operation:   operation,
		fetch:       fetchFn,
		enqueueTime: now,
		result:      make(chan queryResult, 1),
	}

	b.batchedQueries++
	if len(b.pending) == 0 {
		b.firstEnqueue = now
	}
	b.pending = append(b.pending, item)

	if len(b.pending) >= b.config.BatchSize {
		// Size threshold reached: flush immediately, no added wait
		b.flushLocked()
	} else {
		b.armTimerLocked(now)
	}
	b.mu.Unlock()

	select {
	case res := <-item.result:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// armTimerLocked (re)starts the trailing-debounce timer. The delay is capped
// so the batch flushes no later than batchMaxWait after its first enqueue,
// bounding starvation under a steady arrival stream. Caller holds the lock.
func (b *QueryBatcher) armTimerLocked(now time.Time) {
	delay := b.config.BatchTimeout
	if b.config.BatchMaxWait > 0 {
		remaining := b.config.BatchMaxWait - now.Sub(b.firstEnqueue)
		if remaining <= 0 {
			b.flushLocked()
			return
		}
		if remaining < delay {
			delay = remaining
		}
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(delay, b.onTimer)
		return
	}
	b.timer.Stop()
	b.timer.Reset(delay)
}

func (b *QueryBatcher) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		b.flushLocked()
	}
}

// flushLocked takes the pending batch and dispatches it. Caller holds the lock.
func (b *QueryBatcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	batch := b.pending
	b.pending = nil
	if len(batch) == 0 {
		return
	}

	b.flushes++
	if b.metrics != nil {
		b.metrics.BatchFlushesTotal.Inc()
		b.metrics.BatchSizeItems.Observe(float64(len(batch)))
	}

	b.flushWG.Add(1)
	go b.executeBatch(batch)
}

// executeBatch dispatches all items concurrently. Each item races its fetch
// against the per-item timeout; a failure rejects only its own caller.
func (b *QueryBatcher) executeBatch(batch []*batchItem) {
	defer b.flushWG.Done()

	b.logger.Debug("Flushing query batch", zap.Int("items", len(batch)))

	g := new(errgroup.Group)
	for _, item := range batch {
		item := item
		g.Go(func() error {
			b.executeItem(item)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *QueryBatcher) executeItem(item *batchItem) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	type fetchOutcome struct {
		data interface{}
		err  error
	}
	done := make(chan fetchOutcome, 1)

	// The fetch cannot be aborted mid-flight; on timeout its eventual result
	// is simply ignored
	go func() {
		data, err := item.fetch(ctx)
		done <- fetchOutcome{data: data, err: err}
	}()

	var res queryResult
	select {
	case out := <-done:
		res = queryResult{data: out.data, err: out.err}
	case <-ctx.Done():
		res = queryResult{err: errors.Timeout(fmt.Sprintf("query %s.%s", item.table, item.operation), b.config.QueryTimeout)}
	}

	duration := time.Since(start)
	b.recordCompletion(item, res, duration)
	item.result <- res
}

func (b *QueryBatcher) recordCompletion(item *batchItem, res queryResult, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.completed++
	b.totalDuration += duration
	if duration > b.config.SlowQueryThreshold {
		b.slowQueries++
		if b.metrics != nil {
			b.metrics.SlowQueriesTotal.Inc()
		}
	}
	if b.metrics != nil {
		b.metrics.QueryDuration.Observe(duration.Seconds())
	}

	if res.err != nil {
		if errors.IsTimeout(res.err) {
			b.timeouts++
			if b.metrics != nil {
				b.metrics.QueryTimeoutsTotal.Inc()
			}
		}
		b.logger.Warn("Batched query failed",
			zap.String("table", item.table),
			zap.String("operation", item.operation),
			zap.Duration("duration", duration),
			zap.Error(res.err))
		return
	}

	b.cache[item.key] = &model.QueryCacheEntry{
		Table:     item.table,
		Operation: item.operation,
		ParamHash: item.key,
		Data:      res.data,
		Timestamp: b.now(),
		TTL:       b.config.CacheTTL,
	}
}

// InvalidateTable drops all cached results for a table
func (b *QueryBatcher) InvalidateTable(table string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := table + "|"
	for key := range b.cache {
		if strings.HasPrefix(key, prefix) {
			delete(b.cache, key)
		}
	}
}

// Stats returns batcher statistics. AverageResponseTime is a running mean
// over completed non-cached queries.
func (b *QueryBatcher) Stats() QueryBatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := QueryBatcherStats{
		TotalQueries:   b.totalQueries,
		CachedQueries:  b.cachedQueries,
		BatchedQueries: b.batchedQueries,
		Flushes:        b.flushes,
		SlowQueries:    b.slowQueries,
		Timeouts:       b.timeouts,
	}
	if b.completed > 0 {
		stats.AverageResponseTime = b.totalDuration / time.Duration(b.completed)
	}
	if b.totalQueries > 0 {
		stats.BatchingEfficiency = float64(b.batchedQueries) / float64(b.totalQueries)
	}
	return stats
}

// Shutdown stops the debounce timer, rejects pending items, and waits for
// in-flight batches to finish
func (b *QueryBatcher) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, item := range pending {
		item.result <- queryResult{err: errors.ShuttingDown("query batcher")}
	}

	b.flushWG.Wait()
	b.logger.Info("Query batcher shut down", zap.Int("rejected", len(pending)))
}
