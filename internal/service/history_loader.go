package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/metrics"
	"github.com/taskhive/chatcache/internal/model"
	"github.com/taskhive/chatcache/internal/store"
	"go.uber.org/zap"
)

// LoaderState is the per-user pagination state
type LoaderState struct {
	Offset        int
	LoadedBatches int
	HasMore       bool
	IsLoading     bool
	Err           error
}

// LazyHistoryLoader loads chat history incrementally through cursor-based
// pages backed by a bounded FIFO page cache. It is the pagination-oriented
// entry point used when a caller wants incremental loading rather than the
// whole conversation.
type LazyHistoryLoader struct {
	config    config.LoaderConfig
	store     store.HistoryStore
	states    map[string]*LoaderState
	pageCache map[string][]model.Message
	pageOrder []string
	maxPages  int
	mu        sync.Mutex
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewLazyHistoryLoader creates a new lazy history loader
func NewLazyHistoryLoader(cfg config.LoaderConfig, historyStore store.HistoryStore, m *metrics.Metrics, logger *zap.Logger) *LazyHistoryLoader {
	maxPages := cfg.PageCacheSize / cfg.BatchSize
	if maxPages < 1 {
		maxPages = 1
	}

	return &LazyHistoryLoader{
		config:    cfg,
		store:     historyStore,
		states:    make(map[string]*LoaderState),
		pageCache: make(map[string][]model.Message),
		pageOrder: make([]string, 0),
		maxPages:  maxPages,
		logger:    logger,
		metrics:   m,
	}
}

func pageKey(userID string, offset int) string {
	return fmt.Sprintf("%s:%d", userID, offset)
}

// LoadInitialBatch fetches page zero for a user, resetting any prior state.
// Store failures are swallowed and surface as an empty page.
func (l *LazyHistoryLoader) LoadInitialBatch(ctx context.Context, userID string) []model.Message {
	l.mu.Lock()
	state := &LoaderState{IsLoading: true}
	l.states[userID] = state

	if page, cached := l.pageCache[pageKey(userID, 0)]; cached {
		state.IsLoading = false
		state.Offset = len(page)
		state.LoadedBatches = 1
		state.HasMore = len(page) == l.config.BatchSize
		if l.metrics != nil {
			l.metrics.PageCacheHitsTotal.Inc()
		}
		l.mu.Unlock()
		return model.CloneMessages(page)
	}
	l.mu.Unlock()

	page := l.fetchPage(ctx, userID, 0)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cachePageLocked(userID, 0, page)
	state.IsLoading = false
	state.Offset = len(page)
	state.LoadedBatches = 1
	state.HasMore = len(page) == l.config.BatchSize

	return model.CloneMessages(page)
}

// LoadNextBatch fetches the next page for a user. It is a no-op while a load
// is in flight, once the history is exhausted, or after maxBatches pages.
// The page cache is consulted before the durable store.
func (l *LazyHistoryLoader) LoadNextBatch(ctx context.Context, userID string) []model.Message {
	l.mu.Lock()

	state, exists := l.states[userID]
	if !exists || state.IsLoading || !state.HasMore || state.LoadedBatches >= l.config.MaxBatches {
		l.mu.Unlock()
		return nil
	}

	offset := state.Offset
	if page, cached := l.pageCache[pageKey(userID, offset)]; cached {
		state.Offset += len(page)
		state.LoadedBatches++
		if len(page) < l.config.BatchSize {
			state.HasMore = false
		}
		if l.metrics != nil {
			l.metrics.PageCacheHitsTotal.Inc()
		}
		l.mu.Unlock()
		return model.CloneMessages(page)
	}

	state.IsLoading = true
	l.mu.Unlock()

	page := l.fetchPage(ctx, userID, offset)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cachePageLocked(userID, offset, page)
	state.IsLoading = false
	state.Offset += len(page)
	state.LoadedBatches++
	if len(page) < l.config.BatchSize {
		// A short page means the history is exhausted; HasMore stays false
		state.HasMore = false
	}

	return model.CloneMessages(page)
}

// ShouldLoadMore reports whether the consumer is close to running out of
// buffered messages and a further page should be requested
func (l *LazyHistoryLoader) ShouldLoadMore(userID string, renderedCount int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.states[userID]
	if !exists {
		return false
	}

	return state.HasMore && !state.IsLoading && state.Offset-renderedCount <= l.config.LoadThreshold
}

// State returns a snapshot of the user's pagination state
func (l *LazyHistoryLoader) State(userID string) (LoaderState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.states[userID]
	if !exists {
		return LoaderState{}, false
	}
	return *state, true
}

// Reset clears the pagination state and cached pages for a user
func (l *LazyHistoryLoader) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.states, userID)

	prefix := userID + ":"
	remaining := l.pageOrder[:0]
	for _, key := range l.pageOrder {
		if strings.HasPrefix(key, prefix) {
			delete(l.pageCache, key)
			continue
		}
		remaining = append(remaining, key)
	}
	l.pageOrder = remaining
}

// fetchPage reads one page from the durable store; failures are logged and
// returned as an empty page per the store-failure policy
func (l *LazyHistoryLoader) fetchPage(ctx context.Context, userID string, offset int) []model.Message {
	start := time.Now()
	page, err := l.store.FetchPage(ctx, userID, offset, l.config.BatchSize)
	if l.metrics != nil {
		l.metrics.StoreRequestsTotal.WithLabelValues("fetch_page").Inc()
		l.metrics.StoreDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		l.logger.Warn("History page fetch failed",
			zap.String("user_id", userID),
			zap.Int("offset", offset),
			zap.Error(err))

		l.mu.Lock()
		if state, exists := l.states[userID]; exists {
			state.Err = err
		}
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.StoreFailuresTotal.Inc()
		}
		return []model.Message{}
	}

	if l.metrics != nil {
		l.metrics.PageLoadsTotal.Inc()
	}
	return page
}

// cachePageLocked inserts a page, evicting the oldest-inserted page beyond
// the bound. Caller holds the lock.
func (l *LazyHistoryLoader) cachePageLocked(userID string, offset int, page []model.Message) {
	key := pageKey(userID, offset)
	if _, exists := l.pageCache[key]; exists {
		l.pageCache[key] = page
		return
	}

	if len(l.pageOrder) >= l.maxPages {
		oldest := l.pageOrder[0]
		l.pageOrder = l.pageOrder[1:]
		delete(l.pageCache, oldest)
	}

	l.pageCache[key] = page
	l.pageOrder = append(l.pageOrder, key)
}
