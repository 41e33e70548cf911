package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/model"
	"github.com/taskhive/chatcache/internal/store"
	"go.uber.org/zap"
)

func testLoaderConfig() config.LoaderConfig {
	return config.LoaderConfig{
		BatchSize:     5,
		MaxBatches:    3,
		LoadThreshold: 2,
		PageCacheSize: 20,
	}
}

func historyPage(offset, n int) []model.Message {
	page := make([]model.Message, n)
	for i := range page {
		page[i] = model.Message{
			ID:        fmt.Sprintf("msg-%d", offset+i),
			Role:      model.RoleUser,
			Content:   fmt.Sprintf("message %d", offset+i),
			Timestamp: time.Unix(int64(1000+offset+i), 0),
		}
	}
	return page
}

func TestLazyHistoryLoader_LoadInitialBatch(t *testing.T) {
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Once()

	l := NewLazyHistoryLoader(testLoaderConfig(), mockStore, nil, zap.NewNop())

	page := l.LoadInitialBatch(context.Background(), "u1")

	require.Len(t, page, 5)
	state, exists := l.State("u1")
	require.True(t, exists)
	assert.Equal(t, 5, state.Offset)
	assert.Equal(t, 1, state.LoadedBatches)
	assert.True(t, state.HasMore, "a full page means more history may exist")
	assert.False(t, state.IsLoading)
	mockStore.AssertExpectations(t)
}

func TestLazyHistoryLoader_ShortPageEndsPagination(t *testing.T) {
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 3), nil).Once()

	l := NewLazyHistoryLoader(testLoaderConfig(), mockStore, nil, zap.NewNop())

	page := l.LoadInitialBatch(context.Background(), "u1")
	require.Len(t, page, 3)

	state, _ := l.State("u1")
	assert.False(t, state.HasMore)

	// Further loads are no-ops; the store is not called again
	next := l.LoadNextBatch(context.Background(), "u1")
	assert.Nil(t, next)
	mockStore.AssertExpectations(t)
}

func TestLazyHistoryLoader_LoadNextBatchAdvancesOffset(t *testing.T) {
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Once()
	mockStore.On("FetchPage", mock.Anything, "u1", 5, 5).Return(historyPage(5, 5), nil).Once()

	l := NewLazyHistoryLoader(testLoaderConfig(), mockStore, nil, zap.NewNop())

	l.LoadInitialBatch(context.Background(), "u1")
	next := l.LoadNextBatch(context.Background(), "u1")

	require.Len(t, next, 5)
	assert.Equal(t, "msg-5", next[0].ID)

	state, _ := l.State("u1")
	assert.Equal(t, 10, state.Offset)
	assert.Equal(t, 2, state.LoadedBatches)
	mockStore.AssertExpectations(t)
}

func TestLazyHistoryLoader_MaxBatchesStopsLoading(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.MaxBatches = 2
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Once()
	mockStore.On("FetchPage", mock.Anything, "u1", 5, 5).Return(historyPage(5, 5), nil).Once()

	l := NewLazyHistoryLoader(cfg, mockStore, nil, zap.NewNop())

	l.LoadInitialBatch(context.Background(), "u1")
	require.Len(t, l.LoadNextBatch(context.Background(), "u1"), 5)

	// The batch ceiling is reached even though hasMore is still true
	assert.Nil(t, l.LoadNextBatch(context.Background(), "u1"))
	mockStore.AssertExpectations(t)
}

func TestLazyHistoryLoader_PageCacheAvoidsRefetch(t *testing.T) {
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Once()

	l := NewLazyHistoryLoader(testLoaderConfig(), mockStore, nil, zap.NewNop())

	first := l.LoadInitialBatch(context.Background(), "u1")
	// Restart pagination: page 0 is served from the page cache
	second := l.LoadInitialBatch(context.Background(), "u1")

	assert.Equal(t, first, second)
	mockStore.AssertExpectations(t)
}

func TestLazyHistoryLoader_PageCacheEvictsOldestBeyondBound(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.PageCacheSize = 5 // one page worth: every new page evicts the previous
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Twice()
	mockStore.On("FetchPage", mock.Anything, "u1", 5, 5).Return(historyPage(5, 5), nil).Once()

	l := NewLazyHistoryLoader(cfg, mockStore, nil, zap.NewNop())

	l.LoadInitialBatch(context.Background(), "u1")
	l.LoadNextBatch(context.Background(), "u1")

	// Page 0 was evicted by page 1, so restarting refetches it
	l.LoadInitialBatch(context.Background(), "u1")
	mockStore.AssertExpectations(t)
}

func TestLazyHistoryLoader_ShouldLoadMore(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.LoadThreshold = 2
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Once()

	l := NewLazyHistoryLoader(cfg, mockStore, nil, zap.NewNop())

	assert.False(t, l.ShouldLoadMore("u1", 0), "unknown user never triggers a load")

	l.LoadInitialBatch(context.Background(), "u1")

	// Offset 5: rendering 3 of 5 leaves a buffer of 2, at the threshold
	assert.True(t, l.ShouldLoadMore("u1", 3))
	assert.False(t, l.ShouldLoadMore("u1", 1), "a deep unread buffer defers loading")
}

func TestLazyHistoryLoader_StoreFailureYieldsEmptyPage(t *testing.T) {
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).
		Return(nil, fmt.Errorf("connection refused")).Once()

	l := NewLazyHistoryLoader(testLoaderConfig(), mockStore, nil, zap.NewNop())

	page := l.LoadInitialBatch(context.Background(), "u1")

	assert.Empty(t, page)
	state, _ := l.State("u1")
	assert.False(t, state.HasMore)
	assert.Error(t, state.Err)
}

func TestLazyHistoryLoader_Reset(t *testing.T) {
	mockStore := new(store.MockHistoryStore)
	mockStore.On("FetchPage", mock.Anything, "u1", 0, 5).Return(historyPage(0, 5), nil).Twice()

	l := NewLazyHistoryLoader(testLoaderConfig(), mockStore, nil, zap.NewNop())

	l.LoadInitialBatch(context.Background(), "u1")
	l.Reset("u1")

	_, exists := l.State("u1")
	assert.False(t, exists)

	// Reset also dropped the user's cached pages, so the store is hit again
	l.LoadInitialBatch(context.Background(), "u1")
	mockStore.AssertExpectations(t)
}
