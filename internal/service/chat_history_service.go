package service

import (
	"context"
	"time"

	"github.com/taskhive/chatcache/internal/metrics"
	"github.com/taskhive/chatcache/internal/model"
	"github.com/taskhive/chatcache/internal/store"
	"go.uber.org/zap"
)

// ChatHistoryService is the orchestration layer tying the caches together:
// reads go conversation cache first, then durable store; writes persist and
// update every interested component. Store failures degrade to empty results
// rather than propagating.
type ChatHistoryService struct {
	processor     *MessageProcessor
	conversations *ConversationCache
	batcher       *QueryBatcher
	loader        *LazyHistoryLoader
	prefetcher    *PredictivePrefetcher
	store         store.HistoryStore
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewChatHistoryService creates a new chat history service
func NewChatHistoryService(
	processor *MessageProcessor,
	conversations *ConversationCache,
	batcher *QueryBatcher,
	loader *LazyHistoryLoader,
	prefetcher *PredictivePrefetcher,
	historyStore store.HistoryStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ChatHistoryService {
	return &ChatHistoryService{
		processor:     processor,
		conversations: conversations,
		batcher:       batcher,
		loader:        loader,
		prefetcher:    prefetcher,
		store:         historyStore,
		logger:        logger,
		metrics:       m,
	}
}

// observeStore records one durable store round trip
func (s *ChatHistoryService) observeStore(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreRequestsTotal.WithLabelValues(operation).Inc()
	s.metrics.StoreDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.StoreFailuresTotal.Inc()
	}
}

// GetHistory returns the deduplicated conversation history for a user. Cache
// hits avoid the durable store entirely; misses fetch, dedup, and populate
// the cache.
func (s *ChatHistoryService) GetHistory(ctx context.Context, userID, conversationID string) []model.Message {
	if messages, ok := s.conversations.Get(userID, conversationID); ok {
		return messages
	}

	start := time.Now()
	raw, err := s.store.FetchConversationHistory(ctx, userID)
	s.observeStore("fetch_history", start, err)
	if err != nil {
		s.logger.Warn("History fetch failed, serving empty history",
			zap.String("user_id", userID),
			zap.Error(err))
		return []model.Message{}
	}

	messages := s.processor.RemoveDuplicates(s.processor.FilterValid(raw))
	s.conversations.Set(userID, conversationID, messages)

	return messages
}

// AppendMessage persists a message, adds it to the conversation cache, and
// feeds the prefetcher's pattern mining. Persistence failures are logged and
// the in-memory path continues, so the UI never loses the message.
func (s *ChatHistoryService) AppendMessage(ctx context.Context, userID, conversationID string, msg model.Message) error {
	if err := s.processor.Validate(msg); err != nil {
		return err
	}

	start := time.Now()
	err := s.store.PersistMessage(ctx, userID, msg)
	s.observeStore("persist_message", start, err)
	if err != nil {
		s.logger.Warn("Message persistence failed",
			zap.String("user_id", userID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}

	s.conversations.AddMessage(userID, msg, conversationID)

	if msg.Role == model.RoleUser {
		s.prefetcher.ProcessMessage(userID, msg)
	}

	return nil
}

// SendUserMessage builds a user message from raw content and appends it
func (s *ChatHistoryService) SendUserMessage(ctx context.Context, userID, conversationID, content string) (model.Message, error) {
	msg := s.processor.CreateUserMessage(content)
	if err := s.AppendMessage(ctx, userID, conversationID, msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// QueryUserData answers a table query for a user. The predictive cache is
// consulted first; on a miss the query goes through the batcher, which
// coalesces concurrent lookups and caches the result.
func (s *ChatHistoryService) QueryUserData(ctx context.Context, userID, table, operation string, params map[string]string) (interface{}, error) {
	if intent, ok := intentForQuery(table, operation); ok {
		if data, hit := s.prefetcher.GetPrefetchedData(userID, intent); hit {
			return data, nil
		}
	}

	scoped := make(map[string]string, len(params)+1)
	for k, v := range params {
		scoped[k] = v
	}
	scoped["user_id"] = userID

	return s.batcher.Query(ctx, table, operation, scoped, func(fetchCtx context.Context) (interface{}, error) {
		start := time.Now()
		data, err := s.store.FetchTable(fetchCtx, userID, table, operation, store.TableParams(params))
		s.observeStore("fetch_table", start, err)
		return data, err
	})
}

// LoadPage returns the next page of history for incremental rendering,
// starting over when the user has no loader state yet
func (s *ChatHistoryService) LoadPage(ctx context.Context, userID string) []model.Message {
	if _, exists := s.loader.State(userID); !exists {
		return s.loader.LoadInitialBatch(ctx, userID)
	}
	return s.loader.LoadNextBatch(ctx, userID)
}

// intentForQuery maps a table query back to the intent the prefetcher would
// have predicted for it
func intentForQuery(table, operation string) (model.Intent, bool) {
	for intent, q := range intentQueries {
		if q.table == table && q.operation == operation {
			return intent, true
		}
	}
	return "", false
}
