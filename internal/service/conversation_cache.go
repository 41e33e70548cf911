package service

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/metrics"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
)

// messageOverheadBytes approximates per-message bookkeeping cost when
// estimating record sizes
const messageOverheadBytes = 64

// ConversationCache is a per-(user, conversation) TTL+LRU store of message
// lists with hit/miss accounting. Records expire lazily on read and are
// additionally removed by a periodic background sweep.
type ConversationCache struct {
	config  config.ConversationConfig
	records map[string]*model.ConversationRecord
	mu      sync.RWMutex
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	stopOnce sync.Once
	stopChan chan struct{}
}

// ConversationCacheStats holds cache statistics
type ConversationCacheStats struct {
	Entries           int
	TotalMessages     int64
	MemoryUsageBytes  int64
	Hits              int64
	Misses            int64
	Evictions         int64
	Expirations       int64
	HitRate           float64
	AvgMessagesPerKey float64
}

// NewConversationCache creates a new conversation cache and starts its sweep
// goroutine. Stop must be called to cancel the sweep.
func NewConversationCache(cfg config.ConversationConfig, m *metrics.Metrics, logger *zap.Logger) *ConversationCache {
	c := &ConversationCache{
		config:   cfg,
		records:  make(map[string]*model.ConversationRecord),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go c.sweep()

	return c
}

func conversationKey(userID, conversationID string) string {
	return fmt.Sprintf("%s:%s", userID, conversationID)
}

// Get retrieves the cached message list for a conversation.
// Returns a defensive copy; absent if no record exists or the record has
// outlived its TTL (lazy expiry check, in addition to the periodic sweep).
func (c *ConversationCache) Get(userID, conversationID string) ([]model.Message, bool) {
	key := conversationKey(userID, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()

	record, exists := c.records[key]
	if !exists {
		c.misses++
		if c.metrics != nil {
			c.metrics.ConversationMissesTotal.Inc()
		}
		return nil, false
	}

	now := c.now()
	if now.Sub(record.LastModified) > c.config.ConversationTTL {
		c.removeLocked(key)
		c.misses++
		c.expirations++
		if c.metrics != nil {
			c.metrics.ConversationMissesTotal.Inc()
			c.metrics.ConversationExpiredTotal.Inc()
		}
		return nil, false
	}

	record.LastAccessed = now
	record.HitCount++
	c.hits++
	if c.metrics != nil {
		c.metrics.ConversationHitsTotal.Inc()
	}

	return model.CloneMessages(record.Messages), true
}

// Set stores the message list for a conversation, truncating to the
// configured cap (most recent kept) and shortening over-long bodies.
// Inserting a new key at capacity evicts the least-recently-accessed record
// first; the evict-then-insert sequence is atomic under the cache lock.
func (c *ConversationCache) Set(userID, conversationID string, messages []model.Message) {
	key := conversationKey(userID, conversationID)
	prepared := c.prepare(messages)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	record, exists := c.records[key]
	if !exists {
		if len(c.records) >= c.config.MaxConversations {
			c.evictLRULocked()
		}
		record = &model.ConversationRecord{
			UserID:         userID,
			ConversationID: conversationID,
		}
		c.records[key] = record
	}

	record.Messages = prepared
	record.LastAccessed = now
	record.LastModified = now
	record.SizeBytes = estimateSize(prepared)

	c.updateGaugesLocked()
}

// AddMessage appends a message to an existing conversation record, re-trimming
// to the cap. If no record exists, or the record has outlived its TTL, it
// behaves as Set with a singleton list: an expired record is logically absent
// even before the sweep removes it, so its stale messages must not survive
// the write.
func (c *ConversationCache) AddMessage(userID string, msg model.Message, conversationID string) {
	key := conversationKey(userID, conversationID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	record, exists := c.records[key]
	if exists && now.Sub(record.LastModified) > c.config.ConversationTTL {
		c.removeLocked(key)
		c.expirations++
		if c.metrics != nil {
			c.metrics.ConversationExpiredTotal.Inc()
		}
		exists = false
	}
	if !exists {
		if len(c.records) >= c.config.MaxConversations {
			c.evictLRULocked()
		}
		record = &model.ConversationRecord{
			UserID:         userID,
			ConversationID: conversationID,
		}
		c.records[key] = record
	}

	record.Messages = append(record.Messages, c.prepareOne(msg))
	if len(record.Messages) > c.config.MaxMessagesPerConversation {
		record.Messages = record.Messages[len(record.Messages)-c.config.MaxMessagesPerConversation:]
	}
	record.LastAccessed = now
	record.LastModified = now
	record.SizeBytes = estimateSize(record.Messages)

	c.updateGaugesLocked()
}

// Invalidate removes one conversation record
func (c *ConversationCache) Invalidate(userID, conversationID string) {
	key := conversationKey(userID, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[key]; exists {
		c.removeLocked(key)
		c.updateGaugesLocked()
	}
}

// InvalidateUser removes all conversation records for a user
func (c *ConversationCache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, record := range c.records {
		if record.UserID == userID {
			c.removeLocked(key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("Invalidated user conversations",
			zap.String("user_id", userID),
			zap.Int("removed", removed))
		c.updateGaugesLocked()
	}
}

// Stats returns lifetime cache statistics
func (c *ConversationCache) Stats() ConversationCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var totalMessages, totalBytes int64
	for _, record := range c.records {
		totalMessages += int64(len(record.Messages))
		totalBytes += record.SizeBytes
	}

	stats := ConversationCacheStats{
		Entries:          len(c.records),
		TotalMessages:    totalMessages,
		MemoryUsageBytes: totalBytes,
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		Expirations:      c.expirations,
	}

	if lookups := c.hits + c.misses; lookups > 0 {
		stats.HitRate = float64(c.hits) / float64(lookups)
	}
	if len(c.records) > 0 {
		stats.AvgMessagesPerKey = float64(totalMessages) / float64(len(c.records))
	}

	return stats
}

// Stop cancels the background sweep
func (c *ConversationCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// sweep periodically removes records whose LastModified exceeds the TTL,
// independent of whether they were ever read
func (c *ConversationCache) sweep() {
	interval := c.config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *ConversationCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, record := range c.records {
		if now.Sub(record.LastModified) > c.config.ConversationTTL {
			c.removeLocked(key)
			c.expirations++
			if c.metrics != nil {
				c.metrics.ConversationExpiredTotal.Inc()
			}
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("Swept expired conversations",
			zap.Int("removed", removed),
			zap.Int("remaining", len(c.records)))
		c.updateGaugesLocked()
	}
}

// evictLRULocked evicts the record with the smallest LastAccessed.
// Caller must hold the write lock.
func (c *ConversationCache) evictLRULocked() {
	var oldestKey string
	var oldestRecord *model.ConversationRecord

	for key, record := range c.records {
		if oldestRecord == nil || record.LastAccessed.Before(oldestRecord.LastAccessed) {
			oldestKey = key
			oldestRecord = record
		}
	}

	if oldestRecord != nil {
		c.removeLocked(oldestKey)
		c.evictions++
		if c.metrics != nil {
			c.metrics.ConversationEvictionsTotal.Inc()
		}
		c.logger.Debug("Evicted conversation record",
			zap.String("user_id", oldestRecord.UserID),
			zap.String("conversation_id", oldestRecord.ConversationID),
			zap.Time("last_accessed", oldestRecord.LastAccessed))
	}
}

func (c *ConversationCache) removeLocked(key string) {
	delete(c.records, key)
}

func (c *ConversationCache) updateGaugesLocked() {
	if c.metrics == nil {
		return
	}

	var totalBytes int64
	for _, record := range c.records {
		totalBytes += record.SizeBytes
	}
	c.metrics.ConversationEntriesTotal.Set(float64(len(c.records)))
	c.metrics.ConversationSizeBytes.Set(float64(totalBytes))
}

// prepare trims the list to the configured cap (keeping the most recent)
// and shortens over-long message bodies for size control
func (c *ConversationCache) prepare(messages []model.Message) []model.Message {
	trimmed := messages
	if len(trimmed) > c.config.MaxMessagesPerConversation {
		trimmed = trimmed[len(trimmed)-c.config.MaxMessagesPerConversation:]
	}

	prepared := make([]model.Message, len(trimmed))
	for i, msg := range trimmed {
		prepared[i] = c.prepareOne(msg)
	}
	return prepared
}

func (c *ConversationCache) prepareOne(msg model.Message) model.Message {
	out := msg.Clone()
	if c.config.MaxMessageBytes > 0 && len(out.Content) > c.config.MaxMessageBytes {
		// Back off to a rune boundary so truncation never leaves invalid UTF-8
		cut := c.config.MaxMessageBytes
		for cut > 0 && !utf8.RuneStart(out.Content[cut]) {
			cut--
		}
		out.Content = out.Content[:cut]
	}
	return out
}

func estimateSize(messages []model.Message) int64 {
	var size int64
	for _, msg := range messages {
		size += int64(len(msg.ID) + len(msg.Content) + messageOverheadBytes)
	}
	return size
}
