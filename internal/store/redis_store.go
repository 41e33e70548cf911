package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
)

// RedisHistoryStore implements HistoryStore backed by Redis.
// Messages live in a per-user list, oldest first; table payloads are
// JSON-encoded strings under a composite key.
type RedisHistoryStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisHistoryStore creates a new Redis history store
func NewRedisHistoryStore(host string, port int, password string, db, poolSize int, logger *zap.Logger) (*RedisHistoryStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHistoryStore{
		client: client,
		logger: logger,
	}, nil
}

func historyKey(userID string) string {
	return fmt.Sprintf("chatcache:history:%s", userID)
}

func tableKey(userID, table string) string {
	return fmt.Sprintf("chatcache:table:%s:%s", userID, table)
}

// FetchConversationHistory returns all messages for a user, oldest first
func (s *RedisHistoryStore) FetchConversationHistory(ctx context.Context, userID string) ([]model.Message, error) {
	raw, err := s.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	return decodeMessages(raw)
}

// FetchPage returns up to limit messages starting at offset, oldest first
func (s *RedisHistoryStore) FetchPage(ctx context.Context, userID string, offset, limit int) ([]model.Message, error) {
	stop := int64(offset + limit - 1)
	raw, err := s.client.LRange(ctx, historyKey(userID), int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	return decodeMessages(raw)
}

// PersistMessage appends a message to the user's history
func (s *RedisHistoryStore) PersistMessage(ctx context.Context, userID string, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.client.RPush(ctx, historyKey(userID), data).Err()
}

// FetchTable runs a table-scoped read used by the prefetcher
func (s *RedisHistoryStore) FetchTable(ctx context.Context, userID, table, operation string, params TableParams) (interface{}, error) {
	data, err := s.client.Get(ctx, tableKey(userID, table)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch table %s: %w", table, err)
	}

	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal table data: %w", err)
	}

	return result, nil
}

// Ping checks the Redis connection
func (s *RedisHistoryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}

func decodeMessages(raw []string) ([]model.Message, error) {
	messages := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var msg model.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
