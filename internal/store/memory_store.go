package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MemoryHistoryStore implements HistoryStore using in-memory maps.
// Used for development, demos, and tests.
type MemoryHistoryStore struct {
	messages map[string][]model.Message          // userID -> ordered history
	tables   map[string]map[string]interface{}   // userID -> table -> payload
	mu       sync.RWMutex
	logger   *zap.Logger
}

// seedFile is the YAML shape of a development seed fixture
type seedFile struct {
	Users []struct {
		UserID   string `yaml:"user_id"`
		Messages []struct {
			ID        string            `yaml:"id"`
			Role      string            `yaml:"role"`
			Content   string            `yaml:"content"`
			Timestamp time.Time         `yaml:"timestamp"`
			Metadata  map[string]string `yaml:"metadata"`
		} `yaml:"messages"`
	} `yaml:"users"`
}

// NewMemoryHistoryStore creates a new in-memory history store
func NewMemoryHistoryStore(logger *zap.Logger) *MemoryHistoryStore {
	return &MemoryHistoryStore{
		messages: make(map[string][]model.Message),
		tables:   make(map[string]map[string]interface{}),
		logger:   logger,
	}
}

// LoadSeed loads development fixture data from a YAML file
func (s *MemoryHistoryStore) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range seed.Users {
		history := make([]model.Message, 0, len(u.Messages))
		for _, m := range u.Messages {
			history = append(history, model.Message{
				ID:        m.ID,
				Role:      model.Role(m.Role),
				Content:   m.Content,
				Timestamp: m.Timestamp,
				Metadata:  m.Metadata,
			})
		}
		sort.Slice(history, func(i, j int) bool {
			return history[i].Timestamp.Before(history[j].Timestamp)
		})
		s.messages[u.UserID] = history
	}

	s.logger.Info("Loaded seed fixture",
		zap.String("path", path),
		zap.Int("users", len(seed.Users)))

	return nil
}

// FetchConversationHistory returns all messages for a user, oldest first
func (s *MemoryHistoryStore) FetchConversationHistory(ctx context.Context, userID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.messages[userID]
	if !exists {
		return []model.Message{}, nil
	}

	return model.CloneMessages(history), nil
}

// FetchPage returns up to limit messages starting at offset, oldest first
func (s *MemoryHistoryStore) FetchPage(ctx context.Context, userID string, offset, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.messages[userID]
	if offset >= len(history) {
		return []model.Message{}, nil
	}

	end := offset + limit
	if end > len(history) {
		end = len(history)
	}

	return model.CloneMessages(history[offset:end]), nil
}

// PersistMessage appends a message to the user's history
func (s *MemoryHistoryStore) PersistMessage(ctx context.Context, userID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[userID] = append(s.messages[userID], msg.Clone())
	return nil
}

// FetchTable runs a table-scoped read used by the prefetcher
func (s *MemoryHistoryStore) FetchTable(ctx context.Context, userID, table, operation string, params TableParams) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userTables, exists := s.tables[userID]
	if !exists {
		return nil, ErrNotFound
	}

	payload, exists := userTables[table]
	if !exists {
		return nil, ErrNotFound
	}

	return payload, nil
}

// PutTable stores a table payload for a user (test and fixture helper)
func (s *MemoryHistoryStore) PutTable(userID, table string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[userID] == nil {
		s.tables[userID] = make(map[string]interface{})
	}
	s.tables[userID][table] = payload
}

// Ping checks store availability
func (s *MemoryHistoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases store resources
func (s *MemoryHistoryStore) Close() error {
	return nil
}
