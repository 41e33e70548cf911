package store

import (
	"context"
	"errors"

	"github.com/taskhive/chatcache/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// TableParams carries the parameters of a table-scoped fetch
type TableParams map[string]string

// HistoryStore is the durable-store collaborator behind the caching layer.
// It is the only source of truth; the cache layer treats every failure as
// an empty result and never propagates it as fatal.
type HistoryStore interface {
	// FetchConversationHistory returns all messages for a user, oldest first
	FetchConversationHistory(ctx context.Context, userID string) ([]model.Message, error)

	// FetchPage returns up to limit messages starting at offset, oldest first
	FetchPage(ctx context.Context, userID string, offset, limit int) ([]model.Message, error)

	// PersistMessage appends a message to the user's history
	PersistMessage(ctx context.Context, userID string, msg model.Message) error

	// FetchTable runs a table-scoped read (tasks, projects) used by the prefetcher
	FetchTable(ctx context.Context, userID, table, operation string, params TableParams) (interface{}, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
