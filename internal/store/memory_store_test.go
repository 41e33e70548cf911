package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
)

func seedMessages(s *MemoryHistoryStore, userID string, n int) {
	for i := 0; i < n; i++ {
		_ = s.PersistMessage(context.Background(), userID, model.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      model.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: time.Unix(int64(1000+i), 0),
		})
	}
}

func TestMemoryHistoryStore_FetchConversationHistory(t *testing.T) {
	s := NewMemoryHistoryStore(zap.NewNop())
	seedMessages(s, "u1", 3)

	history, err := s.FetchConversationHistory(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "msg-0", history[0].ID)

	empty, err := s.FetchConversationHistory(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryHistoryStore_FetchHistoryReturnsCopy(t *testing.T) {
	s := NewMemoryHistoryStore(zap.NewNop())
	seedMessages(s, "u1", 1)

	first, err := s.FetchConversationHistory(context.Background(), "u1")
	require.NoError(t, err)
	first[0].Content = "mutated"

	second, err := s.FetchConversationHistory(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "message 0", second[0].Content)
}

func TestMemoryHistoryStore_FetchPage(t *testing.T) {
	s := NewMemoryHistoryStore(zap.NewNop())
	seedMessages(s, "u1", 7)

	tests := []struct {
		name    string
		offset  int
		limit   int
		wantLen int
		firstID string
	}{
		{name: "first page", offset: 0, limit: 3, wantLen: 3, firstID: "msg-0"},
		{name: "middle page", offset: 3, limit: 3, wantLen: 3, firstID: "msg-3"},
		{name: "short final page", offset: 6, limit: 3, wantLen: 1, firstID: "msg-6"},
		{name: "offset past end", offset: 10, limit: 3, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.FetchPage(context.Background(), "u1", tt.offset, tt.limit)
			require.NoError(t, err)
			require.Len(t, page, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.firstID, page[0].ID)
			}
		})
	}
}

func TestMemoryHistoryStore_FetchTable(t *testing.T) {
	s := NewMemoryHistoryStore(zap.NewNop())
	s.PutTable("u1", "tasks", []string{"task-1", "task-2"})

	payload, err := s.FetchTable(context.Background(), "u1", "tasks", "list", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2"}, payload)

	_, err = s.FetchTable(context.Background(), "u1", "projects", "list", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FetchTable(context.Background(), "unknown", "tasks", "list", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryHistoryStore_LoadSeed(t *testing.T) {
	seed := `users:
  - user_id: u1
    messages:
      - id: m2
        role: assistant
        content: "Here are your tasks"
        timestamp: 2024-03-12T10:00:05Z
      - id: m1
        role: user
        content: "Show my tasks"
        timestamp: 2024-03-12T10:00:00Z
  - user_id: u2
    messages:
      - id: m3
        role: user
        content: "Hello"
        timestamp: 2024-03-12T11:00:00Z
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	s := NewMemoryHistoryStore(zap.NewNop())
	require.NoError(t, s.LoadSeed(path))

	history, err := s.FetchConversationHistory(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].ID, "seed messages are sorted chronologically")
	assert.Equal(t, model.RoleAssistant, history[1].Role)

	history, err = s.FetchConversationHistory(context.Background(), "u2")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemoryHistoryStore_LoadSeedMissingFile(t *testing.T) {
	s := NewMemoryHistoryStore(zap.NewNop())
	assert.Error(t, s.LoadSeed(filepath.Join(t.TempDir(), "absent.yaml")))
}
