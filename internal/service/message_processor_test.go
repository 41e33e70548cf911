package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/chatcache/internal/errors"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
)

func testMessage(role model.Role, content string, ts time.Time) model.Message {
	return model.Message{
		ID:        fmt.Sprintf("%s_%d", role, ts.UnixNano()),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}

func TestMessageProcessor_GenerateID_Unique(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := p.GenerateID(model.RoleUser)
		assert.True(t, strings.HasPrefix(id, "user_"))

		_, dup := seen[id]
		require.False(t, dup, "duplicate ID generated: %s", id)
		seen[id] = struct{}{}
	}
}

func TestMessageProcessor_ContentHash_NormalizesWhitespaceAndCase(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	a := p.ContentHash("  Show   My TASKS ")
	b := p.ContentHash("show my tasks")
	c := p.ContentHash("show my projects")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestMessageProcessor_RemoveDuplicates_CollapsesWithinBucket(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	// Both timestamps fall inside the same 10-second bucket
	base := time.Unix(1000, 0)
	older := testMessage(model.RoleUser, "show my tasks", base.Add(1*time.Second))
	newer := testMessage(model.RoleUser, "Show my tasks", base.Add(3*time.Second))

	result := p.RemoveDuplicates([]model.Message{older, newer})

	require.Len(t, result, 1)
	assert.Equal(t, newer.ID, result[0].ID, "the newest instance wins")
}

func TestMessageProcessor_RemoveDuplicates_KeepsDistinctBuckets(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	// 15 seconds apart: different buckets, both survive
	first := testMessage(model.RoleUser, "show my tasks", time.Unix(1000, 0))
	second := testMessage(model.RoleUser, "show my tasks", time.Unix(1015, 0))

	result := p.RemoveDuplicates([]model.Message{second, first})

	require.Len(t, result, 2)
	assert.Equal(t, first.ID, result[0].ID, "output is sorted chronologically")
	assert.Equal(t, second.ID, result[1].ID)
}

func TestMessageProcessor_RemoveDuplicates_RoleSeparatesKeys(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	ts := time.Unix(1000, 0)
	user := testMessage(model.RoleUser, "hello", ts)
	assistant := testMessage(model.RoleAssistant, "hello", ts)

	result := p.RemoveDuplicates([]model.Message{user, assistant})
	assert.Len(t, result, 2)
}

func TestMessageProcessor_RemoveDuplicates_Idempotent(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	base := time.Unix(2000, 0)
	messages := []model.Message{
		testMessage(model.RoleUser, "show my tasks", base),
		testMessage(model.RoleUser, "show my tasks", base.Add(2*time.Second)),
		testMessage(model.RoleAssistant, "here are your tasks", base.Add(4*time.Second)),
		testMessage(model.RoleUser, "what about projects", base.Add(30*time.Second)),
	}

	once := p.RemoveDuplicates(messages)
	twice := p.RemoveDuplicates(once)

	assert.Equal(t, once, twice)
}

func TestMessageProcessor_Validate(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())
	ts := time.Unix(1000, 0)

	tests := []struct {
		name    string
		msg     model.Message
		wantErr bool
	}{
		{
			name: "valid message",
			msg:  testMessage(model.RoleUser, "hello", ts),
		},
		{
			name:    "missing id",
			msg:     model.Message{Role: model.RoleUser, Content: "hello", Timestamp: ts},
			wantErr: true,
		},
		{
			name:    "empty content",
			msg:     model.Message{ID: "m1", Role: model.RoleUser, Timestamp: ts},
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			msg:     model.Message{ID: "m1", Role: model.RoleUser, Content: "hello"},
			wantErr: true,
		},
		{
			name:    "unknown role",
			msg:     model.Message{ID: "m1", Role: "bot", Content: "hello", Timestamp: ts},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(tt.msg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeValidationFailure, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageProcessor_FilterValid_DropsInvalid(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	valid := testMessage(model.RoleUser, "hello", time.Unix(1000, 0))
	invalid := model.Message{ID: "bad", Role: "bot", Content: "x", Timestamp: time.Unix(1000, 0)}

	result := p.FilterValid([]model.Message{valid, invalid})

	require.Len(t, result, 1)
	assert.Equal(t, valid.ID, result[0].ID)
}

func TestMessageProcessor_CreateErrorMessage_FlagsMetadata(t *testing.T) {
	p := NewMessageProcessor(zap.NewNop())

	msg := p.CreateErrorMessage("something went wrong")

	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "true", msg.Metadata["error"])
	assert.NoError(t, p.Validate(msg))
}
