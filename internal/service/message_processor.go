package service

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskhive/chatcache/internal/errors"
	"github.com/taskhive/chatcache/internal/model"
	"go.uber.org/zap"
)

// dedupBucketSeconds is the fixed window used to group near-simultaneous
// duplicate messages for collapsing
const dedupBucketSeconds = 10

// MessageProcessor handles message ID generation, content normalization,
// validation, and de-duplication
type MessageProcessor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewMessageProcessor creates a new message processor
func NewMessageProcessor(logger *zap.Logger) *MessageProcessor {
	return &MessageProcessor{
		logger: logger,
		now:    time.Now,
	}
}

// GenerateID generates a role-namespaced message ID.
// Millisecond timestamp plus a random suffix keeps two calls in the same
// millisecond distinct.
func (p *MessageProcessor) GenerateID(role model.Role) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", role, p.now().UnixMilli(), suffix)
}

// NormalizeContent trims, lowercases, and collapses internal whitespace
func NormalizeContent(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentHash computes a fixed-width hash over normalized content.
// Equal normalized strings hash equal; used for equality grouping only,
// not for anything security-sensitive.
func (p *MessageProcessor) ContentHash(text string) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizeContent(text)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// DedupKey builds the key used to group near-identical messages:
// role | content hash | 10-second timestamp bucket
func (p *MessageProcessor) DedupKey(msg model.Message) string {
	bucket := msg.Timestamp.Unix() / dedupBucketSeconds
	return fmt.Sprintf("%s|%s|%d", msg.Role, p.ContentHash(msg.Content), bucket)
}

// RemoveDuplicates collapses near-identical messages, always keeping the
// most recent instance per dedup key, and returns the survivors sorted
// chronologically ascending. The operation is idempotent.
func (p *MessageProcessor) RemoveDuplicates(messages []model.Message) []model.Message {
	if len(messages) <= 1 {
		return model.CloneMessages(messages)
	}

	// Newest-first scan: the first message seen per key wins
	byNewest := model.CloneMessages(messages)
	sort.SliceStable(byNewest, func(i, j int) bool {
		return byNewest[i].Timestamp.After(byNewest[j].Timestamp)
	})

	seen := make(map[string]struct{}, len(byNewest))
	survivors := make([]model.Message, 0, len(byNewest))
	for _, msg := range byNewest {
		key := p.DedupKey(msg)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		survivors = append(survivors, msg)
	}

	dropped := len(messages) - len(survivors)
	if dropped > 0 {
		p.logger.Debug("Collapsed duplicate messages",
			zap.Int("input", len(messages)),
			zap.Int("dropped", dropped))
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Timestamp.Before(survivors[j].Timestamp)
	})

	return survivors
}

// Validate checks that a message is well-formed. Callers drop invalid
// messages; a validation failure is never fatal.
func (p *MessageProcessor) Validate(msg model.Message) error {
	if msg.ID == "" {
		return errors.ValidationFailure("id", "must not be empty")
	}
	if msg.Content == "" {
		return errors.ValidationFailure("content", "must not be empty")
	}
	if msg.Timestamp.IsZero() {
		return errors.ValidationFailure("timestamp", "must be set")
	}
	if !msg.Role.Valid() {
		return errors.ValidationFailure("role", fmt.Sprintf("unknown role %q", msg.Role))
	}
	return nil
}

// FilterValid returns the subset of messages that pass validation
func (p *MessageProcessor) FilterValid(messages []model.Message) []model.Message {
	valid := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if err := p.Validate(msg); err != nil {
			p.logger.Debug("Dropping invalid message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		valid = append(valid, msg)
	}
	return valid
}

// CreateUserMessage builds a new user-authored message
func (p *MessageProcessor) CreateUserMessage(content string) model.Message {
	return model.Message{
		ID:        p.GenerateID(model.RoleUser),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: p.now(),
	}
}

// CreateAssistantMessage builds a new assistant-authored message
func (p *MessageProcessor) CreateAssistantMessage(content string) model.Message {
	return model.Message{
		ID:        p.GenerateID(model.RoleAssistant),
		Role:      model.RoleAssistant,
		Content:   content,
		Timestamp: p.now(),
	}
}

// CreateErrorMessage builds an assistant message flagged as an error,
// used by the chat UI to render failure notices
func (p *MessageProcessor) CreateErrorMessage(content string) model.Message {
	return model.Message{
		ID:        p.GenerateID(model.RoleAssistant),
		Role:      model.RoleAssistant,
		Content:   content,
		Timestamp: p.now(),
		Metadata:  map[string]string{"error": "true"},
	}
}
