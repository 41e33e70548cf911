package model

import "time"

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the three allowed values
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message represents a single chat message
// Messages are immutable once created; caches hand out copies on read
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	c := m
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// CloneMessages returns a deep copy of a message slice
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

// ConversationRecord holds the cached message list for one (user, conversation) key
type ConversationRecord struct {
	UserID         string
	ConversationID string
	Messages       []Message
	LastAccessed   time.Time
	LastModified   time.Time
	HitCount       int64
	SizeBytes      int64
}

// QueryCacheEntry holds the cached result of a batched query
// Read-only after creation; expires independently of conversation records
type QueryCacheEntry struct {
	Table     string
	Operation string
	ParamHash string
	Data      interface{}
	Timestamp time.Time
	TTL       time.Duration
}

// Expired reports whether the entry has outlived its TTL at the given time
func (e *QueryCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Intent is a coarse category assigned to a user message for pattern analysis
type Intent string

const (
	IntentTaskQuery     Intent = "task_query"
	IntentProjectQuery  Intent = "project_query"
	IntentTimeQuery     Intent = "time_query"
	IntentHelpQuery     Intent = "help_query"
	IntentAnalysisQuery Intent = "analysis_query"
	IntentPriorityQuery Intent = "priority_query"
	IntentGeneralQuery  Intent = "general_query"
)

// ContextTriggers captures the context in which a pattern tends to occur
type ContextTriggers struct {
	WorkingHours bool
	TopWords     []string
}

// UserPattern is a recurring intent sequence mined from a user's recent messages
type UserPattern struct {
	UserID        string
	Sequence      []Intent
	Frequency     int
	Confidence    float64
	PredictedNext Intent
	Triggers      ContextTriggers
	LastSeen      time.Time
}

// PredictiveCacheEntry holds speculatively prefetched data for a predicted intent
type PredictiveCacheEntry struct {
	Key        string
	Payload    interface{}
	Pattern    []Intent
	Confidence float64
	Timestamp  time.Time
	UsageCount int64
	TTL        time.Duration
}

// Expired reports whether the entry has outlived its TTL at the given time
func (e *PredictiveCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}
