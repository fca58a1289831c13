package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Technique is the Socratic questioning style applied to a dialogue. The set
// is fixed; the actual prompt content per technique lives with the worker.
type Technique string

const (
	TechniqueElenchus       Technique = "elenchus"
	TechniqueMaieutics      Technique = "maieutics"
	TechniqueDialectic      Technique = "dialectic"
	TechniqueCounterexample Technique = "counterexample"
	TechniqueDefinition     Technique = "definition"
)

var Techniques = []Technique{
	TechniqueElenchus,
	TechniqueMaieutics,
	TechniqueDialectic,
	TechniqueCounterexample,
	TechniqueDefinition,
}

func (t Technique) Valid() bool {
	for _, known := range Techniques {
		if t == known {
			return true
		}
	}
	return false
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ParentKind scopes messages, archives and jobs to either a top-level
// conversation or a single canvas node dialogue.
type ParentKind string

const (
	ParentConversation ParentKind = "conversation"
	ParentNode         ParentKind = "node"
)

type MessageMeta struct {
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Model            string `json:"model,omitempty"`
	LatencyMs        int64  `json:"latency_ms,omitempty"`
}

// Message is the JSON value stored inside a dialogue's hot window and, after
// cutover, as an archived_message row. Seq is assigned exactly once by the
// owning dialogue's sequence allocator and never changes.
type Message struct {
	ID        uuid.UUID    `json:"id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Seq       int64        `json:"seq"`
	CreatedAt time.Time    `json:"created_at"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

/*
DialogueState is the shared dialogue core embedded by Conversation and
CanvasNode. It owns:
  - NextSeq: the per-dialogue sequence allocator. Only mutated under a row
    lock on the parent. Allocated values are never reused; a value reserved
    for an assistant reply that never lands stays burned (a permanent gap).
  - RecentMessages: the bounded hot window (JSONB array of Message), sorted
    strictly ascending by seq, length <= the configured window size.
  - HasArchivedMessages: set once the first cutover moves a message to cold
    storage.
  - Aggregate metadata kept current on every append.
*/
type DialogueState struct {
	NextSeq int64 `gorm:"column:next_seq;not null;default:0" json:"next_seq"`

	RecentMessages      datatypes.JSON `gorm:"type:jsonb;column:recent_messages;not null;default:'[]'" json:"recent_messages"`
	HasArchivedMessages bool           `gorm:"column:has_archived_messages;not null;default:false" json:"has_archived_messages"`

	MessageCount     int64   `gorm:"column:message_count;not null;default:0" json:"message_count"`
	PromptTokens     int64   `gorm:"column:prompt_tokens;not null;default:0" json:"prompt_tokens"`
	CompletionTokens int64   `gorm:"column:completion_tokens;not null;default:0" json:"completion_tokens"`
	EstimatedCost    float64 `gorm:"column:estimated_cost;not null;default:0" json:"estimated_cost"`

	LastMessageAt time.Time `gorm:"column:last_message_at;not null;default:now()" json:"last_message_at"`
}

func (s *DialogueState) DecodeRecent() ([]Message, error) {
	if s == nil || len(s.RecentMessages) == 0 {
		return []Message{}, nil
	}
	var out []Message
	if err := json.Unmarshal(s.RecentMessages, &out); err != nil {
		return nil, fmt.Errorf("decode recent_messages: %w", err)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (s *DialogueState) SetRecent(msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode recent_messages: %w", err)
	}
	s.RecentMessages = datatypes.JSON(raw)
	return nil
}
