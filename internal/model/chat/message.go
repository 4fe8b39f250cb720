package chat

import (
	"time"

	"github.com/google/uuid"
)

// Sender 标识消息作者。
type Sender string

const (
	SenderHuman Sender = "human"
	SenderAI    Sender = "ai"
)

// Kind 区分消息的渲染语义。
type Kind string

const (
	KindText Kind = "text"
	KindCare Kind = "care"
	KindNews Kind = "news"
)

// Message is one transcript entry. The kind is serialized as "type" to match
// the history endpoint and the locally persisted records.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"type"`
}

// NewMessage builds a message with a fresh id.
func NewMessage(sender Sender, kind Kind, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: now,
		Kind:      kind,
	}
}

// ParseSender maps wire values onto a Sender. Anything that is not a human
// author is treated as the companion.
func ParseSender(raw string) Sender {
	switch raw {
	case string(SenderHuman), "user":
		return SenderHuman
	default:
		return SenderAI
	}
}

// ParseKind maps wire values onto a Kind, defaulting to text.
func ParseKind(raw string) Kind {
	switch raw {
	case string(KindCare):
		return KindCare
	case string(KindNews):
		return KindNews
	default:
		return KindText
	}
}
