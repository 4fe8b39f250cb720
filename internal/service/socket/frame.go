package socket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
)

const (
	ActionMessage   = "message"
	ActionHeartbeat = "heartbeat"
)

// Frame is the outbound action frame.
type Frame struct {
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
}

// inboundFrame is the structured form the backend may push. Server ids are
// ignored; every received message gets a fresh id.
type inboundFrame struct {
	Action  string  `json:"action"`
	Content *string `json:"content"`
}

// decodeInbound turns a received payload into a companion message. Payloads
// that are not JSON objects with a content field are taken verbatim. ok is
// false only for keepalive acknowledgements.
func decodeInbound(data []byte, receivedAt time.Time) (chat.Message, bool) {
	var frame inboundFrame
	content := string(data)

	if err := json.Unmarshal(data, &frame); err == nil {
		switch {
		case frame.Content != nil:
			content = *frame.Content
		case frame.Action == ActionHeartbeat:
			return chat.Message{}, false
		}
	}

	return chat.Message{
		ID:        uuid.NewString(),
		Sender:    chat.SenderAI,
		Content:   content,
		Timestamp: receivedAt,
		Kind:      chat.KindText,
	}, true
}
