package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
)

// CodeOK is the envelope code for a successful call.
const CodeOK = 200

// Envelope wraps every REST response.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MessageDTO is a history entry as served by /lovers/history.
type MessageDTO struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
	Type      string    `json:"type"`
}

// ProfileDTO is a companion profile as served by /lovers/list and /lovers/create.
type ProfileDTO struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	LoverID      string   `json:"lover_id"`
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar,omitempty"`
	Gender       int      `json:"gender"`
	Personality  int      `json:"personality"`
	Hobbies      []string `json:"hobbies,omitempty"`
	TalkingStyle int      `json:"talking_style"`
}

// CreateRequest is the body of /lovers/create.
type CreateRequest struct {
	UserID       string   `json:"user_id"`
	LoverID      string   `json:"lover_id,omitempty"`
	Avatar       string   `json:"avatar,omitempty"`
	Name         string   `json:"name"`
	Gender       int      `json:"gender"`
	Personality  int      `json:"personality"`
	Hobbies      []string `json:"hobbies,omitempty"`
	TalkingStyle int      `json:"talking_style"`
}

// PairRequest addresses one user–companion pair.
type PairRequest struct {
	UserID  string `json:"user_id"`
	LoverID string `json:"lover_id"`
}

// ToMessage normalizes a history entry. Unknown senders map to ai and
// unknown types to text.
func (d MessageDTO) ToMessage() chat.Message {
	return chat.Message{
		ID:        d.ID,
		Sender:    chat.ParseSender(d.Sender),
		Content:   d.Content,
		Timestamp: time.Time(d.Timestamp),
		Kind:      chat.ParseKind(d.Type),
	}
}

// MessageDTOFrom is the inverse of ToMessage.
func MessageDTOFrom(msg chat.Message) MessageDTO {
	return MessageDTO{
		ID:        msg.ID,
		Sender:    string(msg.Sender),
		Content:   msg.Content,
		Timestamp: Timestamp(msg.Timestamp),
		Type:      string(msg.Kind),
	}
}

// ToProfile maps the wire profile. The socket addresses a companion by
// lover_id, so it wins over the row id when both are present.
func (d ProfileDTO) ToProfile() companion.Profile {
	id := d.LoverID
	if id == "" {
		id = d.ID
	}
	return companion.Profile{
		ID:          id,
		UserID:      d.UserID,
		Name:        d.Name,
		Image:       d.Avatar,
		Gender:      d.Gender,
		Personality: companion.Personality(d.Personality),
		Interests:   d.Hobbies,
		VoiceStyle:  d.TalkingStyle,
	}
}

// ProfileDTOFrom is the inverse of ToProfile.
func ProfileDTOFrom(p companion.Profile) ProfileDTO {
	return ProfileDTO{
		ID:           p.ID,
		UserID:       p.UserID,
		LoverID:      p.ID,
		Name:         p.Name,
		Avatar:       p.Image,
		Gender:       p.Gender,
		Personality:  int(p.Personality),
		Hobbies:      p.Interests,
		TalkingStyle: p.VoiceStyle,
	}
}

// Timestamp accepts RFC 3339 strings or unix milliseconds and encodes as
// RFC 3339.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*t = Timestamp{}
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*t = Timestamp(time.UnixMilli(ms))
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*t = Timestamp(parsed)
		return nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", raw, err)
	}
	*t = Timestamp(time.UnixMilli(ms))
	return nil
}
