package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
)

var (
	ErrPairRequired = errors.New("user id and lover id are required")
	ErrEmptyMessage = errors.New("message content is required")
)

type pairKey struct {
	userID  string
	loverID string
}

// Service keeps each user–companion conversation in memory for the stand-in
// backend.
type Service struct {
	mu       sync.RWMutex
	messages map[pairKey][]chat.Message
	now      func() time.Time
}

// NewService bootstraps the in-memory conversation service.
func NewService() *Service {
	return &Service{
		messages: make(map[pairKey][]chat.Message),
		now:      time.Now,
	}
}

// SaveMessage appends a message to the pair's history, filling id and
// timestamp when absent.
func (s *Service) SaveMessage(_ context.Context, userID, loverID string, message chat.Message) (chat.Message, error) {
	if userID == "" || loverID == "" {
		return chat.Message{}, ErrPairRequired
	}
	if message.Content == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = s.now().UTC()
	}
	if message.Kind == "" {
		message.Kind = chat.KindText
	}

	key := pairKey{userID: userID, loverID: loverID}
	s.mu.Lock()
	s.messages[key] = append(s.messages[key], message)
	s.mu.Unlock()

	return message, nil
}

// LoadTranscript returns a copy of the pair's history. Unknown pairs have an
// empty history.
func (s *Service) LoadTranscript(_ context.Context, userID, loverID string) ([]chat.Message, error) {
	if userID == "" || loverID == "" {
		return nil, ErrPairRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[pairKey{userID: userID, loverID: loverID}]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// DeleteTranscript drops the pair's history.
func (s *Service) DeleteTranscript(_ context.Context, userID, loverID string) {
	s.mu.Lock()
	delete(s.messages, pairKey{userID: userID, loverID: loverID})
	s.mu.Unlock()
}
