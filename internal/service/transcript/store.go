// Package transcript keeps the ordered, de-duplicated message log per
// companion and mirrors it into durable storage on every mutation.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/storage"
)

// timeline is one companion's transcript: an arena keyed by message id plus the
// display order.
type timeline struct {
	order []string
	byID  map[string]chat.Message
}

func newTimeline(capacity int) *timeline {
	return &timeline{
		order: make([]string, 0, capacity),
		byID:  make(map[string]chat.Message, capacity),
	}
}

func (l *timeline) add(msg chat.Message) bool {
	if _, exists := l.byID[msg.ID]; exists {
		return false
	}
	l.byID[msg.ID] = msg
	l.order = append(l.order, msg.ID)
	return true
}

func (l *timeline) list() []chat.Message {
	out := make([]chat.Message, len(l.order))
	for i, id := range l.order {
		out[i] = l.byID[id]
	}
	return out
}

// Store holds transcripts for every companion touched in this process.
type Store struct {
	// writeMu orders mutations with their persistence so storage never
	// regresses to an older snapshot.
	writeMu sync.Mutex
	mu      sync.RWMutex
	logs    map[string]*timeline
	kv      storage.Store
	logger  *zap.Logger
}

// NewStore wires the transcript store to a durable key-value backend.
func NewStore(kv storage.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logs:   make(map[string]*timeline),
		kv:     kv,
		logger: logger.Named("transcript"),
	}
}

// Restore loads the persisted transcript into memory. A missing or unreadable
// record leaves an empty transcript; only storage failures are returned.
func (s *Store) Restore(ctx context.Context, companionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, ok, err := s.kv.Get(ctx, storage.MessagesKey(companionID))
	if err != nil {
		s.mu.Lock()
		if _, exists := s.logs[companionID]; !exists {
			s.logs[companionID] = newTimeline(0)
		}
		s.mu.Unlock()
		return fmt.Errorf("read transcript %s: %w", companionID, err)
	}

	var messages []chat.Message
	if ok {
		if err := json.Unmarshal(raw, &messages); err != nil {
			s.logger.Warn("discarding unreadable transcript",
				zap.String("companion", companionID), zap.Error(err))
			messages = nil
		}
	}

	l := newTimeline(len(messages))
	for _, msg := range messages {
		l.add(msg)
	}

	s.mu.Lock()
	s.logs[companionID] = l
	s.mu.Unlock()

	s.logger.Debug("transcript restored",
		zap.String("companion", companionID), zap.Int("messages", len(l.order)))
	return nil
}

// Hydrate replaces the companion's transcript with messages. Repeated ids in
// the input keep their first occurrence.
func (s *Store) Hydrate(ctx context.Context, companionID string, messages []chat.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	l := newTimeline(len(messages))
	for _, msg := range messages {
		l.add(msg)
	}

	s.mu.Lock()
	s.logs[companionID] = l
	snapshot := l.list()
	s.mu.Unlock()

	return s.persist(ctx, companionID, snapshot)
}

// Append adds msg at the tail. It reports false, without persisting, when a
// message with the same id is already present.
func (s *Store) Append(ctx context.Context, companionID string, msg chat.Message) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	l, ok := s.logs[companionID]
	if !ok {
		l = newTimeline(16)
		s.logs[companionID] = l
	}
	if !l.add(msg) {
		s.mu.Unlock()
		s.logger.Debug("duplicate message ignored",
			zap.String("companion", companionID), zap.String("id", msg.ID))
		return false, nil
	}
	snapshot := l.list()
	s.mu.Unlock()

	return true, s.persist(ctx, companionID, snapshot)
}

// Snapshot returns a copy of the ordered transcript.
func (s *Store) Snapshot(companionID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[companionID]
	if !ok {
		return []chat.Message{}
	}
	return l.list()
}

// Lookup finds a message by id.
func (s *Store) Lookup(companionID, id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[companionID]
	if !ok {
		return chat.Message{}, false
	}
	msg, ok := l.byID[id]
	return msg, ok
}

// Len returns the number of messages held for the companion.
func (s *Store) Len(companionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.logs[companionID]; ok {
		return len(l.order)
	}
	return 0
}

// Forget drops the in-memory transcript and its durable record.
func (s *Store) Forget(ctx context.Context, companionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.logs, companionID)
	s.mu.Unlock()

	if err := s.kv.Remove(ctx, storage.MessagesKey(companionID)); err != nil {
		return fmt.Errorf("remove transcript %s: %w", companionID, err)
	}
	return nil
}

// Reset drops every in-memory transcript. Durable records are untouched.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.logs = make(map[string]*timeline)
	s.mu.Unlock()
}

// persist writes the full ordered list. Callers hold writeMu.
func (s *Store) persist(ctx context.Context, companionID string, messages []chat.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode transcript %s: %w", companionID, err)
	}
	if err := s.kv.Set(ctx, storage.MessagesKey(companionID), raw); err != nil {
		s.logger.Warn("persist transcript failed",
			zap.String("companion", companionID), zap.Error(err))
		return fmt.Errorf("persist transcript %s: %w", companionID, err)
	}
	return nil
}
