package companion

import "sync"

// Store exposes profile lookup for the chat client and the stand-in backend.
type Store interface {
	List(userID string) []Profile
	FindByID(userID, id string) (Profile, bool)
	Save(profile Profile)
	Delete(userID, id string) bool
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// List returns the profiles owned by userID. An empty userID lists everything.
func (s *MemoryStore) List(userID string) []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.items))
	for _, item := range s.items {
		if userID == "" || item.UserID == "" || item.UserID == userID {
			out = append(out, item)
		}
	}
	return out
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(userID, id string) (Profile, bool) {
	for _, item := range s.List(userID) {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}

// Save inserts or replaces a profile.
func (s *MemoryStore) Save(profile Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.ID == profile.ID {
			s.items[i] = profile
			return
		}
	}
	s.items = append(s.items, profile)
}

// Delete removes a profile and reports whether it existed.
func (s *MemoryStore) Delete(userID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.ID != id {
			continue
		}
		if userID != "" && item.UserID != "" && item.UserID != userID {
			return false
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		return true
	}
	return false
}
