package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store used by tests and by callers that want a
// throwaway state (e.g. dry runs). Values round-trip through JSON so it
// shares the FileStore's serialization behavior.
type MemStore struct {
	mu    sync.Mutex
	slots map[Slot][]byte

	// FailWrites makes Save/Commit return ErrWrite, for exercising the
	// degraded paths.
	FailWrites bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{slots: make(map[Slot][]byte)}
}

// Load implements Store.
func (s *MemStore) Load(slot Slot, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.slots[slot]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: slot %s: %v", ErrCorrupted, slot, err)
	}
	return nil
}

// Save implements Store.
func (s *MemStore) Save(slot Slot, v any) error {
	return s.Commit(map[Slot]any{slot: v})
}

// Commit implements Store.
func (s *MemStore) Commit(slots map[Slot]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return fmt.Errorf("%w: writes disabled", ErrWrite)
	}

	staged := make(map[Slot][]byte, len(slots))
	for slot, v := range slots {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: slot %s: marshal: %v", ErrWrite, slot, err)
		}
		staged[slot] = data
	}
	for slot, data := range staged {
		s.slots[slot] = data
	}
	return nil
}

// Corrupt replaces a slot's content with unparseable bytes, for tests.
func (s *MemStore) Corrupt(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = []byte("{not json")
}
