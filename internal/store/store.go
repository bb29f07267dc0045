// Package store provides the durable home of the four governance
// collections: knowledge base, repair history, quarantine queue, and audit
// log. Each collection occupies one named slot persisted as a JSON file.
// The store is pure load/save; it applies no domain logic.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Errors for storage operations. Load distinguishes "empty because new"
// (no error) from "empty because corrupted" (ErrCorrupted) so callers can
// log degraded reads instead of silently losing data.
var (
	ErrRead      = errors.New("storage read failed")
	ErrWrite     = errors.New("storage write failed")
	ErrCorrupted = errors.New("stored data corrupted")
)

// Slot names one of the persisted collections.
type Slot string

const (
	SlotKnowledge  Slot = "knowledge"
	SlotHistory    Slot = "history"
	SlotQuarantine Slot = "quarantine"
	SlotAudit      Slot = "audit"
)

// Store is the persistence boundary injected into every component that
// needs durable state. Implementations must treat a missing slot as empty.
type Store interface {
	// Load decodes a slot into v (a pointer to a slice). A missing slot
	// leaves v untouched and returns nil. Malformed data leaves v
	// untouched and returns an error wrapping ErrCorrupted.
	Load(slot Slot, v any) error

	// Save persists a single slot.
	Save(slot Slot, v any) error

	// Commit persists several slots as one transaction: either every slot
	// is written or none is.
	Commit(slots map[Slot]any) error
}

// FileStore keeps each slot as <dir>/<slot>.json, written atomically via a
// temp file and rename, following the same discipline as any other state
// file this project owns.
type FileStore struct {
	dir string
}

// NewFileStore creates the data directory if needed and returns a store
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config", "buildmedic", "memory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory backing this store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(slot Slot) string {
	return filepath.Join(s.dir, string(slot)+".json")
}

// Load implements Store.
func (s *FileStore) Load(slot Slot, v any) error {
	data, err := os.ReadFile(s.path(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: slot %s: %v", ErrRead, slot, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: slot %s: %v", ErrCorrupted, slot, err)
	}
	return nil
}

// Save implements Store.
func (s *FileStore) Save(slot Slot, v any) error {
	return s.Commit(map[Slot]any{slot: v})
}

// Commit implements Store. All temp files are written before any rename
// so a marshal or write failure leaves every slot untouched.
func (s *FileStore) Commit(slots map[Slot]any) error {
	tmps := make(map[Slot]string, len(slots))

	cleanup := func() {
		for _, tmp := range tmps {
			os.Remove(tmp)
		}
	}

	for slot, v := range slots {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			cleanup()
			return fmt.Errorf("%w: slot %s: marshal: %v", ErrWrite, slot, err)
		}
		tmp := s.path(slot) + ".tmp"
		if err := os.WriteFile(tmp, data, 0600); err != nil {
			cleanup()
			return fmt.Errorf("%w: slot %s: %v", ErrWrite, slot, err)
		}
		tmps[slot] = tmp
	}

	for slot, tmp := range tmps {
		if err := os.Rename(tmp, s.path(slot)); err != nil {
			cleanup()
			return fmt.Errorf("%w: slot %s: rename: %v", ErrWrite, slot, err)
		}
	}
	return nil
}
