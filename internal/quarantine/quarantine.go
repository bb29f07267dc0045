// Package quarantine holds imported memory packages until a human decides
// their fate. Nothing in quarantine touches the live knowledge state;
// approval hands the package to the merge engine, rejection buries it.
package quarantine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
	"github.com/fyrsmithlabs/buildmedic/internal/store"
)

// Status is the lifecycle state of a quarantined package. Legal
// transitions: pending -> approved, pending -> rejected,
// approved -> rolled-back. A rejected package is terminal; re-importing
// the same file creates a fresh record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusRolledBack Status = "rolled-back"
)

// Package is a MemoryPackage held for review, flattened with its
// quarantine bookkeeping in the stored JSON.
type Package struct {
	memorypack.Package

	ID         string `json:"id"`
	ImportDate int64  `json:"importDate"`
	Status     Status `json:"status"`
}

// Manager owns the quarantine collection's lifecycle.
type Manager struct {
	store  store.Store
	logger *zap.Logger
}

// NewManager creates a quarantine manager backed by the given store.
func NewManager(st store.Store, logger *zap.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, logger: logger}, nil
}

// All returns the full quarantine collection. A corrupted slot degrades to
// empty with a logged warning; the system stays usable.
func (m *Manager) All() ([]Package, error) {
	var packages []Package
	if err := m.store.Load(store.SlotQuarantine, &packages); err != nil {
		// Degrade to empty rather than wedging every governance action
		// behind an unreadable queue.
		m.logger.Warn("quarantine collection unreadable, starting empty", zap.Error(err))
		packages = nil
	}
	return packages, nil
}

// Pending returns packages awaiting review.
func (m *Manager) Pending() ([]Package, error) {
	all, err := m.All()
	if err != nil {
		return nil, err
	}
	var pending []Package
	for _, pkg := range all {
		if pkg.Status == StatusPending {
			pending = append(pending, pkg)
		}
	}
	return pending, nil
}

// Get returns the package with the given id, or false.
func (m *Manager) Get(id string) (*Package, bool, error) {
	all, err := m.All()
	if err != nil {
		return nil, false, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], true, nil
		}
	}
	return nil, false, nil
}

// Enqueue places a parsed package into quarantine with a fresh id and
// pending status, persists the collection, and returns the new record.
// Pairing the enqueue with an import audit entry is the caller's job.
func (m *Manager) Enqueue(pkg *memorypack.Package) (*Package, error) {
	all, err := m.All()
	if err != nil {
		return nil, err
	}

	record := Package{
		Package:    *pkg,
		ID:         uuid.New().String(),
		ImportDate: time.Now().UnixMilli(),
		Status:     StatusPending,
	}
	all = append(all, record)

	if err := m.store.Save(store.SlotQuarantine, all); err != nil {
		return nil, fmt.Errorf("failed to persist quarantine queue: %w", err)
	}

	m.logger.Info("package quarantined",
		zap.String("id", record.ID),
		zap.Int("knowledge_entries", record.Stats.KnowledgeEntries),
		zap.Int("history_entries", record.Stats.HistoryEntries),
		zap.Int("risky_scripts", record.Stats.RiskyScripts),
	)
	return &record, nil
}

// SetStatus replaces the status of the identified package and persists.
// An unknown id is a silent no-op; the unchanged collection is returned.
func (m *Manager) SetStatus(id string, status Status) ([]Package, error) {
	all, err := m.All()
	if err != nil {
		return nil, err
	}

	changed := false
	for i := range all {
		if all[i].ID == id {
			all[i].Status = status
			changed = true
			break
		}
	}
	if !changed {
		return all, nil
	}

	if err := m.store.Save(store.SlotQuarantine, all); err != nil {
		return nil, fmt.Errorf("failed to persist quarantine queue: %w", err)
	}

	m.logger.Info("quarantine status changed",
		zap.String("id", id),
		zap.String("status", string(status)),
	)
	return all, nil
}
