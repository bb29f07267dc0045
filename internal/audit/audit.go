// Package audit records every governance action and performs
// point-in-time rollback of approved merges.
//
// The log is append-only and stored most-recent-first. Approve entries
// carry a deep snapshot of the knowledge base and repair history taken
// immediately before their merge executed; that snapshot is the entire
// rollback mechanism. Merges are never reversed by re-running them
// backwards.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
	"github.com/fyrsmithlabs/buildmedic/internal/merge"
	"github.com/fyrsmithlabs/buildmedic/internal/quarantine"
	"github.com/fyrsmithlabs/buildmedic/internal/store"
)

// Errors for rollback operations.
var (
	// ErrTargetNotFound means no audit entry has the requested id.
	ErrTargetNotFound = errors.New("rollback target not found")
	// ErrNotRollbackable means the entry exists but is not an approve
	// entry carrying a pre-merge snapshot.
	ErrNotRollbackable = errors.New("audit entry is not rollbackable")
	// ErrAlreadyRolledBack means a rollback entry already points at the
	// target; a merge can only be reversed once.
	ErrAlreadyRolledBack = errors.New("merge already rolled back")
)

// Action names a governance action.
type Action string

const (
	ActionImport   Action = "import"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionRollback Action = "rollback"
)

// Details carries action-specific payload. SnapshotBeforeMerge is set
// only on approve entries; RolledBackFromAuditID only on rollback
// entries.
type Details struct {
	MergeStrategy         merge.Strategy        `json:"mergeStrategy,omitempty"`
	RolledBackFromAuditID string                `json:"rolledBackFromAuditId,omitempty"`
	SnapshotBeforeMerge   *memory.StateSnapshot `json:"snapshotBeforeMerge,omitempty"`
}

// Entry is one immutable audit record.
type Entry struct {
	ID           string           `json:"id"`
	Timestamp    int64            `json:"timestamp"`
	Action       Action           `json:"action"`
	PackageID    string           `json:"packageId"`
	PackageStats memorypack.Stats `json:"packageStats"`
	Details      Details          `json:"details"`
}

// RollbackResult carries every collection a rollback touched, for the
// caller to commit to the store in one transaction.
type RollbackResult struct {
	RestoredKnowledge []memory.KnowledgeBaseEntry
	RestoredHistory   []memory.RepairHistoryEntry
	UpdatedQuarantine []quarantine.Package
	UpdatedAuditLog   []Entry
}

// Manager owns the audit log and rollback computation.
type Manager struct {
	store  store.Store
	logger *zap.Logger
}

// NewManager creates an audit manager backed by the given store.
func NewManager(st store.Store, logger *zap.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, logger: logger}, nil
}

// Log returns the audit log, most recent first. A corrupted slot degrades
// to empty with a warning.
func (m *Manager) Log() ([]Entry, error) {
	var log []Entry
	if err := m.store.Load(store.SlotAudit, &log); err != nil {
		m.logger.Warn("audit log unreadable, starting empty", zap.Error(err))
		log = nil
	}
	return log, nil
}

// Record prepends a new entry for the given action and persists the log.
// Callers must supply Details.SnapshotBeforeMerge for approve actions;
// capturing the snapshot at the right moment is the caller's contract,
// storing it is ours.
func (m *Manager) Record(action Action, packageID string, stats memorypack.Stats, details Details) (*Entry, error) {
	log, err := m.Log()
	if err != nil {
		return nil, err
	}

	entry := Entry{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UnixMilli(),
		Action:       action,
		PackageID:    packageID,
		PackageStats: stats,
		Details:      details,
	}
	log = append([]Entry{entry}, log...)

	if err := m.store.Save(store.SlotAudit, log); err != nil {
		return nil, fmt.Errorf("failed to persist audit log: %w", err)
	}

	m.logger.Info("governance action recorded",
		zap.String("audit_id", entry.ID),
		zap.String("action", string(action)),
		zap.String("package_id", packageID),
	)
	return &entry, nil
}

// IsRolledBack reports whether a rollback entry already points at the
// given approve entry. Derived on read; never stored.
func IsRolledBack(log []Entry, auditID string) bool {
	for _, entry := range log {
		if entry.Action == ActionRollback && entry.Details.RolledBackFromAuditID == auditID {
			return true
		}
	}
	return false
}

// Rollback computes the reversal of an approved merge: the live
// collections restored to the entry's pre-merge snapshot, the quarantined
// package marked rolled-back, and a rollback counter-entry appended. It
// persists nothing; the caller commits all four collections atomically so
// a rollback can never partially apply.
func (m *Manager) Rollback(auditID string) (*RollbackResult, error) {
	log, err := m.Log()
	if err != nil {
		return nil, err
	}

	var target *Entry
	for i := range log {
		if log[i].ID == auditID {
			target = &log[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, auditID)
	}
	if target.Action != ActionApprove || target.Details.SnapshotBeforeMerge == nil {
		return nil, fmt.Errorf("%w: %s is a %q entry", ErrNotRollbackable, auditID, target.Action)
	}
	if IsRolledBack(log, auditID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, auditID)
	}

	snapshot := target.Details.SnapshotBeforeMerge

	// Mark the package rolled-back. A missing or already rolled-back
	// package does not block the restore; the status is idempotent.
	var qpackages []quarantine.Package
	if err := m.store.Load(store.SlotQuarantine, &qpackages); err != nil {
		m.logger.Warn("quarantine collection unreadable during rollback", zap.Error(err))
		qpackages = nil
	}
	for i := range qpackages {
		if qpackages[i].ID == target.PackageID {
			qpackages[i].Status = quarantine.StatusRolledBack
		}
	}

	counter := Entry{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UnixMilli(),
		Action:       ActionRollback,
		PackageID:    target.PackageID,
		PackageStats: target.PackageStats,
		Details:      Details{RolledBackFromAuditID: target.ID},
	}
	updatedLog := append([]Entry{counter}, log...)

	m.logger.Info("rollback computed",
		zap.String("audit_id", counter.ID),
		zap.String("rolled_back_from", target.ID),
		zap.String("package_id", target.PackageID),
	)

	return &RollbackResult{
		RestoredKnowledge: memory.CloneKnowledge(snapshot.Knowledge),
		RestoredHistory:   memory.CloneHistory(snapshot.History),
		UpdatedQuarantine: qpackages,
		UpdatedAuditLog:   updatedLog,
	}, nil
}
