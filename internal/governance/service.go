package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/audit"
	"github.com/fyrsmithlabs/buildmedic/internal/confidence"
	"github.com/fyrsmithlabs/buildmedic/internal/fuzzy"
	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
	"github.com/fyrsmithlabs/buildmedic/internal/merge"
	"github.com/fyrsmithlabs/buildmedic/internal/quarantine"
	"github.com/fyrsmithlabs/buildmedic/internal/risk"
	"github.com/fyrsmithlabs/buildmedic/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/buildmedic/internal/governance"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("governance service is closed")

	// ErrPackageNotFound is returned when no quarantined package carries
	// the requested id.
	ErrPackageNotFound = errors.New("quarantined package not found")

	// ErrPackageNotPending is returned when an approve or reject targets a
	// package that has already been decided.
	ErrPackageNotPending = errors.New("quarantined package is not pending")

	// ErrInvalidStrategy is returned when an approve names an unknown
	// merge strategy.
	ErrInvalidStrategy = errors.New("unknown merge strategy")

	// ErrRepairNotFound is returned when repair feedback targets a
	// timestamp with no matching history entry.
	ErrRepairNotFound = errors.New("repair history entry not found")
)

// Service owns the governed knowledge state: the live knowledge base and
// repair history, the quarantine queue, and the audit log. Every mutation
// goes through here so that quarantine, audit, and store writes stay paired.
type Service interface {
	// ImportPackage parses a memory package and places it in quarantine.
	// Nothing touches the live collections until the package is approved.
	ImportPackage(ctx context.Context, raw []byte) (*quarantine.Package, error)

	// Approve merges a pending package into the live collections using the
	// given strategy, and records an audit entry carrying the pre-merge
	// snapshot so the merge can be rolled back.
	Approve(ctx context.Context, packageID string, strategy merge.Strategy) (*audit.Entry, error)

	// Reject marks a pending package rejected without touching live state.
	Reject(ctx context.Context, packageID string) error

	// Rollback reverses a previously approved merge, restoring the live
	// collections to their pre-merge snapshot.
	Rollback(ctx context.Context, auditID string) error

	// ExportPackage serializes the live collections as a memory package.
	ExportPackage(ctx context.Context) ([]byte, error)

	// RecordAnalysis adds an analyzer result to the knowledge base.
	RecordAnalysis(ctx context.Context, result memory.AnalysisResult) error

	// RecordRepair appends a pending repair history entry for an applied
	// fix script.
	RecordRepair(ctx context.Context, match, script string) (*memory.RepairHistoryEntry, error)

	// RepairFeedback sets the outcome of a recorded repair. Reporting the
	// same outcome twice resets the entry to unknown.
	RepairFeedback(ctx context.Context, timestamp int64, status memory.RepairStatus) error

	// ClearHistory wipes the repair history wholesale.
	ClearHistory(ctx context.Context) error

	// Knowledge returns the live knowledge base.
	Knowledge(ctx context.Context) ([]memory.KnowledgeBaseEntry, error)

	// History returns the live repair history, most recent first.
	History(ctx context.Context) ([]memory.RepairHistoryEntry, error)

	// AuditLog returns the audit log, most recent first.
	AuditLog(ctx context.Context) ([]audit.Entry, error)

	// PendingImports returns quarantined packages awaiting review.
	PendingImports(ctx context.Context) ([]quarantine.Package, error)

	// ConfidenceFor evaluates repair confidence for an error match.
	ConfidenceFor(ctx context.Context, match string) (confidence.Details, error)

	// SimilarFix returns the closest trusted historical fix for an error
	// match, or nil when nothing clears the similarity threshold.
	SimilarFix(ctx context.Context, match string) (*fuzzy.Candidate, error)

	// Close closes the service.
	Close() error
}

// Config configures the governance service.
type Config struct {
	// FuzzyThreshold is the minimum similarity for SimilarFix candidates
	// (default: 0.6).
	FuzzyThreshold float64

	// ExtraRiskPatterns are additional regexp patterns treated as risky
	// when counting package stats.
	ExtraRiskPatterns []string
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		FuzzyThreshold: fuzzy.DefaultThreshold,
	}
}

// service implements the Service interface.
type service struct {
	config     *Config
	store      store.Store
	logger     *zap.Logger
	classifier *risk.Classifier
	quarantine *quarantine.Manager
	audit      *audit.Manager
	clock      memory.Clock

	// Telemetry
	tracer          trace.Tracer
	meter           metric.Meter
	importCounter   metric.Int64Counter
	decisionCounter metric.Int64Counter
	rollbackCounter metric.Int64Counter
	analysisCounter metric.Int64Counter

	mu     sync.Mutex
	closed bool
}

// NewService creates a new governance service.
func NewService(cfg *Config, st store.Store, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.FuzzyThreshold == 0 {
		cfg.FuzzyThreshold = fuzzy.DefaultThreshold
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	classifier, err := risk.NewClassifier(cfg.ExtraRiskPatterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to build risk classifier: %w", err)
	}

	qm, err := quarantine.NewManager(st, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build quarantine manager: %w", err)
	}

	am, err := audit.NewManager(st, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit manager: %w", err)
	}

	s := &service{
		config:     cfg,
		store:      st,
		logger:     logger,
		classifier: classifier,
		quarantine: qm,
		audit:      am,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.importCounter, err = s.meter.Int64Counter(
		"buildmedic.governance.imports_total",
		metric.WithDescription("Total number of memory packages imported into quarantine"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		s.logger.Warn("failed to create import counter", zap.Error(err))
	}

	s.decisionCounter, err = s.meter.Int64Counter(
		"buildmedic.governance.decisions_total",
		metric.WithDescription("Total number of quarantine approve/reject decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		s.logger.Warn("failed to create decision counter", zap.Error(err))
	}

	s.rollbackCounter, err = s.meter.Int64Counter(
		"buildmedic.governance.rollbacks_total",
		metric.WithDescription("Total number of merge rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create rollback counter", zap.Error(err))
	}

	s.analysisCounter, err = s.meter.Int64Counter(
		"buildmedic.governance.analysis_results_total",
		metric.WithDescription("Total number of analyzer results recorded"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		s.logger.Warn("failed to create analysis counter", zap.Error(err))
	}
}

// checkClosed reports ErrClosed after Close. Callers must hold s.mu.
func (s *service) checkClosed() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// loadKnowledge reads the live knowledge base, degrading to an empty
// collection on read or corruption failures.
func (s *service) loadKnowledge() []memory.KnowledgeBaseEntry {
	var kb []memory.KnowledgeBaseEntry
	if err := s.store.Load(store.SlotKnowledge, &kb); err != nil {
		s.logger.Warn("knowledge base unreadable, starting empty", zap.Error(err))
		return nil
	}
	return kb
}

// loadHistory reads the live repair history, degrading to an empty
// collection on read or corruption failures.
func (s *service) loadHistory() []memory.RepairHistoryEntry {
	var history []memory.RepairHistoryEntry
	if err := s.store.Load(store.SlotHistory, &history); err != nil {
		s.logger.Warn("repair history unreadable, starting empty", zap.Error(err))
		return nil
	}
	return history
}

// ImportPackage parses raw package bytes and enqueues them for review.
func (s *service) ImportPackage(ctx context.Context, raw []byte) (*quarantine.Package, error) {
	ctx, span := s.tracer.Start(ctx, "governance.import_package")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	pkg, err := memorypack.Parse(raw, s.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	qpkg, err := s.quarantine.Enqueue(pkg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to quarantine package: %w", err)
	}

	if _, err := s.audit.Record(audit.ActionImport, qpkg.ID, pkg.Stats, audit.Details{}); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record import: %w", err)
	}

	span.SetAttributes(
		attribute.String("package_id", qpkg.ID),
		attribute.Int("knowledge_entries", pkg.Stats.KnowledgeEntries),
		attribute.Int("history_entries", pkg.Stats.HistoryEntries),
		attribute.Int("risky_scripts", pkg.Stats.RiskyScripts),
	)
	s.importCounter.Add(ctx, 1)

	s.logger.Info("memory package quarantined",
		zap.String("package_id", qpkg.ID),
		zap.Int("knowledge_entries", pkg.Stats.KnowledgeEntries),
		zap.Int("history_entries", pkg.Stats.HistoryEntries),
		zap.Int("risky_scripts", pkg.Stats.RiskyScripts),
	)

	return qpkg, nil
}

// pendingPackage finds a quarantined package and verifies it is still
// awaiting review.
func (s *service) pendingPackage(packageID string) (*quarantine.Package, error) {
	pkg, found, err := s.quarantine.Get(packageID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, packageID)
	}
	if pkg.Status != quarantine.StatusPending {
		return nil, fmt.Errorf("%w: %s is %q", ErrPackageNotPending, packageID, pkg.Status)
	}
	return pkg, nil
}

// Approve merges a pending package into the live collections.
func (s *service) Approve(ctx context.Context, packageID string, strategy merge.Strategy) (*audit.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "governance.approve")
	defer span.End()

	span.SetAttributes(
		attribute.String("package_id", packageID),
		attribute.String("strategy", string(strategy)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	pkg, err := s.pendingPackage(packageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	kb := s.loadKnowledge()
	history := s.loadHistory()
	snapshot := memory.Snapshot(kb, history)

	mergedKB, mergedHistory := merge.Merge(kb, history, &pkg.Package, strategy)

	// Both collections land together or not at all.
	if err := s.store.Commit(map[store.Slot]any{
		store.SlotKnowledge: mergedKB,
		store.SlotHistory:   mergedHistory,
	}); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	if _, err := s.quarantine.SetStatus(packageID, quarantine.StatusApproved); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to mark package approved: %w", err)
	}

	entry, err := s.audit.Record(audit.ActionApprove, packageID, pkg.Stats, audit.Details{
		MergeStrategy:       strategy,
		SnapshotBeforeMerge: snapshot,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}

	s.decisionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", "approve")))

	s.logger.Info("memory package merged",
		zap.String("package_id", packageID),
		zap.String("strategy", string(strategy)),
		zap.String("audit_id", entry.ID),
	)

	return entry, nil
}

// Reject marks a pending package rejected.
func (s *service) Reject(ctx context.Context, packageID string) error {
	ctx, span := s.tracer.Start(ctx, "governance.reject")
	defer span.End()

	span.SetAttributes(attribute.String("package_id", packageID))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return err
	}

	pkg, err := s.pendingPackage(packageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if _, err := s.quarantine.SetStatus(packageID, quarantine.StatusRejected); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark package rejected: %w", err)
	}

	if _, err := s.audit.Record(audit.ActionReject, packageID, pkg.Stats, audit.Details{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record rejection: %w", err)
	}

	s.decisionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", "reject")))

	s.logger.Info("memory package rejected", zap.String("package_id", packageID))

	return nil
}

// Rollback reverses an approved merge and commits every affected
// collection in one store transaction.
func (s *service) Rollback(ctx context.Context, auditID string) error {
	ctx, span := s.tracer.Start(ctx, "governance.rollback")
	defer span.End()

	span.SetAttributes(attribute.String("audit_id", auditID))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return err
	}

	result, err := s.audit.Rollback(auditID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.store.Commit(map[store.Slot]any{
		store.SlotKnowledge:  result.RestoredKnowledge,
		store.SlotHistory:    result.RestoredHistory,
		store.SlotQuarantine: result.UpdatedQuarantine,
		store.SlotAudit:      result.UpdatedAuditLog,
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	s.rollbackCounter.Add(ctx, 1)

	s.logger.Info("merge rolled back", zap.String("audit_id", auditID))

	return nil
}

// ExportPackage serializes the live collections.
func (s *service) ExportPackage(ctx context.Context) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "governance.export_package")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	pkg := memorypack.Export(s.loadKnowledge(), s.loadHistory(), s.classifier.IsRisky)

	raw, err := pkg.Marshal()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("knowledge_entries", pkg.Stats.KnowledgeEntries),
		attribute.Int("history_entries", pkg.Stats.HistoryEntries),
	)

	return raw, nil
}

// RecordAnalysis adds an analyzer result to the knowledge base. A result
// whose error pattern is already known for the framework is a no-op.
func (s *service) RecordAnalysis(ctx context.Context, result memory.AnalysisResult) error {
	ctx, span := s.tracer.Start(ctx, "governance.record_analysis")
	defer span.End()

	span.SetAttributes(attribute.String("framework", result.Framework))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return err
	}

	kb := memory.AddResult(s.loadKnowledge(), result)
	if err := s.store.Save(store.SlotKnowledge, kb); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to persist knowledge base: %w", err)
	}

	s.analysisCounter.Add(ctx, 1)

	return nil
}

// RecordRepair appends a pending history entry for an applied script.
func (s *service) RecordRepair(ctx context.Context, match, script string) (*memory.RepairHistoryEntry, error) {
	_, span := s.tracer.Start(ctx, "governance.record_repair")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	entry := memory.RepairHistoryEntry{
		Timestamp: s.clock.NowUnixMilli(),
		Match:     match,
		Script:    script,
		Status:    memory.StatusPending,
	}

	history := append([]memory.RepairHistoryEntry{entry}, s.loadHistory()...)
	if err := s.store.Save(store.SlotHistory, history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to persist repair history: %w", err)
	}

	span.SetAttributes(attribute.Int64("timestamp", entry.Timestamp))

	return &entry, nil
}

// RepairFeedback sets the outcome of a recorded repair.
func (s *service) RepairFeedback(ctx context.Context, timestamp int64, status memory.RepairStatus) error {
	_, span := s.tracer.Start(ctx, "governance.repair_feedback")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("timestamp", timestamp),
		attribute.String("status", string(status)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return err
	}

	history, found := memory.SetRepairStatus(s.loadHistory(), timestamp, status)
	if !found {
		err := fmt.Errorf("%w: timestamp %d", ErrRepairNotFound, timestamp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.store.Save(store.SlotHistory, history); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to persist repair history: %w", err)
	}

	return nil
}

// ClearHistory wipes the repair history.
func (s *service) ClearHistory(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "governance.clear_history")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return err
	}

	if err := s.store.Save(store.SlotHistory, []memory.RepairHistoryEntry{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear repair history: %w", err)
	}

	s.logger.Info("repair history cleared")

	return nil
}

// Knowledge returns the live knowledge base.
func (s *service) Knowledge(ctx context.Context) ([]memory.KnowledgeBaseEntry, error) {
	_, span := s.tracer.Start(ctx, "governance.knowledge")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	return s.loadKnowledge(), nil
}

// History returns the live repair history.
func (s *service) History(ctx context.Context) ([]memory.RepairHistoryEntry, error) {
	_, span := s.tracer.Start(ctx, "governance.history")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	return s.loadHistory(), nil
}

// AuditLog returns the audit log.
func (s *service) AuditLog(ctx context.Context) ([]audit.Entry, error) {
	_, span := s.tracer.Start(ctx, "governance.audit_log")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	return s.audit.Log()
}

// PendingImports returns quarantined packages awaiting review.
func (s *service) PendingImports(ctx context.Context) ([]quarantine.Package, error) {
	_, span := s.tracer.Start(ctx, "governance.pending_imports")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	return s.quarantine.Pending()
}

// ConfidenceFor evaluates repair confidence for an error match.
func (s *service) ConfidenceFor(ctx context.Context, match string) (confidence.Details, error) {
	_, span := s.tracer.Start(ctx, "governance.confidence_for")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return confidence.Details{}, err
	}

	return confidence.For(match, s.loadHistory()), nil
}

// SimilarFix returns the closest trusted historical fix for an error match.
func (s *service) SimilarFix(ctx context.Context, match string) (*fuzzy.Candidate, error) {
	_, span := s.tracer.Start(ctx, "governance.similar_fix")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	return fuzzy.BestCandidate(match, s.loadHistory(), s.config.FuzzyThreshold), nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("governance service closed")
	return nil
}
