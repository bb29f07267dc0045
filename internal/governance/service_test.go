package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/audit"
	"github.com/fyrsmithlabs/buildmedic/internal/confidence"
	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
	"github.com/fyrsmithlabs/buildmedic/internal/merge"
	"github.com/fyrsmithlabs/buildmedic/internal/quarantine"
	"github.com/fyrsmithlabs/buildmedic/internal/store"
)

func newService(t *testing.T) (Service, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	svc, err := NewService(nil, st, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, st
}

func packageBytes(t *testing.T, kb []memory.KnowledgeBaseEntry, history []memory.RepairHistoryEntry) []byte {
	t.Helper()
	raw, err := memorypack.Export(kb, history, func(string) bool { return false }).Marshal()
	require.NoError(t, err)
	return raw
}

func seedState(t *testing.T, st *store.MemStore, kb []memory.KnowledgeBaseEntry, history []memory.RepairHistoryEntry) {
	t.Helper()
	require.NoError(t, st.Save(store.SlotKnowledge, kb))
	require.NoError(t, st.Save(store.SlotHistory, history))
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService(nil, nil, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("nil config and logger use defaults", func(t *testing.T) {
		svc, err := NewService(nil, store.NewMemStore(), nil)
		require.NoError(t, err)
		require.NoError(t, svc.Close())
	})

	t.Run("bad extra risk pattern fails", func(t *testing.T) {
		_, err := NewService(&Config{ExtraRiskPatterns: []string{"("}}, store.NewMemStore(), zap.NewNop())
		require.Error(t, err)
	})
}

func TestImportPackage(t *testing.T) {
	ctx := context.Background()

	t.Run("quarantines and audits", func(t *testing.T) {
		svc, _ := newService(t)

		raw := packageBytes(t,
			[]memory.KnowledgeBaseEntry{
				{Framework: "Docker", Errors: []memory.FrameworkError{{Error: "no space left", Solution: "prune images"}}},
			},
			nil,
		)

		qpkg, err := svc.ImportPackage(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, quarantine.StatusPending, qpkg.Status)
		assert.NotEmpty(t, qpkg.ID)

		pending, err := svc.PendingImports(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, qpkg.ID, pending[0].ID)

		// Live state stays untouched.
		kb, err := svc.Knowledge(ctx)
		require.NoError(t, err)
		assert.Empty(t, kb)

		log, err := svc.AuditLog(ctx)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, audit.ActionImport, log[0].Action)
		assert.Equal(t, qpkg.ID, log[0].PackageID)
		assert.Equal(t, 1, log[0].PackageStats.KnowledgeEntries)
	})

	t.Run("malformed bytes never enqueue", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.ImportPackage(ctx, []byte("not json"))
		require.Error(t, err)
		assert.ErrorIs(t, err, memorypack.ErrMalformedPackage)

		pending, err := svc.PendingImports(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		log, err := svc.AuditLog(ctx)
		require.NoError(t, err)
		assert.Empty(t, log)
	})

	t.Run("missing field never enqueues", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.ImportPackage(ctx, []byte(`{"metadata":{},"stats":{},"learnedKnowledge":[]}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, memorypack.ErrInvalidSchema)
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("merges, audits, and marks approved", func(t *testing.T) {
		svc, st := newService(t)

		local := []memory.KnowledgeBaseEntry{
			{Framework: "React", Errors: []memory.FrameworkError{{Error: "hydration mismatch", Solution: "local fix"}}},
		}
		seedState(t, st, local, nil)

		raw := packageBytes(t,
			[]memory.KnowledgeBaseEntry{
				{Framework: "react", Errors: []memory.FrameworkError{
					{Error: "Hydration Mismatch", Solution: "incoming fix"},
					{Error: "invalid hook call", Solution: "check hook rules"},
				}},
			},
			nil,
		)
		qpkg, err := svc.ImportPackage(ctx, raw)
		require.NoError(t, err)

		entry, err := svc.Approve(ctx, qpkg.ID, merge.PreferLocal)
		require.NoError(t, err)
		assert.Equal(t, audit.ActionApprove, entry.Action)
		assert.Equal(t, merge.PreferLocal, entry.Details.MergeStrategy)
		require.NotNil(t, entry.Details.SnapshotBeforeMerge)
		assert.Equal(t, local, entry.Details.SnapshotBeforeMerge.Knowledge)

		kb, err := svc.Knowledge(ctx)
		require.NoError(t, err)
		require.Len(t, kb, 1)
		require.Len(t, kb[0].Errors, 2)
		assert.Equal(t, "local fix", kb[0].Errors[0].Solution)
		assert.Equal(t, "check hook rules", kb[0].Errors[1].Solution)

		pending, err := svc.PendingImports(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("unknown package", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Approve(ctx, "no-such-id", merge.Overwrite)
		assert.ErrorIs(t, err, ErrPackageNotFound)
	})

	t.Run("already decided", func(t *testing.T) {
		svc, _ := newService(t)

		qpkg, err := svc.ImportPackage(ctx, packageBytes(t, nil, nil))
		require.NoError(t, err)
		_, err = svc.Approve(ctx, qpkg.ID, merge.Overwrite)
		require.NoError(t, err)

		_, err = svc.Approve(ctx, qpkg.ID, merge.Overwrite)
		assert.ErrorIs(t, err, ErrPackageNotPending)
	})

	t.Run("invalid strategy", func(t *testing.T) {
		svc, _ := newService(t)

		qpkg, err := svc.ImportPackage(ctx, packageBytes(t, nil, nil))
		require.NoError(t, err)

		_, err = svc.Approve(ctx, qpkg.ID, merge.Strategy("smash"))
		assert.ErrorIs(t, err, ErrInvalidStrategy)
	})

	t.Run("commit failure leaves package pending", func(t *testing.T) {
		svc, st := newService(t)

		qpkg, err := svc.ImportPackage(ctx, packageBytes(t, nil, nil))
		require.NoError(t, err)

		st.FailWrites = true
		_, err = svc.Approve(ctx, qpkg.ID, merge.Overwrite)
		require.Error(t, err)
		st.FailWrites = false

		pending, err := svc.PendingImports(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, quarantine.StatusPending, pending[0].Status)
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	qpkg, err := svc.ImportPackage(ctx, packageBytes(t,
		[]memory.KnowledgeBaseEntry{
			{Framework: "Laravel", Errors: []memory.FrameworkError{{Error: "class not found", Solution: "composer dump-autoload"}}},
		},
		nil,
	))
	require.NoError(t, err)

	require.NoError(t, svc.Reject(ctx, qpkg.ID))

	// Nothing reached the live state.
	kb, err := svc.Knowledge(ctx)
	require.NoError(t, err)
	assert.Empty(t, kb)

	log, err := svc.AuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, audit.ActionReject, log[0].Action)

	err = svc.Reject(ctx, qpkg.ID)
	assert.ErrorIs(t, err, ErrPackageNotPending)
}

func TestRollbackRestoresPreMergeState(t *testing.T) {
	ctx := context.Background()

	localKB := []memory.KnowledgeBaseEntry{
		{Framework: "Node.js", Errors: []memory.FrameworkError{{Error: "EADDRINUSE", Solution: "kill the port"}}},
	}
	localHistory := []memory.RepairHistoryEntry{
		{Timestamp: 5000, Match: "EADDRINUSE", Script: "kill-port 3000", Status: memory.StatusSuccess},
	}

	st := store.NewMemStore()
	seedState(t, st, localKB, localHistory)
	svc, err := NewService(nil, st, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	raw := packageBytes(t,
		[]memory.KnowledgeBaseEntry{
			{Framework: "node.js", Errors: []memory.FrameworkError{{Error: "EADDRINUSE", Solution: "different fix"}}},
			{Framework: "Docker", Errors: []memory.FrameworkError{{Error: "no space", Solution: "prune"}}},
		},
		[]memory.RepairHistoryEntry{
			{Timestamp: 6000, Match: "no space", Script: "docker image prune -f", Status: memory.StatusSuccess},
		},
	)
	qpkg, err := svc.ImportPackage(ctx, raw)
	require.NoError(t, err)

	entry, err := svc.Approve(ctx, qpkg.ID, merge.Overwrite)
	require.NoError(t, err)

	// Merge visibly changed the live state.
	kb, err := svc.Knowledge(ctx)
	require.NoError(t, err)
	require.Len(t, kb, 2)
	assert.Equal(t, "different fix", kb[0].Errors[0].Solution)

	require.NoError(t, svc.Rollback(ctx, entry.ID))

	kb, err = svc.Knowledge(ctx)
	require.NoError(t, err)
	assert.Equal(t, localKB, kb)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, localHistory, history)

	pkgs, err := svc.PendingImports(ctx)
	require.NoError(t, err)
	assert.Empty(t, pkgs)

	log, err := svc.AuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, audit.ActionRollback, log[0].Action)
	assert.Equal(t, entry.ID, log[0].Details.RolledBackFromAuditID)

	// The same merge cannot be reversed twice.
	err = svc.Rollback(ctx, entry.ID)
	assert.ErrorIs(t, err, audit.ErrAlreadyRolledBack)

	err = svc.Rollback(ctx, "no-such-id")
	assert.ErrorIs(t, err, audit.ErrTargetNotFound)
}

func TestExportPackageRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedState(t, st,
		[]memory.KnowledgeBaseEntry{
			{Framework: "npm", Errors: []memory.FrameworkError{{Error: "ERESOLVE", Solution: "npm i --legacy-peer-deps"}}},
		},
		[]memory.RepairHistoryEntry{
			{Timestamp: 100, Match: "ERESOLVE", Script: "sudo npm cache clean", Status: memory.StatusSuccess},
		},
	)
	svc, err := NewService(nil, st, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	raw, err := svc.ExportPackage(ctx)
	require.NoError(t, err)

	pkg, err := memorypack.Parse(raw, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, pkg.Stats.KnowledgeEntries)
	assert.Equal(t, 1, pkg.Stats.HistoryEntries)
	assert.Equal(t, 1, pkg.Stats.RiskyScripts)
	assert.Equal(t, memorypack.SchemaVersion, pkg.Metadata.Version)
}

func TestRecordAnalysis(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	result := memory.AnalysisResult{
		Match:     "Module not found: Can't resolve",
		Solution:  "npm install the missing package",
		Framework: "React",
	}
	require.NoError(t, svc.RecordAnalysis(ctx, result))
	require.NoError(t, svc.RecordAnalysis(ctx, result)) // duplicate is a no-op

	kb, err := svc.Knowledge(ctx)
	require.NoError(t, err)
	require.Len(t, kb, 1)
	assert.Len(t, kb[0].Errors, 1)
}

func TestRepairLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.RecordRepair(ctx, "EADDRINUSE", "kill-port 3000")
	require.NoError(t, err)
	second, err := svc.RecordRepair(ctx, "EADDRINUSE", "kill-port 8080")
	require.NoError(t, err)
	assert.Greater(t, second.Timestamp, first.Timestamp)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Timestamp, history[0].Timestamp)
	assert.Equal(t, memory.StatusPending, history[0].Status)

	require.NoError(t, svc.RepairFeedback(ctx, first.Timestamp, memory.StatusSuccess))
	history, err = svc.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusSuccess, history[1].Status)

	// Reporting the same outcome again resets to unknown.
	require.NoError(t, svc.RepairFeedback(ctx, first.Timestamp, memory.StatusSuccess))
	history, err = svc.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusUnknown, history[1].Status)

	err = svc.RepairFeedback(ctx, 42, memory.StatusFailed)
	assert.ErrorIs(t, err, ErrRepairNotFound)

	require.NoError(t, svc.ClearHistory(ctx))
	history, err = svc.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConfidenceAndSimilarFix(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	seedState(t, st, nil, []memory.RepairHistoryEntry{
		{Timestamp: 1, Match: "connection refused to database", Script: "restart db", Status: memory.StatusSuccess},
		{Timestamp: 2, Match: "connection refused to database", Script: "restart db", Status: memory.StatusSuccess},
		{Timestamp: 3, Match: "connection refused to database", Script: "restart db", Status: memory.StatusFailed},
	})
	svc, err := NewService(nil, st, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	details, err := svc.ConfidenceFor(ctx, "connection refused to database")
	require.NoError(t, err)
	assert.Equal(t, confidence.Medium, details.Level)
	assert.Equal(t, 2, details.SuccessCount)
	assert.Equal(t, 1, details.FailCount)

	candidate, err := svc.SimilarFix(ctx, "database connection refused again")
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, "restart db", candidate.Entry.Script)
	assert.True(t, candidate.Confidence.Level.AtLeast(confidence.Medium))

	candidate, err = svc.SimilarFix(ctx, "completely unrelated words")
	require.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestCorruptedStateDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	st.Corrupt(store.SlotKnowledge)
	st.Corrupt(store.SlotHistory)

	svc, err := NewService(nil, st, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	kb, err := svc.Knowledge(ctx)
	require.NoError(t, err)
	assert.Empty(t, kb)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestClosedService(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close()) // idempotent

	_, err := svc.ImportPackage(ctx, []byte("{}"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.Knowledge(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	err = svc.ClearHistory(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
