package quarantine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
	"github.com/fyrsmithlabs/buildmedic/internal/store"
)

func samplePackage() *memorypack.Package {
	return memorypack.Export(
		[]memory.KnowledgeBaseEntry{{Framework: "React", Errors: []memory.FrameworkError{{Error: "e1", Solution: "s1"}}}},
		[]memory.RepairHistoryEntry{{Timestamp: 1000, Match: "e1", Script: "fix", Status: memory.StatusSuccess}},
		nil,
	)
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := NewManager(nil, zap.NewNop())
	require.Error(t, err)
}

func TestEnqueue(t *testing.T) {
	st := store.NewMemStore()
	m, err := NewManager(st, zap.NewNop())
	require.NoError(t, err)

	record, err := m.Enqueue(samplePackage())
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Greater(t, record.ImportDate, int64(0))
	assert.Equal(t, StatusPending, record.Status)

	// Persisted and distinct ids per import.
	second, err := m.Enqueue(samplePackage())
	require.NoError(t, err)
	assert.NotEqual(t, record.ID, second.ID)

	all, err := m.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEnqueueFailsWhenStoreFails(t *testing.T) {
	st := store.NewMemStore()
	st.FailWrites = true
	m, err := NewManager(st, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Enqueue(samplePackage())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrWrite)
}

func TestSetStatus(t *testing.T) {
	st := store.NewMemStore()
	m, err := NewManager(st, zap.NewNop())
	require.NoError(t, err)

	record, err := m.Enqueue(samplePackage())
	require.NoError(t, err)

	t.Run("updates matching package", func(t *testing.T) {
		all, err := m.SetStatus(record.ID, StatusApproved)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, StatusApproved, all[0].Status)

		got, found, err := m.Get(record.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, StatusApproved, got.Status)
	})

	t.Run("unknown id is a silent no-op", func(t *testing.T) {
		all, err := m.SetStatus("no-such-id", StatusRejected)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, StatusApproved, all[0].Status)
	})
}

func TestPending(t *testing.T) {
	st := store.NewMemStore()
	m, err := NewManager(st, zap.NewNop())
	require.NoError(t, err)

	a, err := m.Enqueue(samplePackage())
	require.NoError(t, err)
	b, err := m.Enqueue(samplePackage())
	require.NoError(t, err)

	_, err = m.SetStatus(a.ID, StatusRejected)
	require.NoError(t, err)

	pending, err := m.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestAllDegradesOnCorruptedSlot(t *testing.T) {
	st := store.NewMemStore()
	m, err := NewManager(st, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Enqueue(samplePackage())
	require.NoError(t, err)

	st.Corrupt(store.SlotQuarantine)

	all, err := m.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}
