package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
)

func pkg(kb []memory.KnowledgeBaseEntry, history []memory.RepairHistoryEntry) *memorypack.Package {
	return &memorypack.Package{
		Metadata:         memorypack.Metadata{ExportedAt: 1, Version: memorypack.SchemaVersion},
		LearnedKnowledge: kb,
		RepairHistory:    history,
	}
}

func TestMergeDisjointIsStrategyIndependent(t *testing.T) {
	local := []memory.KnowledgeBaseEntry{
		{Framework: "React", Errors: []memory.FrameworkError{{Error: "e1", Solution: "s1"}}},
	}
	incoming := pkg(
		[]memory.KnowledgeBaseEntry{
			{Framework: "Docker", Errors: []memory.FrameworkError{{Error: "e2", Solution: "s2"}}},
		},
		nil,
	)

	preferK, preferH := Merge(local, nil, incoming, PreferLocal)
	overwriteK, overwriteH := Merge(local, nil, incoming, Overwrite)

	assert.Equal(t, preferK, overwriteK)
	assert.Equal(t, preferH, overwriteH)
	assert.Len(t, preferK, 2)
}

func TestMergeConflictDivergesByStrategy(t *testing.T) {
	local := []memory.KnowledgeBaseEntry{
		{Framework: "X", Errors: []memory.FrameworkError{{Error: "E", Solution: "A"}}},
	}
	incoming := pkg(
		[]memory.KnowledgeBaseEntry{
			{Framework: "X", Errors: []memory.FrameworkError{{Error: "E", Solution: "B"}}},
		},
		nil,
	)

	preferK, _ := Merge(local, nil, incoming, PreferLocal)
	require.Len(t, preferK, 1)
	require.Len(t, preferK[0].Errors, 1)
	assert.Equal(t, "A", preferK[0].Errors[0].Solution)

	overwriteK, _ := Merge(local, nil, incoming, Overwrite)
	require.Len(t, overwriteK, 1)
	require.Len(t, overwriteK[0].Errors, 1)
	assert.Equal(t, "B", overwriteK[0].Errors[0].Solution)
	// The error key itself is unchanged; only the solution moved.
	assert.Equal(t, "E", overwriteK[0].Errors[0].Error)
}

func TestMergeFrameworkMatchIsCaseInsensitive(t *testing.T) {
	local := []memory.KnowledgeBaseEntry{
		{Framework: "react", Errors: []memory.FrameworkError{{Error: "e1", Solution: "s1"}}},
	}
	incoming := pkg(
		[]memory.KnowledgeBaseEntry{
			{Framework: "React", Errors: []memory.FrameworkError{{Error: "e2", Solution: "s2"}}},
		},
		nil,
	)

	merged, _ := Merge(local, nil, incoming, PreferLocal)
	require.Len(t, merged, 1)
	assert.Len(t, merged[0].Errors, 2)
	// Local spelling of the bucket survives.
	assert.Equal(t, "react", merged[0].Framework)
}

func TestMergeNewErrorsAppendedUnderBothStrategies(t *testing.T) {
	local := []memory.KnowledgeBaseEntry{
		{Framework: "X", Errors: []memory.FrameworkError{{Error: "E1", Solution: "A"}}},
	}
	incoming := pkg(
		[]memory.KnowledgeBaseEntry{
			{Framework: "X", Errors: []memory.FrameworkError{
				{Error: "E1", Solution: "B"},
				{Error: "E2", Solution: "C"},
			}},
		},
		nil,
	)

	for _, strategy := range []Strategy{PreferLocal, Overwrite} {
		merged, _ := Merge(local, nil, incoming, strategy)
		require.Len(t, merged, 1)
		assert.Len(t, merged[0].Errors, 2, "strategy %s", strategy)
	}
}

func TestMergeHistoryDedupAndOrder(t *testing.T) {
	local := []memory.RepairHistoryEntry{
		{Timestamp: 1000, Match: "E1", Script: "local-fix", Status: memory.StatusSuccess},
		{Timestamp: 3000, Match: "E3", Script: "fix3", Status: memory.StatusPending},
	}
	incoming := pkg(nil, []memory.RepairHistoryEntry{
		// Same timestamp as a local entry: local wins.
		{Timestamp: 1000, Match: "E1", Script: "incoming-fix", Status: memory.StatusFailed},
		{Timestamp: 2000, Match: "E2", Script: "fix2", Status: memory.StatusSuccess},
	})

	_, merged := Merge(nil, local, incoming, PreferLocal)
	require.Len(t, merged, 3)

	// Sorted most recent first.
	assert.Equal(t, int64(3000), merged[0].Timestamp)
	assert.Equal(t, int64(2000), merged[1].Timestamp)
	assert.Equal(t, int64(1000), merged[2].Timestamp)

	// The duplicate timestamp kept the local entry.
	assert.Equal(t, "local-fix", merged[2].Script)
	assert.Equal(t, memory.StatusSuccess, merged[2].Status)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	local := []memory.KnowledgeBaseEntry{
		{Framework: "X", Errors: []memory.FrameworkError{{Error: "E", Solution: "A"}}},
	}
	localHistory := []memory.RepairHistoryEntry{
		{Timestamp: 1000, Match: "E", Script: "f", Status: memory.StatusPending},
	}
	incoming := pkg(
		[]memory.KnowledgeBaseEntry{
			{Framework: "X", Errors: []memory.FrameworkError{{Error: "E", Solution: "B"}, {Error: "E2", Solution: "C"}}},
		},
		[]memory.RepairHistoryEntry{{Timestamp: 2000, Match: "E2", Script: "g", Status: memory.StatusSuccess}},
	)

	Merge(local, localHistory, incoming, Overwrite)

	assert.Equal(t, "A", local[0].Errors[0].Solution)
	assert.Len(t, local[0].Errors, 1)
	assert.Len(t, localHistory, 1)
	assert.Len(t, incoming.LearnedKnowledge[0].Errors, 2)
}

func TestMergeIsDeterministic(t *testing.T) {
	local := []memory.KnowledgeBaseEntry{
		{Framework: "A", Errors: []memory.FrameworkError{{Error: "e1", Solution: "s1"}}},
		{Framework: "B", Errors: []memory.FrameworkError{{Error: "e2", Solution: "s2"}}},
	}
	incoming := pkg(
		[]memory.KnowledgeBaseEntry{
			{Framework: "b", Errors: []memory.FrameworkError{{Error: "e2", Solution: "x"}, {Error: "e3", Solution: "y"}}},
			{Framework: "C", Errors: []memory.FrameworkError{{Error: "e4", Solution: "z"}}},
		},
		[]memory.RepairHistoryEntry{
			{Timestamp: 5, Match: "e3", Script: "f", Status: memory.StatusSuccess},
			{Timestamp: 3, Match: "e4", Script: "g", Status: memory.StatusFailed},
		},
	)

	k1, h1 := Merge(local, nil, incoming, Overwrite)
	k2, h2 := Merge(local, nil, incoming, Overwrite)
	assert.Equal(t, k1, k2)
	assert.Equal(t, h1, h2)
}
