package memory

import (
	"strings"
	"sync"
	"time"
)

// NormalizeFramework reduces a framework name to its lookup bucket:
// lowercased, trimmed, and cut at the first "/" so that "Node.js" and
// "Node.js / NPM" land in the same bucket.
func NormalizeFramework(name string) string {
	head, _, _ := strings.Cut(name, "/")
	return strings.ToLower(strings.TrimSpace(head))
}

// IsKnownError reports whether an analysis result is already present in
// the knowledge base. The framework comparison uses NormalizeFramework;
// the error comparison is case-insensitive equality.
func IsKnownError(result AnalysisResult, kb []KnowledgeBaseEntry) bool {
	want := NormalizeFramework(result.Framework)
	for _, entry := range kb {
		if NormalizeFramework(entry.Framework) != want {
			continue
		}
		for _, known := range entry.Errors {
			if strings.EqualFold(known.Error, result.Match) {
				return true
			}
		}
		return false
	}
	return false
}

// AddResult folds an accepted analysis result into the knowledge base and
// returns the updated collection. Bucket identity here is case-insensitive
// equality on the full framework name, matching merge semantics rather
// than lookup semantics. Duplicate error text (case-insensitive) within
// the bucket is ignored. The input is not mutated.
func AddResult(kb []KnowledgeBaseEntry, result AnalysisResult) []KnowledgeBaseEntry {
	out := CloneKnowledge(kb)

	for i := range out {
		if !strings.EqualFold(out[i].Framework, result.Framework) {
			continue
		}
		for _, known := range out[i].Errors {
			if strings.EqualFold(known.Error, result.Match) {
				return out
			}
		}
		out[i].Errors = append(out[i].Errors, FrameworkError{
			Error:    result.Match,
			Solution: result.Solution,
		})
		return out
	}

	return append(out, KnowledgeBaseEntry{
		Framework: result.Framework,
		Errors:    []FrameworkError{{Error: result.Match, Solution: result.Solution}},
	})
}

// SetRepairStatus applies user feedback to the history entry identified by
// timestamp and returns the updated collection. Setting the entry's
// current status again toggles it back to StatusUnknown. The second return
// is false when no entry matched; the collection is returned unchanged.
func SetRepairStatus(history []RepairHistoryEntry, timestamp int64, status RepairStatus) ([]RepairHistoryEntry, bool) {
	out := CloneHistory(history)
	for i := range out {
		if out[i].Timestamp != timestamp {
			continue
		}
		if out[i].Status == status {
			out[i].Status = StatusUnknown
		} else {
			out[i].Status = status
		}
		return out, true
	}
	return out, false
}

// CloneKnowledge returns a deep copy sharing no slices with the input.
func CloneKnowledge(kb []KnowledgeBaseEntry) []KnowledgeBaseEntry {
	out := make([]KnowledgeBaseEntry, len(kb))
	for i, entry := range kb {
		out[i] = KnowledgeBaseEntry{
			Framework: entry.Framework,
			Errors:    append([]FrameworkError(nil), entry.Errors...),
		}
	}
	return out
}

// CloneHistory returns a copy of the repair history.
func CloneHistory(history []RepairHistoryEntry) []RepairHistoryEntry {
	return append([]RepairHistoryEntry(nil), history...)
}

// Snapshot captures a deep copy of the live collections.
func Snapshot(kb []KnowledgeBaseEntry, history []RepairHistoryEntry) *StateSnapshot {
	return &StateSnapshot{
		Knowledge: CloneKnowledge(kb),
		History:   CloneHistory(history),
	}
}

// Clock issues strictly increasing millisecond timestamps so that repair
// history identities never collide, even when entries are created within
// the same millisecond.
type Clock struct {
	mu   sync.Mutex
	last int64
}

// NowUnixMilli returns the current time in milliseconds, bumped past the
// previously issued value if the wall clock has not advanced.
func (c *Clock) NowUnixMilli() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}
