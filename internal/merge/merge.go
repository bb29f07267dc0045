// Package merge folds an approved incoming memory package into local
// state under an explicit conflict-resolution strategy.
//
// Merge is a pure function: inputs are never mutated and the output is
// fully determined by the arguments.
package merge

import (
	"sort"
	"strings"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
	"github.com/fyrsmithlabs/buildmedic/internal/memorypack"
)

// Strategy resolves conflicting entries during a merge.
type Strategy string

const (
	// PreferLocal keeps existing local data when a conflict is found;
	// new data is still added.
	PreferLocal Strategy = "prefer-local"
	// Overwrite replaces local solutions with incoming ones on conflict.
	Overwrite Strategy = "overwrite"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == PreferLocal || s == Overwrite
}

// Merge combines local state with an incoming package.
//
// Knowledge: incoming framework entries match local buckets by
// case-insensitive equality on the full framework name. Unmatched
// frameworks are appended wholesale. Within a matched bucket, incoming
// errors that are new (case-insensitive on error text) are appended;
// conflicting errors keep the local solution under PreferLocal and take
// the incoming solution under Overwrite.
//
// History: local entries then incoming entries, deduplicated by timestamp
// with the first occurrence winning (so local wins ties), sorted most
// recent first.
func Merge(
	localKnowledge []memory.KnowledgeBaseEntry,
	localHistory []memory.RepairHistoryEntry,
	incoming *memorypack.Package,
	strategy Strategy,
) ([]memory.KnowledgeBaseEntry, []memory.RepairHistoryEntry) {
	mergedKnowledge := mergeKnowledge(localKnowledge, incoming.LearnedKnowledge, strategy)
	mergedHistory := mergeHistory(localHistory, incoming.RepairHistory)
	return mergedKnowledge, mergedHistory
}

func mergeKnowledge(local, incoming []memory.KnowledgeBaseEntry, strategy Strategy) []memory.KnowledgeBaseEntry {
	merged := memory.CloneKnowledge(local)

	for _, in := range incoming {
		idx := -1
		for i := range merged {
			if strings.EqualFold(merged[i].Framework, in.Framework) {
				idx = i
				break
			}
		}

		if idx < 0 {
			merged = append(merged, memory.KnowledgeBaseEntry{
				Framework: in.Framework,
				Errors:    append([]memory.FrameworkError(nil), in.Errors...),
			})
			continue
		}

		for _, inErr := range in.Errors {
			conflict := -1
			for i, localErr := range merged[idx].Errors {
				if strings.EqualFold(localErr.Error, inErr.Error) {
					conflict = i
					break
				}
			}

			switch {
			case conflict < 0:
				merged[idx].Errors = append(merged[idx].Errors, inErr)
			case strategy == Overwrite:
				// The error key already matched; only the solution moves.
				merged[idx].Errors[conflict].Solution = inErr.Solution
			}
		}
	}

	return merged
}

func mergeHistory(local, incoming []memory.RepairHistoryEntry) []memory.RepairHistoryEntry {
	seen := make(map[int64]bool, len(local)+len(incoming))
	merged := make([]memory.RepairHistoryEntry, 0, len(local)+len(incoming))

	for _, entry := range local {
		if !seen[entry.Timestamp] {
			seen[entry.Timestamp] = true
			merged = append(merged, entry)
		}
	}
	for _, entry := range incoming {
		if !seen[entry.Timestamp] {
			seen[entry.Timestamp] = true
			merged = append(merged, entry)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	return merged
}
