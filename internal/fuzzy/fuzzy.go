// Package fuzzy computes token-set similarity between error descriptions,
// used to surface "similar but not identical" historical fixes.
package fuzzy

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/buildmedic/internal/confidence"
	"github.com/fyrsmithlabs/buildmedic/internal/memory"
)

// DefaultThreshold is the minimum similarity at which a historical fix is
// considered related to a new error.
const DefaultThreshold = 0.6

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Similarity returns the Jaccard index of the two strings' token sets in
// [0, 1]. Tokens are lowercased runs of alphanumerics. Two empty token
// sets are vacuously identical (1.0); exactly one empty set yields 0.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range nonAlnum.Split(strings.ToLower(s), -1) {
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

// Candidate is a historical repair related to a new error pattern.
type Candidate struct {
	Entry      memory.RepairHistoryEntry
	Similarity float64
	Confidence confidence.Details
}

// BestCandidate returns the highest-similarity history entry whose match
// pattern scores at or above threshold and whose own confidence is at
// least medium. Returns nil when nothing qualifies.
func BestCandidate(match string, history []memory.RepairHistoryEntry, threshold float64) *Candidate {
	var best *Candidate
	seen := make(map[string]bool)

	for _, entry := range history {
		key := strings.ToLower(entry.Match)
		if seen[key] {
			continue
		}
		seen[key] = true

		score := Similarity(match, entry.Match)
		if score < threshold {
			continue
		}
		details := confidence.For(entry.Match, history)
		if details.Level == confidence.Low {
			continue
		}
		if best == nil || score > best.Similarity {
			best = &Candidate{Entry: entry, Similarity: score, Confidence: details}
		}
	}
	return best
}
