// Package confidence derives a qualitative trust signal for an error
// pattern from repair-history statistics.
package confidence

import (
	"strings"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
)

// Level is an ordered trust signal: Low < Medium < High.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// rank orders levels for monotonicity comparisons.
func (l Level) rank() int {
	switch l {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is at least as trusted as other.
func (l Level) AtLeast(other Level) bool {
	return l.rank() >= other.rank()
}

// Details carries the level together with the statistics behind it.
type Details struct {
	Level        Level `json:"level"`
	SuccessCount int   `json:"successCount"`
	FailCount    int   `json:"failCount"`
	Total        int   `json:"total"`
}

// For computes confidence for an error pattern. History entries are
// matched case-insensitively on their match text; pending/unknown entries
// exist but carry no evidence, so they are excluded from the ratio.
// High requires at least 3 successes at a 70% success rate; any success
// short of that is Medium; no evidence is Low.
func For(match string, history []memory.RepairHistoryEntry) Details {
	var d Details
	for _, entry := range history {
		if !strings.EqualFold(entry.Match, match) {
			continue
		}
		switch entry.Status {
		case memory.StatusSuccess:
			d.SuccessCount++
		case memory.StatusFailed:
			d.FailCount++
		}
	}
	d.Total = d.SuccessCount + d.FailCount

	d.Level = Low
	if d.Total > 0 {
		ratio := float64(d.SuccessCount) / float64(d.Total)
		switch {
		case d.SuccessCount >= 3 && ratio >= 0.7:
			d.Level = High
		case d.SuccessCount > 0:
			d.Level = Medium
		}
	}
	return d
}
