// Package memorypack serializes local state into portable MemoryPackage
// documents and validates incoming ones. The JSON layout is the
// cross-instance exchange format and must not drift: peers on other
// machines parse these files byte-for-byte.
package memorypack

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
)

// SchemaVersion pins the package format. Importers warn on mismatch but
// proceed; quarantine review is the safety net, not the version string.
const SchemaVersion = "1.1.0"

// Errors for package decoding.
var (
	// ErrMalformedPackage means the input is not parseable JSON at all.
	ErrMalformedPackage = errors.New("malformed memory package")
	// ErrInvalidSchema means the JSON parsed but a required top-level
	// field is missing.
	ErrInvalidSchema = errors.New("invalid memory package schema")
)

// Metadata describes when and under which schema a package was exported.
type Metadata struct {
	ExportedAt int64  `json:"exportedAt"`
	Version    string `json:"version"`
}

// Stats are derived counts cached at export time, never recomputed on
// read; reviewers see what the exporter saw.
type Stats struct {
	KnowledgeEntries int `json:"knowledgeEntries"`
	HistoryEntries   int `json:"historyEntries"`
	RiskyScripts     int `json:"riskyScripts"`
}

// Package is an exported snapshot of learned knowledge and repair history.
type Package struct {
	Metadata         Metadata                    `json:"metadata"`
	Stats            Stats                       `json:"stats"`
	LearnedKnowledge []memory.KnowledgeBaseEntry `json:"learnedKnowledge"`
	RepairHistory    []memory.RepairHistoryEntry `json:"repairHistory"`
}

// RiskFunc classifies a script as risky. Kept as a function type so the
// codec does not depend on a concrete classifier.
type RiskFunc func(script string) bool

// Export builds a package from live state. KnowledgeEntries counts
// individual error patterns across every framework, not frameworks.
func Export(kb []memory.KnowledgeBaseEntry, history []memory.RepairHistoryEntry, isRisky RiskFunc) *Package {
	patterns := 0
	for _, entry := range kb {
		patterns += len(entry.Errors)
	}
	risky := 0
	if isRisky != nil {
		for _, entry := range history {
			if isRisky(entry.Script) {
				risky++
			}
		}
	}

	// Empty collections serialize as [] rather than null so the package
	// always carries every required field.
	knowledge := memory.CloneKnowledge(kb)
	if knowledge == nil {
		knowledge = []memory.KnowledgeBaseEntry{}
	}
	repairs := memory.CloneHistory(history)
	if repairs == nil {
		repairs = []memory.RepairHistoryEntry{}
	}

	return &Package{
		Metadata: Metadata{
			ExportedAt: time.Now().UnixMilli(),
			Version:    SchemaVersion,
		},
		Stats: Stats{
			KnowledgeEntries: patterns,
			HistoryEntries:   len(history),
			RiskyScripts:     risky,
		},
		LearnedKnowledge: knowledge,
		RepairHistory:    repairs,
	}
}

// Marshal renders a package in the exchange format.
func (p *Package) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory package: %w", err)
	}
	return data, nil
}

// Parse validates and decodes an incoming package. It performs no merge
// and no mutation. A version mismatch is logged, not rejected.
func Parse(raw []byte, logger *zap.Logger) (*Package, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var doc struct {
		Metadata         *Metadata                    `json:"metadata"`
		Stats            *Stats                       `json:"stats"`
		LearnedKnowledge *[]memory.KnowledgeBaseEntry `json:"learnedKnowledge"`
		RepairHistory    *[]memory.RepairHistoryEntry `json:"repairHistory"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}

	switch {
	case doc.Metadata == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrInvalidSchema, "metadata")
	case doc.Stats == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrInvalidSchema, "stats")
	case doc.LearnedKnowledge == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrInvalidSchema, "learnedKnowledge")
	case doc.RepairHistory == nil:
		return nil, fmt.Errorf("%w: missing field %q", ErrInvalidSchema, "repairHistory")
	}

	if doc.Metadata.Version != SchemaVersion {
		logger.Warn("memory package version mismatch",
			zap.String("package_version", doc.Metadata.Version),
			zap.String("supported_version", SchemaVersion),
		)
	}

	return &Package{
		Metadata:         *doc.Metadata,
		Stats:            *doc.Stats,
		LearnedKnowledge: *doc.LearnedKnowledge,
		RepairHistory:    *doc.RepairHistory,
	}, nil
}
