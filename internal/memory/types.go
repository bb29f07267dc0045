package memory

// RepairStatus is the recorded outcome of a generated repair script.
type RepairStatus string

const (
	// StatusSuccess marks a script confirmed to have fixed the error.
	StatusSuccess RepairStatus = "success"
	// StatusFailed marks a script confirmed not to have fixed the error.
	StatusFailed RepairStatus = "failed"
	// StatusPending marks a script that has been generated but not yet tried.
	StatusPending RepairStatus = "pending"
	// StatusUnknown is the neutral state after feedback is retracted.
	StatusUnknown RepairStatus = "unknown"
)

// FrameworkError is a single known error pattern and its solution.
type FrameworkError struct {
	Error    string `json:"error"`
	Solution string `json:"solution"`
}

// KnowledgeBaseEntry groups known errors under a framework name.
// Error text is unique case-insensitively within one entry.
type KnowledgeBaseEntry struct {
	Framework string           `json:"framework"`
	Errors    []FrameworkError `json:"errors"`
}

// RepairHistoryEntry records one generated fix script. The timestamp
// (milliseconds since epoch) is the entry's identity and must be unique
// across the collection; use Clock to obtain collision-free values.
type RepairHistoryEntry struct {
	Timestamp int64        `json:"timestamp"`
	Match     string       `json:"match"`
	Script    string       `json:"script"`
	Status    RepairStatus `json:"status"`
}

// AnalysisResult is one record produced by the log analyzer boundary.
type AnalysisResult struct {
	Match     string `json:"match"`
	Solution  string `json:"solution"`
	Framework string `json:"framework"`
}

// StateSnapshot is a deep, independent copy of the live collections,
// embedded in approve audit entries so a merge can be reversed later.
type StateSnapshot struct {
	Knowledge []KnowledgeBaseEntry `json:"knowledge"`
	History   []RepairHistoryEntry `json:"history"`
}
