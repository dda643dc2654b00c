package domain

import "time"

// LogKind classifies an audit log entry.
type LogKind string

const (
	LogTransition LogKind = "transition"
	LogDecision   LogKind = "decision"
	LogMerge      LogKind = "merge"
	LogSettlement LogKind = "settlement"
	LogOperator   LogKind = "operator"
	LogError      LogKind = "error"
)

// LogEntry is an append-only audit record. Entries are never updated.
type LogEntry struct {
	ID          int64
	PairID      string
	ConditionID string
	Kind        LogKind
	Class       ErrorClass
	From        PairStatus
	To          PairStatus
	Message     string
	Detail      map[string]string
	CreatedAt   time.Time
}

// TransitionEntry builds the audit record of one status change.
func TransitionEntry(p Pair, tr Transition, reason string) LogEntry {
	return LogEntry{
		PairID:      p.ID,
		ConditionID: p.ConditionID,
		Kind:        LogTransition,
		From:        tr.From,
		To:          tr.To,
		Message:     reason,
		CreatedAt:   tr.At,
	}
}

// ErrorEntry builds the audit record of a failed action on a pair.
func ErrorEntry(p Pair, err error, message string, now time.Time) LogEntry {
	return LogEntry{
		PairID:      p.ID,
		ConditionID: p.ConditionID,
		Kind:        LogError,
		Class:       Classify(err),
		From:        p.Status,
		To:          p.Status,
		Message:     message,
		Detail:      map[string]string{"error": err.Error()},
		CreatedAt:   now,
	}
}

// LogFilter selects audit entries. Zero fields match everything.
type LogFilter struct {
	PairID string
	Kind   LogKind
	Limit  int
	Offset int
}
