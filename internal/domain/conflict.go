package domain

import "time"

type ConflictType string

const (
	ConflictTypeTimeOverlap      ConflictType = "time_overlap"
	ConflictTypeBufferViolation  ConflictType = "buffer_violation"
	ConflictTypeTravelInfeasible ConflictType = "travel_infeasible"
)

type ConflictSeverity string

const (
	ConflictSeverityLow    ConflictSeverity = "low"
	ConflictSeverityMedium ConflictSeverity = "medium"
	ConflictSeverityHigh   ConflictSeverity = "high"
)

type ConflictState string

const (
	ConflictStateDetected  ConflictState = "detected"
	ConflictStateSuggested ConflictState = "suggested"
	ConflictStateResolved  ConflictState = "resolved"
	ConflictStateDismissed ConflictState = "dismissed"
)

// BufferEdge tags which side of a buffer window a violation touched.
type BufferEdge string

const (
	BufferEdgeBefore BufferEdge = "before"
	BufferEdgeAfter  BufferEdge = "after"
)

// Suggestion is one proposed resolution for a conflict, ranked by Score.
type Suggestion struct {
	Start  time.Time
	End    time.Time
	Score  float64
	Reason string
}

// Conflict is a detected collision between two scheduled items.
// SubjectID is the item being evaluated, OtherID the item it collides
// with. OverlapMinutes drives severity.
type Conflict struct {
	Type           ConflictType
	Severity       ConflictSeverity
	State          ConflictState
	SubjectID      string
	OtherID        string
	OwnerID        string
	OverlapMinutes int
	BufferEdge     BufferEdge
	Suggestions    []Suggestion
	DetectedAt     time.Time
}

// SeverityForOverlap maps overlap minutes to a severity band.
func SeverityForOverlap(minutes int) ConflictSeverity {
	switch {
	case minutes <= 5:
		return ConflictSeverityLow
	case minutes <= 15:
		return ConflictSeverityMedium
	default:
		return ConflictSeverityHigh
	}
}
