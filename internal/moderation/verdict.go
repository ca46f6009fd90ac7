// Package moderation evaluates incoming messages before they enter room
// history. A small ensemble of independent scorers is combined by
// priority: crisis signals always win, everything else resolves to the
// highest severity.
package moderation

import (
	"time"
)

type Action string

const (
	ActionNone           Action = "none"
	ActionWarn           Action = "warn"
	ActionMute           Action = "mute"
	ActionBan            Action = "ban"
	ActionEscalateCrisis Action = "escalate_crisis"
)

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Verdict is immutable once emitted; it causes a side effect and is not
// stored as mutable state.
type Verdict struct {
	Action       Action
	Severity     Severity
	Reason       string
	MuteDuration time.Duration
	Resources    []string
}

// Signal is one scorer's opinion of a message.
type Signal struct {
	Scorer     string
	Severity   Severity
	Confidence float64
	Crisis     bool
	Reason     string
}

// Scorer is the pluggable policy interface. Implementations must be
// pure: no I/O, no shared mutable state.
type Scorer interface {
	Score(text string) (Signal, bool)
}
