// Package trigger decides when the AI participant should speak. Triggers
// are a closed set of tagged values so the orchestrator can match on them
// exhaustively instead of dispatching on strings.
package trigger

import (
	"time"
)

// Kind enumerates every reason the AI may be asked to respond.
type Kind int

const (
	KindDirectMention Kind = iota
	KindUserConfusion
	KindSilenceThreshold
	KindConflictDetected
	KindGroupSilence
	KindNewUserJoined
	KindTopicExhausted
)

func (k Kind) String() string {
	switch k {
	case KindDirectMention:
		return "direct_mention"
	case KindUserConfusion:
		return "user_confusion"
	case KindSilenceThreshold:
		return "silence_threshold"
	case KindConflictDetected:
		return "conflict_detected"
	case KindGroupSilence:
		return "group_silence"
	case KindNewUserJoined:
		return "new_user_joined"
	case KindTopicExhausted:
		return "topic_exhausted"
	default:
		return "unknown"
	}
}

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Trigger is ephemeral: consumed exactly once by the orchestrator or
// dropped when superseded or stale.
type Trigger struct {
	Kind       Kind
	Priority   Priority
	RoomId     string
	TargetUser string
	TargetName string
	CreatedAt  time.Time
}
