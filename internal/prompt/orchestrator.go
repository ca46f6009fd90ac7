// Package prompt assembles the bounded context payload handed to the
// model provider. Assembly is deterministic: same snapshot and trigger,
// same payload.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatrealm/chatrealm/internal/config"
	"github.com/chatrealm/chatrealm/internal/provider"
	"github.com/chatrealm/chatrealm/internal/sentiment"
	"github.com/chatrealm/chatrealm/internal/state"
	"github.com/chatrealm/chatrealm/internal/trigger"
	"github.com/chatrealm/chatrealm/internal/types"
)

const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.8
	userSummaryTextCap = 60
)

// Orchestrator turns a room snapshot plus a trigger into a provider
// request under a hard character budget. Under pressure, message history
// goes first, then thread summaries; the persona and the objective are
// never trimmed.
type Orchestrator struct {
	personas   map[types.RoomType]config.Persona
	budget     int
	maxThreads int
}

func NewOrchestrator(personas map[types.RoomType]config.Persona, budget, maxThreads int) *Orchestrator {
	if budget <= 0 {
		budget = 8192
	}
	if maxThreads <= 0 {
		maxThreads = 3
	}
	return &Orchestrator{personas: personas, budget: budget, maxThreads: maxThreads}
}

// Persona resolves the configured persona for a room type.
func (o *Orchestrator) Persona(rt types.RoomType) (config.Persona, error) {
	p, ok := o.personas[rt]
	if !ok {
		return config.Persona{}, fmt.Errorf("prompt: no persona for room type %q", rt)
	}
	return p, nil
}

// BuildContext assembles the payload for one trigger.
func (o *Orchestrator) BuildContext(snap state.RoomSnapshot, trig trigger.Trigger, now time.Time, dyn state.Dynamics) (provider.Request, error) {
	persona, err := o.Persona(snap.Room.RoomType)
	if err != nil {
		return provider.Request{}, err
	}

	objective := objectiveFor(trig)
	roomSummary := o.roomSummary(snap, dyn)
	userSummaries := o.userSummaries(snap.Users, now)
	threads := o.threadSummaries(snap.Room.Threads)
	history := snap.History

	fixed := len(persona.Prompt) + len(objective) + len(roomSummary) + len(userSummaries)

	// Trim history first, oldest messages dropped.
	for fixed+historyLen(history)+len(threads) > o.budget && len(history) > 0 {
		history = history[1:]
	}
	// Then thread summaries, lowest priority already sorted last.
	for fixed+len(threads) > o.budget && threads != "" {
		threads = dropLastLine(threads)
	}

	var b strings.Builder
	b.WriteString(persona.Prompt)
	b.WriteString("\n\n")
	b.WriteString(roomSummary)
	if userSummaries != "" {
		b.WriteString("\nACTIVE USERS:\n")
		b.WriteString(userSummaries)
	}
	if threads != "" {
		b.WriteString("\nOPEN THREADS:\n")
		b.WriteString(threads)
	}
	b.WriteString("\nYOUR OBJECTIVE: ")
	b.WriteString(objective)

	return provider.Request{
		System:      b.String(),
		Turns:       historyTurns(history, persona.Name),
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}, nil
}

func (o *Orchestrator) roomSummary(snap state.RoomSnapshot, dyn state.Dynamics) string {
	return fmt.Sprintf("ROOM: %s\nCURRENT TOPIC: %s\nACTIVE USERS: %d\nGROUP MOOD: %s\n",
		snap.Room.RoomType, snap.Room.CurrentTopic, len(snap.Users), moodBand(dyn.SentimentAverage))
}

// moodBand buckets the rolling sentiment average into coarse bands; the
// model reads words better than floats.
func moodBand(avg float64) string {
	switch {
	case avg > 0.8:
		return "upbeat and energetic"
	case avg > 0.6:
		return "positive and engaged"
	case avg > 0.4:
		return "neutral and steady"
	case avg > 0.2:
		return "subdued, needs encouragement"
	default:
		return "tense, handle with care"
	}
}

func (o *Orchestrator) userSummaries(users []state.UserContext, now time.Time) string {
	sorted := append([]state.UserContext(nil), users...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Username < sorted[j].Username })

	var b strings.Builder
	for _, u := range sorted {
		if !u.Active {
			continue
		}
		silence := int(u.SilenceDuration(now).Seconds())
		fmt.Fprintf(&b, "- %s: mood %s, %d messages, last active %ds ago, engagement %s",
			truncate(u.Username, userSummaryTextCap), u.Sentiment, u.MessageCount, silence,
			sentiment.EngagementLevel(u.MessageCount, silence))
		if u.Sentiment == types.SentimentFrustrated {
			b.WriteString(" (needs attention)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (o *Orchestrator) threadSummaries(threads []state.Thread) string {
	open := make([]state.Thread, 0, len(threads))
	for _, t := range threads {
		if t.Status == state.ThreadActive {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Priority > open[j].Priority })
	if len(open) > o.maxThreads {
		open = open[:o.maxThreads]
	}

	var b strings.Builder
	for _, t := range open {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", t.Priority, t.Topic, strings.Join(t.Participants, ", "))
	}
	return b.String()
}

func historyTurns(history []types.Message, personaName string) []provider.Turn {
	turns := make([]provider.Turn, 0, len(history))
	for _, m := range history {
		if m.Type == types.MessageTypeAI {
			turns = append(turns, provider.Turn{Role: provider.RoleAssistant, Content: m.Content})
			continue
		}
		turns = append(turns, provider.Turn{
			Role:    provider.RoleUser,
			Content: fmt.Sprintf("%s: %s", m.Username, m.Content),
		})
	}
	if len(turns) == 0 {
		// the provider protocol requires at least one user turn
		turns = append(turns, provider.Turn{
			Role:    provider.RoleUser,
			Content: fmt.Sprintf("(no messages yet — %s opens the conversation)", personaName),
		})
	}
	return turns
}

func historyLen(history []types.Message) int {
	n := 0
	for _, m := range history {
		n += len(m.Username) + len(m.Content) + 2
	}
	return n
}

func dropLastLine(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	idx := strings.LastIndexByte(trimmed, '\n')
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// objectiveFor selects the fixed response strategy template per trigger
// kind, interpolating the target user where one exists.
func objectiveFor(t trigger.Trigger) string {
	name := t.TargetName
	if name == "" {
		name = "the group"
	}

	switch t.Kind {
	case trigger.KindDirectMention:
		return fmt.Sprintf("Answer %s directly and clearly. Keep it brief — others are listening.", name)
	case trigger.KindUserConfusion:
		return fmt.Sprintf("Help %s understand. Others may share the confusion, so address the group too.", name)
	case trigger.KindSilenceThreshold:
		return fmt.Sprintf("Invite %s to participate. Be encouraging, never embarrassing.", name)
	case trigger.KindConflictDetected:
		return "De-escalate the tension. Redirect the group to a positive topic."
	case trigger.KindGroupSilence:
		return "Re-engage the group with an interesting question that references the recent conversation."
	case trigger.KindNewUserJoined:
		return fmt.Sprintf("Welcome %s warmly, summarize the discussion in a sentence, then ask them a simple question to loop them in.", name)
	case trigger.KindTopicExhausted:
		return "Transition smoothly. Ask what the group wants to explore next."
	default:
		return "Maintain natural group conversation flow. Be concise."
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
