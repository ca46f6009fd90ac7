package trigger

import (
	"strings"
	"time"
	"unicode"

	"github.com/chatrealm/chatrealm/internal/sentiment"
	"github.com/chatrealm/chatrealm/internal/state"
	"github.com/chatrealm/chatrealm/internal/types"
)

// Config carries the detection thresholds. Defaults mirror the deployed
// values but every field is overridable.
type Config struct {
	UserSilenceThreshold  time.Duration
	GroupSilenceThreshold time.Duration
	TopicStaleMessages    int
}

func (c *Config) applyDefaults() {
	if c.UserSilenceThreshold <= 0 {
		c.UserSilenceThreshold = 120 * time.Second
	}
	if c.GroupSilenceThreshold <= 0 {
		c.GroupSilenceThreshold = 45 * time.Second
	}
	if c.TopicStaleMessages <= 0 {
		c.TopicStaleMessages = 12
	}
}

// Detector derives triggers from room events, reading the room's state
// store. It keeps a little episode state of its own (conflict edge,
// topic staleness) so rules fire on transitions, not levels.
type Detector struct {
	cfg          Config
	persona      string
	inConflict   bool
	topicStale   bool
	seenKeywords map[string]struct{}
}

func NewDetector(persona string, cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:          cfg,
		persona:      strings.ToLower(persona),
		seenKeywords: make(map[string]struct{}),
	}
}

// OnMessage evaluates the message-driven rules in registration order:
// direct_mention, user_confusion, conflict_detected. The returned slice
// preserves that order so equal priorities tie-break on earlier rules.
func (d *Detector) OnMessage(st *state.Store, msg types.Message, label types.Sentiment, now time.Time) []Trigger {
	var out []Trigger

	if d.mentionsPersona(msg.Content) {
		out = append(out, Trigger{
			Kind:       KindDirectMention,
			Priority:   PriorityHigh,
			RoomId:     msg.RoomId,
			TargetUser: msg.UserId,
			TargetName: msg.Username,
			CreatedAt:  now,
		})
	}

	confused := label == types.SentimentFrustrated || label == types.SentimentNegative
	if confused && sentiment.IsConfused(msg.Content) {
		out = append(out, Trigger{
			Kind:       KindUserConfusion,
			Priority:   PriorityHigh,
			RoomId:     msg.RoomId,
			TargetUser: msg.UserId,
			TargetName: msg.Username,
			CreatedAt:  now,
		})
	}

	dyn := st.ComputeDynamics(now)
	if dyn.ConflictFlag && !d.inConflict {
		out = append(out, Trigger{
			Kind:      KindConflictDetected,
			Priority:  PriorityHigh,
			RoomId:    msg.RoomId,
			CreatedAt: now,
		})
	}
	d.inConflict = dyn.ConflictFlag

	d.trackTopicKeywords(msg.Content)

	return out
}

// OnJoin fires the welcome exactly once per join.
func (d *Detector) OnJoin(roomId string, u *state.UserContext, now time.Time) []Trigger {
	if !u.NewToRoom {
		return nil
	}
	return []Trigger{{
		Kind:       KindNewUserJoined,
		Priority:   PriorityMedium,
		RoomId:     roomId,
		TargetUser: u.UserId,
		TargetName: u.Username,
		CreatedAt:  now,
	}}
}

// OnTick evaluates the time-driven rules: per-user silence, group
// silence and topic exhaustion. Each debounces per episode so a held
// condition fires once, not once per tick.
func (d *Detector) OnTick(st *state.Store, now time.Time) []Trigger {
	var out []Trigger

	for _, u := range st.Users() {
		if u.SilencePrompted {
			continue
		}
		if u.SilenceDuration(now) >= d.cfg.UserSilenceThreshold {
			out = append(out, Trigger{
				Kind:       KindSilenceThreshold,
				Priority:   PriorityMedium,
				RoomId:     st.Room().RoomId,
				TargetUser: u.UserId,
				TargetName: u.Username,
				CreatedAt:  now,
			})
			// mark the episode so the next tick stays quiet
			st.ResetSilence(u.UserId)
		}
	}

	room := st.Room()
	if !room.GroupSilencePrompted && st.MemberCount() > 0 {
		last := room.LastHumanMessage
		if last.IsZero() {
			last = earliestJoin(st, now)
		}
		if now.Sub(last) >= d.cfg.GroupSilenceThreshold {
			out = append(out, Trigger{
				Kind:      KindGroupSilence,
				Priority:  PriorityLow,
				RoomId:    room.RoomId,
				CreatedAt: now,
			})
			room.GroupSilencePrompted = true
		}
	}

	if t, ok := d.checkTopicExhausted(st, now); ok {
		out = append(out, t)
	}

	return out
}

func earliestJoin(st *state.Store, now time.Time) time.Time {
	earliest := now
	for _, u := range st.Users() {
		if u.JoinedAt.Before(earliest) {
			earliest = u.JoinedAt
		}
	}
	return earliest
}

func (d *Detector) mentionsPersona(text string) bool {
	if d.persona == "" {
		return false
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "@"+d.persona) {
		return true
	}
	// a leading bare name counts as addressing the persona
	first, _, _ := strings.Cut(strings.TrimSpace(lower), " ")
	return strings.Trim(first, ",:") == d.persona
}

// trackTopicKeywords records the vocabulary seen so far; topic
// exhaustion is "no unseen keyword in the trailing window".
func (d *Detector) trackTopicKeywords(text string) {
	fresh := false
	for _, kw := range keywords(text) {
		if _, ok := d.seenKeywords[kw]; !ok {
			d.seenKeywords[kw] = struct{}{}
			fresh = true
		}
	}
	if fresh {
		d.topicStale = false
	}
}

func (d *Detector) checkTopicExhausted(st *state.Store, now time.Time) (Trigger, bool) {
	if d.topicStale {
		return Trigger{}, false
	}

	history := st.History()
	if len(history) < d.cfg.TopicStaleMessages {
		return Trigger{}, false
	}

	window := history[len(history)-d.cfg.TopicStaleMessages:]
	earlier := make(map[string]struct{})
	for _, msg := range history[:len(history)-d.cfg.TopicStaleMessages] {
		for _, kw := range keywords(msg.Content) {
			earlier[kw] = struct{}{}
		}
	}

	for _, msg := range window {
		for _, kw := range keywords(msg.Content) {
			if _, ok := earlier[kw]; !ok {
				return Trigger{}, false
			}
		}
	}

	d.topicStale = true
	return Trigger{
		Kind:      KindTopicExhausted,
		Priority:  PriorityLow,
		RoomId:    st.Room().RoomId,
		CreatedAt: now,
	}, true
}

// keywords pulls the content-bearing words out of a message.
func keywords(text string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 5 {
			out = append(out, w)
		}
	}
	return out
}
