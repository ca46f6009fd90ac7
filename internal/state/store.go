// Package state holds the live conversational context for one room: the
// per-user contexts, the room context and the derived group dynamics.
// A Store does no I/O and is owned exclusively by its room's actor; every
// mutation goes through that actor's loop.
package state

import (
	"errors"
	"time"

	"github.com/chatrealm/chatrealm/internal/types"
)

var ErrNotFound = errors.New("state: not found")

const (
	sentimentHistoryCap = 10
	messageWindowCap    = 20
)

// SentimentRecord is one entry in a user's bounded sentiment history.
type SentimentRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Label     types.Sentiment `json:"label"`
	Cause     string          `json:"cause"`
}

// MessageEntry is one entry in a user's recent message window.
type MessageEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// UserContext tracks one (user, room) pair.
type UserContext struct {
	UserId   string `json:"user_id"`
	Username string `json:"username"`
	RoomId   string `json:"room_id"`

	Sentiment        types.Sentiment   `json:"sentiment"`
	SentimentHistory []SentimentRecord `json:"sentiment_history"`

	MessageCount    int       `json:"message_count"`
	LastMessageTime time.Time `json:"last_message_time"`
	EngagementScore float64   `json:"engagement_score"`
	Active          bool      `json:"active"`

	RecentMessages []MessageEntry `json:"recent_messages"`
	Topics         []string       `json:"topics"`

	JoinedAt  time.Time `json:"joined_at"`
	NewToRoom bool      `json:"new_to_room"`

	// SilencePrompted marks that a silence_threshold trigger already
	// fired for the current silence episode. Cleared when the user speaks.
	SilencePrompted bool `json:"-"`
}

// SilenceDuration is always derived from the last message time, never
// stored, so it can't go stale beyond one read.
func (u *UserContext) SilenceDuration(now time.Time) time.Duration {
	if u.LastMessageTime.IsZero() {
		return now.Sub(u.JoinedAt)
	}
	return now.Sub(u.LastMessageTime)
}

// ThreadStatus and ThreadPriority classify open conversation threads.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadResolved ThreadStatus = "resolved"
)

type ThreadPriority int

const (
	PriorityLow ThreadPriority = iota
	PriorityMedium
	PriorityHigh
)

func (p ThreadPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

type Thread struct {
	Topic        string         `json:"topic"`
	Participants []string       `json:"participants"`
	Status       ThreadStatus   `json:"status"`
	Priority     ThreadPriority `json:"priority"`
}

// RoomContext is the room-level half of the store.
type RoomContext struct {
	RoomId   string         `json:"room_id"`
	RoomType types.RoomType `json:"room_type"`
	Persona  string         `json:"persona"`

	CurrentTopic string   `json:"current_topic"`
	TopicHistory []string `json:"topic_history"`
	Threads      []Thread `json:"threads"`

	LastHumanMessage time.Time `json:"last_human_message"`

	// GroupSilencePrompted debounces group_silence to once per episode.
	GroupSilencePrompted bool `json:"-"`
}

// Store owns one room's context. Not safe for concurrent use: the room
// actor serializes all access.
type Store struct {
	room     RoomContext
	users    map[string]*UserContext
	archived map[string]archivedUser

	history []types.Message

	dynamics      Dynamics
	dynamicsValid bool

	historyLimit int
	quietWindow  time.Duration
	quietMsgs    int
}

type archivedUser struct {
	ctx    *UserContext
	leftAt time.Time
}

type Limits struct {
	HistoryLimit      int
	QuietUserWindow   time.Duration
	QuietUserMessages int
}

func NewStore(roomId string, roomType types.RoomType, persona string, limits Limits) *Store {
	if limits.HistoryLimit <= 0 {
		limits.HistoryLimit = messageWindowCap
	}
	if limits.QuietUserWindow <= 0 {
		limits.QuietUserWindow = 10 * time.Minute
	}
	if limits.QuietUserMessages <= 0 {
		limits.QuietUserMessages = 3
	}

	return &Store{
		room: RoomContext{
			RoomId:       roomId,
			RoomType:     roomType,
			Persona:      persona,
			CurrentTopic: "general",
		},
		users:        make(map[string]*UserContext),
		archived:     make(map[string]archivedUser),
		historyLimit: limits.HistoryLimit,
		quietWindow:  limits.QuietUserWindow,
		quietMsgs:    limits.QuietUserMessages,
	}
}

func (s *Store) Room() *RoomContext { return &s.room }

func (s *Store) GetUser(userId string) (*UserContext, error) {
	u, ok := s.users[userId]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// UpsertUser creates or resumes the context for a joining user. A context
// archived within the session TTL resumes instead of resetting, so a
// reconnect does not look like a brand-new participant.
func (s *Store) UpsertUser(userId, username string, now time.Time, sessionTTL time.Duration, resume bool) *UserContext {
	if u, ok := s.users[userId]; ok {
		u.Active = true
		return u
	}

	if resume {
		if a, ok := s.archived[userId]; ok {
			delete(s.archived, userId)
			if now.Sub(a.leftAt) <= sessionTTL {
				a.ctx.Active = true
				a.ctx.NewToRoom = false
				s.users[userId] = a.ctx
				s.dynamicsValid = false
				return a.ctx
			}
		}
	}

	u := &UserContext{
		UserId:          userId,
		Username:        username,
		RoomId:          s.room.RoomId,
		Sentiment:       types.SentimentNeutral,
		EngagementScore: 0.5,
		Active:          true,
		JoinedAt:        now,
		NewToRoom:       true,
	}
	s.users[userId] = u
	s.dynamicsValid = false
	return u
}

// ArchiveUser removes a user from the active set but keeps the context so
// a rejoin within the session TTL resumes rather than resets.
func (s *Store) ArchiveUser(userId string, now time.Time) {
	u, ok := s.users[userId]
	if !ok {
		return
	}
	delete(s.users, userId)
	u.Active = false
	s.archived[userId] = archivedUser{ctx: u, leftAt: now}
	s.dynamicsValid = false
}

// Adopt installs a context recovered from the hot cache into the
// archived set, so the next UpsertUser resumes it.
func (s *Store) Adopt(u *UserContext, leftAt time.Time) {
	if u == nil || u.UserId == "" {
		return
	}
	s.archived[u.UserId] = archivedUser{ctx: u, leftAt: leftAt}
}

func (s *Store) Archived(userId string) (*UserContext, bool) {
	a, ok := s.archived[userId]
	if !ok {
		return nil, false
	}
	return a.ctx, true
}

// Users returns the active user contexts. Callers must not retain the
// pointers beyond the current actor step.
func (s *Store) Users() []*UserContext {
	out := make([]*UserContext, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *Store) MemberCount() int { return len(s.users) }

// RecordMessage atomically updates the author's message window,
// participation counters and sentiment, appends to room history and
// invalidates cached dynamics.
func (s *Store) RecordMessage(msg types.Message, label types.Sentiment) error {
	u, ok := s.users[msg.UserId]
	if !ok {
		return ErrNotFound
	}

	u.MessageCount++
	u.LastMessageTime = msg.Timestamp
	u.Active = true
	u.NewToRoom = false
	u.SilencePrompted = false
	u.EngagementScore = engagementScore(u.MessageCount, 0)

	u.Sentiment = label
	u.SentimentHistory = append(u.SentimentHistory, SentimentRecord{
		Timestamp: msg.Timestamp,
		Label:     label,
		Cause:     "message_sent",
	})
	if len(u.SentimentHistory) > sentimentHistoryCap {
		u.SentimentHistory = u.SentimentHistory[len(u.SentimentHistory)-sentimentHistoryCap:]
	}

	u.RecentMessages = append(u.RecentMessages, MessageEntry{
		Timestamp: msg.Timestamp,
		Text:      msg.Content,
	})
	if len(u.RecentMessages) > messageWindowCap {
		u.RecentMessages = u.RecentMessages[len(u.RecentMessages)-messageWindowCap:]
	}

	s.appendHistory(msg)
	s.room.LastHumanMessage = msg.Timestamp
	s.room.GroupSilencePrompted = false
	s.dynamicsValid = false

	return nil
}

// RecordAIMessage appends an assistant message to room history without
// touching any user's participation counters.
func (s *Store) RecordAIMessage(msg types.Message) {
	s.appendHistory(msg)
	s.dynamicsValid = false
}

func (s *Store) appendHistory(msg types.Message) {
	s.history = append(s.history, msg)
	if len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
}

// History returns the bounded room history, oldest first.
func (s *Store) History() []types.Message {
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// ResetSilence marks a user as freshly engaged after the AI addressed
// them, so the same silence episode does not re-fire.
func (s *Store) ResetSilence(userId string) {
	if u, ok := s.users[userId]; ok {
		u.SilencePrompted = true
	}
}

func engagementScore(messageCount int, silenceSeconds int) float64 {
	score := 0.5 + float64(messageCount)*0.05 - float64(silenceSeconds)*0.001
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// Snapshot produces a point-in-time copy safe to hand to readers outside
// the actor, e.g. metrics or the hot cache.
type RoomSnapshot struct {
	Room    RoomContext
	Users   []UserContext
	History []types.Message
}

func (s *Store) Snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		Room:    s.room,
		Users:   make([]UserContext, 0, len(s.users)),
		History: s.History(),
	}
	snap.Room.TopicHistory = append([]string(nil), s.room.TopicHistory...)
	snap.Room.Threads = append([]Thread(nil), s.room.Threads...)

	for _, u := range s.users {
		cp := *u
		cp.SentimentHistory = append([]SentimentRecord(nil), u.SentimentHistory...)
		cp.RecentMessages = append([]MessageEntry(nil), u.RecentMessages...)
		cp.Topics = append([]string(nil), u.Topics...)
		snap.Users = append(snap.Users, cp)
	}
	return snap
}
