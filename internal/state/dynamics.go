package state

import (
	"time"

	"github.com/chatrealm/chatrealm/internal/types"
)

// conflictWindow bounds how recent two users' negative turns must be to
// count as a live conflict rather than old grievances.
const conflictWindow = 2 * time.Minute

// Dynamics is the derived, non-authoritative summary of a room's current
// participants. It is recomputed from user contexts, never mutated
// independently.
type Dynamics struct {
	DominantSpeaker  string   `json:"dominant_speaker"`
	QuietUsers       []string `json:"quiet_users"`
	SentimentAverage float64  `json:"sentiment_average"`
	ConflictFlag     bool     `json:"conflict_flag"`
	NeedsModeration  bool     `json:"needs_moderation"`
}

// ComputeDynamics derives the group summary at the given instant. The
// result is cached until the next mutation invalidates it.
func (s *Store) ComputeDynamics(now time.Time) Dynamics {
	if s.dynamicsValid {
		return s.dynamics
	}

	var d Dynamics
	var sentimentSum float64
	var dominantCount int
	var negatives int

	for _, u := range s.users {
		recent := countSince(u.RecentMessages, now.Add(-s.quietWindow))

		if recent > dominantCount {
			dominantCount = recent
			d.DominantSpeaker = u.UserId
		}
		if recent < s.quietMsgs {
			d.QuietUsers = append(d.QuietUsers, u.UserId)
		}

		sentimentSum += u.Sentiment.Score()

		if recentNegative(u, now) {
			negatives++
		}
	}

	if len(s.users) > 0 {
		d.SentimentAverage = sentimentSum / float64(len(s.users))
	} else {
		d.SentimentAverage = 0.5
	}

	// Two or more participants souring at each other inside the window
	// reads as conflict.
	d.ConflictFlag = negatives >= 2
	d.NeedsModeration = d.ConflictFlag

	s.dynamics = d
	s.dynamicsValid = true
	return d
}

func countSince(window []MessageEntry, cutoff time.Time) int {
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func recentNegative(u *UserContext, now time.Time) bool {
	if u.Sentiment != types.SentimentNegative && u.Sentiment != types.SentimentFrustrated {
		return false
	}
	for i := len(u.SentimentHistory) - 1; i >= 0; i-- {
		rec := u.SentimentHistory[i]
		if now.Sub(rec.Timestamp) > conflictWindow {
			return false
		}
		if rec.Label == types.SentimentNegative || rec.Label == types.SentimentFrustrated {
			return true
		}
	}
	return false
}
