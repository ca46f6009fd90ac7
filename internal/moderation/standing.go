package moderation

import (
	"time"
)

// Standing tracks a user's recent offenses inside the policy window so
// repeated warnings escalate to mutes and repeated mutes to bans. After
// a mute expires with no further offenses the user reverts to clean.
type Standing struct {
	warns     []time.Time
	mutes     []time.Time
	mutedTill time.Time
	banned    bool
}

// standings is keyed by user id; each pipeline serves a single room, so
// no room dimension is needed.
type standings struct {
	byUser map[string]*Standing
	window time.Duration
}

func newStandings(window time.Duration) *standings {
	return &standings{
		byUser: make(map[string]*Standing),
		window: window,
	}
}

func (s *standings) get(userId string) *Standing {
	st, ok := s.byUser[userId]
	if !ok {
		st = &Standing{}
		s.byUser[userId] = st
	}
	return st
}

func (st *Standing) prune(now time.Time, window time.Duration) {
	st.warns = pruneTimes(st.warns, now, window)
	st.mutes = pruneTimes(st.mutes, now, window)
}

func pruneTimes(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

func (st *Standing) Muted(now time.Time) bool {
	return now.Before(st.mutedTill)
}

func (st *Standing) Banned() bool { return st.banned }
