package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrealm/chatrealm/internal/state"
	"github.com/chatrealm/chatrealm/internal/stats"
	"github.com/chatrealm/chatrealm/internal/testutil"
	"github.com/chatrealm/chatrealm/internal/trigger"
	"github.com/chatrealm/chatrealm/internal/types"
)

func newIntegratorStore(t *testing.T, now time.Time) *state.Store {
	t.Helper()
	st := state.NewStore("room-1", types.RoomStudyGroup, "Dr. Chen", state.Limits{})
	st.UpsertUser("u1", "alice", now, time.Hour, true)
	return st
}

func Test_Apply(t *testing.T) {
	now := Now()
	st := newIntegratorStore(t, now)
	i := NewIntegrator("Dr. Chen", "", stats.NewNoopStats(), testutil.TestLogger(t))

	trig := trigger.Trigger{Kind: trigger.KindDirectMention, Priority: trigger.PriorityHigh, RoomId: "room-1", CreatedAt: now}
	msg, ok := i.Apply(st, trig, "Great question, alice!", nil, now)

	require.True(t, ok)
	assert.Equal(t, "Dr. Chen", msg.Username)
	assert.Equal(t, types.MessageTypeAI, msg.Type)
	assert.Equal(t, "room-1", msg.RoomId)
	assert.NotEmpty(t, msg.Id)

	history := st.History()
	require.Len(t, history, 1)
	assert.Equal(t, "Great question, alice!", history[0].Content)
}

func Test_Apply_failure(t *testing.T) {
	now := Now()

	t.Run("error without fallback drops the trigger", func(t *testing.T) {
		st := newIntegratorStore(t, now)
		ms := stats.NewNoopStats()
		i := NewIntegrator("Dr. Chen", "", ms, testutil.TestLogger(t))

		trig := trigger.Trigger{Kind: trigger.KindGroupSilence, Priority: trigger.PriorityLow, RoomId: "room-1", CreatedAt: now}
		_, ok := i.Apply(st, trig, "", errors.New("timeout"), now)

		assert.False(t, ok)
		assert.Empty(t, st.History(), "expected no mutation on failure")
		assert.False(t, st.Room().GroupSilencePrompted, "expected the episode to stay open for a retry")
		ms.AssertCalled(t, "Incr", StatProviderErrors)
	})

	t.Run("error with fallback substitutes the canned line", func(t *testing.T) {
		st := newIntegratorStore(t, now)
		i := NewIntegrator("Dr. Chen", "Give me a moment to think about that.", stats.NewNoopStats(), testutil.TestLogger(t))

		trig := trigger.Trigger{Kind: trigger.KindGroupSilence, Priority: trigger.PriorityLow, RoomId: "room-1", CreatedAt: now}
		msg, ok := i.Apply(st, trig, "", errors.New("timeout"), now)

		require.True(t, ok)
		assert.Equal(t, "Give me a moment to think about that.", msg.Content)
		assert.True(t, st.Room().GroupSilencePrompted)
	})

	t.Run("blank reply drops the trigger", func(t *testing.T) {
		st := newIntegratorStore(t, now)
		ms := stats.NewNoopStats()
		i := NewIntegrator("Dr. Chen", "", ms, testutil.TestLogger(t))

		trig := trigger.Trigger{Kind: trigger.KindTopicExhausted, Priority: trigger.PriorityLow, RoomId: "room-1", CreatedAt: now}
		_, ok := i.Apply(st, trig, "  \n\t ", nil, now)

		assert.False(t, ok)
		assert.Empty(t, st.History())
		ms.AssertCalled(t, "Incr", StatProviderErrors)
	})
}

func Test_Apply_settlesSilenceEpisodes(t *testing.T) {
	now := Now()

	t.Run("user silence", func(t *testing.T) {
		st := newIntegratorStore(t, now)
		i := NewIntegrator("Dr. Chen", "", stats.NewNoopStats(), testutil.TestLogger(t))

		trig := trigger.Trigger{
			Kind: trigger.KindSilenceThreshold, Priority: trigger.PriorityMedium,
			RoomId: "room-1", TargetUser: "u1", TargetName: "alice", CreatedAt: now,
		}
		_, ok := i.Apply(st, trig, "alice, how is the reading going?", nil, now)
		require.True(t, ok)

		u, err := st.GetUser("u1")
		require.NoError(t, err)
		assert.True(t, u.SilencePrompted, "expected the user's silence episode to settle")
	})

	t.Run("group silence", func(t *testing.T) {
		st := newIntegratorStore(t, now)
		i := NewIntegrator("Dr. Chen", "", stats.NewNoopStats(), testutil.TestLogger(t))

		trig := trigger.Trigger{Kind: trigger.KindGroupSilence, Priority: trigger.PriorityLow, RoomId: "room-1", CreatedAt: now}
		_, ok := i.Apply(st, trig, "Anyone want to pick a new exercise?", nil, now)
		require.True(t, ok)
		assert.True(t, st.Room().GroupSilencePrompted)
	})
}
