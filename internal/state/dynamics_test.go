package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrealm/chatrealm/internal/types"
)

func Test_ComputeDynamics(t *testing.T) {
	now := time.Now().UTC()
	st := NewStore("room-1", types.RoomStudyGroup, "Dr. Chen", Limits{
		QuietUserWindow:   10 * time.Minute,
		QuietUserMessages: 3,
	})

	st.UpsertUser("a", "alice", now.Add(-20*time.Minute), time.Hour, true)
	st.UpsertUser("b", "bob", now.Add(-20*time.Minute), time.Hour, true)

	// Alice sends five recent messages, Bob only one.
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordMessage(testMessage("room-1", "a", "working through problem two", now.Add(-time.Duration(5-i)*time.Minute)), types.SentimentPositive))
	}
	require.NoError(t, st.RecordMessage(testMessage("room-1", "b", "ok", now.Add(-time.Minute)), types.SentimentNeutral))

	d := st.ComputeDynamics(now)
	assert.Equal(t, "a", d.DominantSpeaker, "expected the most recently talkative user to dominate")
	assert.Contains(t, d.QuietUsers, "b", "expected a one-message user to read as quiet")
	assert.NotContains(t, d.QuietUsers, "a")
	assert.False(t, d.ConflictFlag)
	assert.InDelta(t, 0.75, d.SentimentAverage, 0.01, "expected average of positive (1.0) and neutral (0.5)")
}

func Test_ComputeDynamics_conflict(t *testing.T) {
	now := time.Now().UTC()
	st := NewStore("room-1", types.RoomCasualLounge, "Rex", Limits{})

	st.UpsertUser("a", "alice", now, time.Hour, true)
	st.UpsertUser("b", "bob", now, time.Hour, true)
	st.UpsertUser("c", "cara", now, time.Hour, true)

	require.NoError(t, st.RecordMessage(testMessage("room-1", "a", "that is a terrible take", now.Add(-30*time.Second)), types.SentimentFrustrated))
	require.NoError(t, st.RecordMessage(testMessage("room-1", "b", "you are wrong and annoying", now.Add(-20*time.Second)), types.SentimentNegative))
	require.NoError(t, st.RecordMessage(testMessage("room-1", "c", "anyway, pizza?", now.Add(-10*time.Second)), types.SentimentPositive))

	d := st.ComputeDynamics(now)
	assert.True(t, d.ConflictFlag, "expected two negative users in the window to flag conflict")
	assert.True(t, d.NeedsModeration)
}

func Test_ComputeDynamics_staleNegativityIsNotConflict(t *testing.T) {
	now := time.Now().UTC()
	st := NewStore("room-1", types.RoomCasualLounge, "Rex", Limits{})

	st.UpsertUser("a", "alice", now, time.Hour, true)
	st.UpsertUser("b", "bob", now, time.Hour, true)

	old := now.Add(-10 * time.Minute)
	require.NoError(t, st.RecordMessage(testMessage("room-1", "a", "ugh this is awful", old), types.SentimentNegative))
	require.NoError(t, st.RecordMessage(testMessage("room-1", "b", "hate it here", old), types.SentimentFrustrated))

	d := st.ComputeDynamics(now)
	assert.False(t, d.ConflictFlag, "expected negativity outside the conflict window to be ignored")
}

func Test_ComputeDynamics_cache(t *testing.T) {
	now := time.Now().UTC()
	st := NewStore("room-1", types.RoomStudyGroup, "Dr. Chen", Limits{})
	st.UpsertUser("a", "alice", now, time.Hour, true)

	first := st.ComputeDynamics(now)
	// A later call without mutations returns the cached result even with
	// a different timestamp.
	cached := st.ComputeDynamics(now.Add(time.Hour))
	assert.Equal(t, first, cached)

	require.NoError(t, st.RecordMessage(testMessage("room-1", "a", "new message here", now.Add(time.Hour)), types.SentimentNeutral))
	recomputed := st.ComputeDynamics(now.Add(time.Hour))
	assert.Equal(t, "a", recomputed.DominantSpeaker, "expected recompute after mutation")
}

func Test_ComputeDynamics_emptyRoom(t *testing.T) {
	st := NewStore("room-1", types.RoomTutorial, "Atlas", Limits{})
	d := st.ComputeDynamics(time.Now().UTC())
	assert.Equal(t, 0.5, d.SentimentAverage, "expected neutral average for an empty room")
	assert.Empty(t, d.QuietUsers)
	assert.False(t, d.ConflictFlag)
}
