package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Slot_Offer(t *testing.T) {
	var s Slot
	now := time.Now().UTC()

	assert.True(t, s.Empty())

	kept := s.Offer(Trigger{Kind: KindSilenceThreshold, Priority: PriorityMedium, CreatedAt: now})
	assert.True(t, kept, "expected first offer to be kept")
	assert.False(t, s.Empty())

	t.Run("lower priority is dropped", func(t *testing.T) {
		kept := s.Offer(Trigger{Kind: KindGroupSilence, Priority: PriorityLow, CreatedAt: now})
		assert.False(t, kept, "expected lower priority to lose to the pending trigger")
		assert.Equal(t, 1, s.Dropped())
	})

	t.Run("equal or higher priority preempts", func(t *testing.T) {
		kept := s.Offer(Trigger{Kind: KindConflictDetected, Priority: PriorityHigh, CreatedAt: now})
		assert.True(t, kept, "expected higher priority to replace the pending trigger")

		got, ok := s.Take(nil)
		assert.True(t, ok)
		assert.Equal(t, KindConflictDetected, got.Kind, "expected the preempting trigger to win the slot")
		assert.Equal(t, 2, s.Dropped())
	})
}

func Test_Slot_Take(t *testing.T) {
	var s Slot
	now := time.Now().UTC()

	_, ok := s.Take(nil)
	assert.False(t, ok, "expected take on empty slot to report nothing")

	s.Offer(Trigger{Kind: KindSilenceThreshold, Priority: PriorityMedium, TargetUser: "u1", CreatedAt: now})
	_, ok = s.Take(func(Trigger) bool { return true })
	assert.False(t, ok, "expected stale trigger to be discarded")
	assert.True(t, s.Empty(), "expected slot to be clear after discarding")
	assert.Equal(t, 1, s.Dropped())

	s.Offer(Trigger{Kind: KindDirectMention, Priority: PriorityHigh, CreatedAt: now})
	got, ok := s.Take(func(Trigger) bool { return false })
	assert.True(t, ok)
	assert.Equal(t, KindDirectMention, got.Kind)
}
