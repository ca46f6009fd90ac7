package trigger

// Slot is the single-slot preemptive trigger queue each room actor owns.
// A newly offered trigger of equal or higher priority replaces the
// pending one; a lower-priority trigger is dropped as superseded. The
// pending trigger is re-checked for staleness when its turn arrives.
type Slot struct {
	pending *Trigger
	dropped int
}

// Offer queues t, reporting whether it was kept.
func (s *Slot) Offer(t Trigger) bool {
	if s.pending == nil {
		s.pending = &t
		return true
	}
	if t.Priority >= s.pending.Priority {
		s.dropped++
		s.pending = &t
		return true
	}
	s.dropped++
	return false
}

// Take pops the pending trigger unless stale reports its condition no
// longer holds, in which case it is discarded.
func (s *Slot) Take(stale func(Trigger) bool) (Trigger, bool) {
	if s.pending == nil {
		return Trigger{}, false
	}
	t := *s.pending
	s.pending = nil

	if stale != nil && stale(t) {
		s.dropped++
		return Trigger{}, false
	}
	return t, true
}

func (s *Slot) Empty() bool { return s.pending == nil }

// Dropped counts triggers superseded or discarded as stale.
func (s *Slot) Dropped() int { return s.dropped }
