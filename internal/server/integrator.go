package server

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatrealm/chatrealm/internal/state"
	"github.com/chatrealm/chatrealm/internal/trigger"
	"github.com/chatrealm/chatrealm/internal/types"
)

// Integrator folds a provider reply back into room state. A failed or
// malformed reply mutates nothing: the trigger is dropped and logged,
// and an equivalent trigger may re-arise naturally. There is no retry:
// a stale prompt would no longer reflect room state.
type Integrator struct {
	personaName string
	// fallbackReply, when configured, is substituted for a failed
	// provider call. Empty disables the substitution.
	fallbackReply string
	stats         StatsProvider
	log           *zap.Logger
}

func NewIntegrator(personaName, fallbackReply string, stats StatsProvider, log *zap.Logger) *Integrator {
	return &Integrator{
		personaName:   personaName,
		fallbackReply: fallbackReply,
		stats:         stats,
		log:           log,
	}
}

// Apply validates the reply, appends the AI message to room history and
// settles the trigger's silence episode. The returned bool reports
// whether a message should be persisted and broadcast.
func (i *Integrator) Apply(st *state.Store, trig trigger.Trigger, reply string, callErr error, now time.Time) (types.Message, bool) {
	if callErr != nil {
		i.stats.Incr(StatProviderErrors)
		i.log.Warn("provider call failed, dropping trigger",
			zap.String("room_id", trig.RoomId),
			zap.String("trigger", trig.Kind.String()),
			zap.Error(callErr))

		if i.fallbackReply == "" {
			return types.Message{}, false
		}
		return i.emit(st, trig, i.fallbackReply, now), true
	}

	text := strings.TrimSpace(reply)
	if text == "" {
		i.stats.Incr(StatProviderErrors)
		i.log.Warn("empty provider reply, dropping trigger",
			zap.String("room_id", trig.RoomId),
			zap.String("trigger", trig.Kind.String()))
		return types.Message{}, false
	}

	return i.emit(st, trig, text, now), true
}

func (i *Integrator) emit(st *state.Store, trig trigger.Trigger, text string, now time.Time) types.Message {
	msg := types.Message{
		Id:        newMessageId(),
		RoomId:    trig.RoomId,
		Username:  i.personaName,
		Content:   text,
		Type:      types.MessageTypeAI,
		Timestamp: now,
	}

	st.RecordAIMessage(msg)

	// the AI addressed the target; don't re-prompt the same episode
	if trig.TargetUser != "" {
		st.ResetSilence(trig.TargetUser)
	}
	if trig.Kind == trigger.KindGroupSilence {
		st.Room().GroupSilencePrompted = true
	}

	return msg
}
