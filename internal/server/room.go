package server

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"

	"github.com/chatrealm/chatrealm/internal/moderation"
	"github.com/chatrealm/chatrealm/internal/state"
	"github.com/chatrealm/chatrealm/internal/store"
	"github.com/chatrealm/chatrealm/internal/trigger"
	"github.com/chatrealm/chatrealm/internal/types"
)

// duplicateWindow is the fallback dedup horizon for identical content
// from the same user, matching what receivers apply on their side.
const duplicateWindow = 2 * time.Second

type exitReq struct {
	deleted bool
	done    chan struct{}
}

type providerResult struct {
	trig trigger.Trigger
	resp string
	err  error
}

// Room is the actor owning one room: every context mutation, trigger
// decision and provider call for the room is serialized through its
// loop. Only the provider call itself runs outside the loop, and at
// most one is in flight at a time.
type Room struct {
	id          int
	externalId  string
	roomType    types.RoomType
	personaName string

	cs *Dispatcher

	events      chan *ClientEvent
	providerRes chan providerResult
	exit        chan exitReq
	done        chan struct{}

	st         *state.Store
	detector   *trigger.Detector
	slot       trigger.Slot
	pipeline   *moderation.Pipeline
	integrator *Integrator

	clients    map[*Client]struct{}
	userMap    map[string]map[*Client]struct{}
	clientLock sync.RWMutex

	lastMsg  map[string]types.Message
	inflight bool

	// killTimer retires the room after the idle grace once membership
	// is empty.
	killTimer *time.Timer
	log       *zap.Logger
}

func (r *Room) start() {
	r.log.Info("starting room", zap.String("room_id", r.externalId))
	r.killTimer = time.NewTimer(r.cs.tuning.IdleRoomGrace)
	r.killTimer.Stop()

	ticker := time.NewTicker(r.cs.tuning.EngagementTick)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			r.handleEvent(ev)
		case res := <-r.providerRes:
			r.handleProviderResult(res)
		case now := <-ticker.C:
			r.handleTick(now.UTC())
		case <-r.killTimer.C:
			r.log.Info("room idle, unloading", zap.String("room_id", r.externalId))
			r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}
		case e := <-r.exit:
			r.handleExit(e)
			return
		}
	}
}

func (r *Room) handleEvent(ev *ClientEvent) {
	switch {
	case ev.Join != nil:
		r.handleJoin(ev)
	case ev.Leave != nil:
		r.handleLeave(ev)
	case ev.Message != nil:
		r.handleMessage(ev)
	case ev.Typing != nil:
		r.handleTyping(ev)
	}
}

func (r *Room) handleJoin(ev *ClientEvent) {
	r.killTimer.Stop()

	now := Now()

	// A context archived to the hot cache by a previous actor incarnation
	// resumes the session instead of resetting it.
	if r.cs.tuning.ResumeOnRejoin {
		if _, err := r.st.GetUser(ev.user.Id); errors.Is(err, state.ErrNotFound) {
			if _, ok := r.st.Archived(ev.user.Id); !ok {
				r.adoptCachedContext(ev.user.Id, now)
			}
		}
	}

	u := r.st.UpsertUser(ev.user.Id, ev.user.Username, now, r.cs.tuning.SessionTTL, r.cs.tuning.ResumeOnRejoin)

	r.addClient(ev.client)

	history, err := r.cs.repo.GetMessages(r.externalId, now, r.cs.tuning.HistoryLimit)
	if err != nil {
		r.log.Warn("history backfill failed", zap.String("room_id", r.externalId), zap.Error(err))
	}
	// the store returns newest first; the join ack replays oldest first
	slices.Reverse(history)

	ev.client.queueEvent(NoErrOK(ev.Id, map[string]any{
		"room_id":      r.externalId,
		"room_type":    r.roomType,
		"persona":      r.personaName,
		"active_users": r.st.MemberCount(),
		"history":      history,
	}))

	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: now},
		UserJoined: &PresenceEvent{
			RoomId:      r.externalId,
			UserId:      ev.user.Id,
			Username:    ev.user.Username,
			AvatarStyle: ev.Join.AvatarStyle,
			AvatarColor: ev.Join.AvatarColor,
			ActiveUsers: r.st.MemberCount(),
		},
		SkipClient: ev.client,
	})

	r.offerBatch(r.detector.OnJoin(r.externalId, u, now))
	r.maybeProcessTrigger(now)
}

func (r *Room) handleLeave(ev *ClientEvent) {
	r.removeClient(ev.client)

	if ev.Id > 0 {
		ev.client.queueEvent(NoErrOK(ev.Id, nil))
	}

	// archive only once the user's last connection is gone
	if r.userMap[ev.user.Id] == nil {
		now := Now()
		r.archiveUser(ev.user.Id, now)

		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: now},
			UserLeft: &PresenceEvent{
				RoomId:      r.externalId,
				UserId:      ev.user.Id,
				Username:    ev.user.Username,
				ActiveUsers: r.st.MemberCount(),
			},
			SkipClient: ev.client,
		})
	}
}

func (r *Room) handleMessage(ev *ClientEvent) {
	now := Now()

	if _, err := r.st.GetUser(ev.user.Id); err != nil {
		// expected race between leave and message delivery, not an error
		r.log.Debug("message from unknown user",
			zap.String("room_id", r.externalId), zap.String("user_id", ev.user.Id))
		ev.client.queueEvent(ErrRoomNotFound(ev.Id))
		return
	}

	if r.isDuplicate(ev.user.Id, ev.Message.Message, now) {
		r.cs.stats.Incr(StatDuplicatesSuppressed)
		ev.client.queueEvent(NoErrAccepted(ev.Id))
		return
	}

	verdict, incident := r.pipeline.Evaluate(r.externalId, ev.user.Id, ev.Message.Message, now)
	if incident != nil {
		if err := r.cs.repo.SaveModerationEvent(store.ModerationEvent{
			Id:       incident.Id,
			RoomId:   incident.RoomId,
			UserId:   incident.UserId,
			Action:   string(incident.Action),
			Severity: incident.Severity.String(),
			Reason:   incident.Reason,
			Message:  incident.Message,
			At:       incident.At,
		}); err != nil {
			r.log.Error("save moderation event", zap.Error(err))
		}
	}

	switch verdict.Action {
	case moderation.ActionEscalateCrisis:
		r.handleCrisis(ev, verdict, now)
		return
	case moderation.ActionBan:
		r.cs.stats.Incr(StatVerdictBan)
		r.broadcast(&ServerEvent{
			BaseEvent:  BaseEvent{Timestamp: now},
			UserBanned: &UserBanned{UserId: ev.user.Id, Reason: verdict.Reason},
		})
		return
	case moderation.ActionMute:
		r.cs.stats.Incr(StatVerdictMute)
		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: now},
			UserMuted: &UserMuted{
				UserId:   ev.user.Id,
				Reason:   verdict.Reason,
				Duration: int(verdict.MuteDuration.Seconds()),
			},
		})
		return
	case moderation.ActionWarn:
		r.cs.stats.Incr(StatVerdictWarn)
		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: now},
			ModerationWarning: &ModerationWarning{
				Message:  "Please keep the conversation respectful: " + verdict.Reason,
				Severity: verdict.Severity.String(),
			},
			TargetUser: ev.user.Id,
		})
		// a warned message still enters the conversation
	}

	label, _ := r.cs.analyzer.Analyze(ev.Message.Message)

	msg := types.Message{
		Id:        newMessageId(),
		RoomId:    r.externalId,
		UserId:    ev.user.Id,
		Username:  ev.user.Username,
		Content:   ev.Message.Message,
		Type:      types.MessageTypeUser,
		Sentiment: label,
		Timestamp: now,
	}

	if err := r.st.RecordMessage(msg, label); err != nil {
		r.log.Error("record message", zap.Error(err))
		ev.client.queueEvent(ErrInternalError(ev.Id))
		return
	}
	r.lastMsg[ev.user.Id] = msg

	if err := r.cs.repo.CreateMessage(msg); err != nil {
		// durable write failure must not stall the conversation
		r.log.Error("persist message", zap.Error(err))
	}

	ev.client.queueEvent(NoErrAccepted(ev.Id))
	r.broadcast(&ServerEvent{
		BaseEvent:  BaseEvent{Id: ev.Id, Timestamp: now},
		NewMessage: &msg,
	})

	r.offerBatch(r.detector.OnMessage(r.st, msg, label, now))
	r.maybeProcessTrigger(now)
}

// handleCrisis stores the message for audit but replaces the normal
// broadcast with a crisis-resources payload; the conversational flow
// yields this turn.
func (r *Room) handleCrisis(ev *ClientEvent, verdict moderation.Verdict, now time.Time) {
	r.cs.stats.Incr(StatVerdictCrisis)

	audit := types.Message{
		Id:        newMessageId(),
		RoomId:    r.externalId,
		UserId:    ev.user.Id,
		Username:  ev.user.Username,
		Content:   ev.Message.Message,
		Type:      types.MessageTypeUser,
		Timestamp: now,
	}
	if err := r.cs.repo.CreateMessage(audit); err != nil {
		r.log.Error("persist crisis audit message", zap.Error(err))
	}

	ev.client.queueEvent(NoErrAccepted(ev.Id))
	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: now},
		CrisisResources: &CrisisResources{
			Message:   "It sounds like someone here may be going through a hard time. You are not alone — support is available.",
			Resources: verdict.Resources,
		},
	})
}

func (r *Room) handleTyping(ev *ClientEvent) {
	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		UserTyping: &TypingEvent{
			RoomId:   r.externalId,
			Username: ev.user.Username,
			IsTyping: ev.Typing.IsTyping,
		},
		SkipClient: ev.client,
	})
}

func (r *Room) handleTick(now time.Time) {
	if r.st.MemberCount() == 0 {
		return
	}
	r.offerBatch(r.detector.OnTick(r.st, now))
	r.maybeProcessTrigger(now)
}

// offerBatch resolves one detector batch before contending for the slot.
// Detectors emit rules in registration order, so within a batch a later
// trigger only displaces the winner on strictly higher priority; the
// batch winner then goes through the slot's usual preemption.
func (r *Room) offerBatch(batch []trigger.Trigger) {
	if len(batch) == 0 {
		return
	}
	best := batch[0]
	for _, t := range batch[1:] {
		r.cs.stats.Incr(StatTriggersFired)
		if t.Priority > best.Priority {
			best = t
		}
	}
	r.offerTrigger(best)
}

func (r *Room) offerTrigger(t trigger.Trigger) {
	r.cs.stats.Incr(StatTriggersFired)
	if !r.slot.Offer(t) {
		r.cs.stats.Incr(StatTriggersDropped)
	}
}

// maybeProcessTrigger starts the provider call for the pending trigger
// unless one is already in flight or the room has emptied. The call runs
// in its own goroutine; event intake continues meanwhile.
func (r *Room) maybeProcessTrigger(now time.Time) {
	if r.inflight || r.slot.Empty() || r.st.MemberCount() == 0 {
		return
	}

	trig, ok := r.slot.Take(r.triggerStale(now))
	if !ok {
		r.cs.stats.Incr(StatTriggersDropped)
		return
	}

	snap := r.st.Snapshot()
	dyn := r.st.ComputeDynamics(now)

	req, err := r.cs.orchestrator.BuildContext(snap, trig, now, dyn)
	if err != nil {
		r.log.Error("build context", zap.String("trigger", trig.Kind.String()), zap.Error(err))
		return
	}

	r.inflight = true
	r.cs.stats.Incr(StatProviderCalls)

	timeout := r.cs.tuning.ProviderTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := r.cs.provider.Complete(ctx, req)
		r.providerRes <- providerResult{trig: trig, resp: resp.Content, err: err}
	}()
}

// triggerStale re-checks a queued trigger's condition when its turn
// arrives, so a stale prompt is dropped rather than spoken.
func (r *Room) triggerStale(now time.Time) func(trigger.Trigger) bool {
	return func(t trigger.Trigger) bool {
		switch t.Kind {
		case trigger.KindSilenceThreshold:
			u, err := r.st.GetUser(t.TargetUser)
			if err != nil {
				return true
			}
			return u.LastMessageTime.After(t.CreatedAt)
		case trigger.KindGroupSilence:
			return r.st.Room().LastHumanMessage.After(t.CreatedAt)
		case trigger.KindConflictDetected:
			return !r.st.ComputeDynamics(now).ConflictFlag
		case trigger.KindNewUserJoined:
			_, err := r.st.GetUser(t.TargetUser)
			return err != nil
		default:
			return false
		}
	}
}

func (r *Room) handleProviderResult(res providerResult) {
	r.inflight = false
	now := Now()

	msg, ok := r.integrator.Apply(r.st, res.trig, res.resp, res.err, now)
	if ok {
		if err := r.cs.repo.CreateMessage(msg); err != nil {
			r.log.Error("persist ai message", zap.Error(err))
		}
		r.broadcast(&ServerEvent{
			BaseEvent:  BaseEvent{Timestamp: now},
			NewMessage: &msg,
		})
	}

	// a trigger queued during the call gets its turn now
	r.maybeProcessTrigger(now)
}

func (r *Room) isDuplicate(userId, content string, now time.Time) bool {
	last, ok := r.lastMsg[userId]
	if !ok {
		return false
	}
	return last.Content == content && now.Sub(last.Timestamp) <= duplicateWindow
}

// archiveUser keeps the context for rejoin and snapshots it to the hot
// cache so a future actor incarnation can resume the session too.
func (r *Room) archiveUser(userId string, now time.Time) {
	r.st.ArchiveUser(userId, now)

	u, ok := r.st.Archived(userId)
	if !ok {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		r.log.Error("marshal archived context", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.cs.cache.SetUserContext(ctx, r.externalId, userId, raw, r.cs.tuning.SessionTTL); err != nil {
		r.log.Warn("cache archived context", zap.Error(err))
	}

	if r.st.MemberCount() == 0 {
		r.log.Info("room empty, starting idle grace", zap.String("room_id", r.externalId))
		r.killTimer.Reset(r.cs.tuning.IdleRoomGrace)
	}
}

func (r *Room) adoptCachedContext(userId string, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := r.cs.cache.GetUserContext(ctx, r.externalId, userId)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			r.log.Warn("load cached context", zap.Error(err))
		}
		return
	}

	var u state.UserContext
	if err := json.Unmarshal(raw, &u); err != nil {
		r.log.Warn("decode cached context", zap.Error(err))
		return
	}
	r.st.Adopt(&u, now)
}

func (r *Room) handleExit(e exitReq) {
	r.log.Info("room exiting", zap.String("room_id", r.externalId))

	if e.deleted {
		r.broadcast(&ServerEvent{
			BaseEvent:  BaseEvent{Timestamp: Now()},
			RoomClosed: &RoomClosed{RoomId: r.externalId},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		close(e.done)
	}
	close(r.done)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}
}

func (r *Room) broadcast(ev *ServerEvent) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == ev.SkipClient {
			continue
		}
		if ev.TargetUser != "" && client.user.Id != ev.TargetUser {
			continue
		}
		client.queueEvent(ev)
	}
}

// newMessageId produces the stable unique id receivers dedup on.
func newMessageId() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}
	return id
}
