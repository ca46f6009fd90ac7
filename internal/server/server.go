package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatrealm/chatrealm/internal/config"
	"github.com/chatrealm/chatrealm/internal/moderation"
	"github.com/chatrealm/chatrealm/internal/prompt"
	"github.com/chatrealm/chatrealm/internal/provider"
	"github.com/chatrealm/chatrealm/internal/sentiment"
	"github.com/chatrealm/chatrealm/internal/state"
	"github.com/chatrealm/chatrealm/internal/stats"
	"github.com/chatrealm/chatrealm/internal/store"
	"github.com/chatrealm/chatrealm/internal/trigger"
	"github.com/chatrealm/chatrealm/internal/types"
)

type StatsProvider = stats.StatsProvider

// Metric names registered by the dispatcher.
const (
	StatActiveRooms          = "ActiveRooms"
	StatActiveClients        = "ActiveClients"
	StatTriggersFired        = "TriggersFired"
	StatTriggersDropped      = "TriggersDropped"
	StatProviderCalls        = "ProviderCalls"
	StatProviderErrors       = "ProviderErrors"
	StatDuplicatesSuppressed = "DuplicatesSuppressed"
	StatVerdictWarn          = "VerdictWarn"
	StatVerdictMute          = "VerdictMute"
	StatVerdictBan           = "VerdictBan"
	StatVerdictCrisis        = "VerdictCrisis"
)

type unloadRoomRequest struct {
	roomId string
}

// Dispatcher owns the room id → actor mapping. Actors are created
// lazily on first join and retired after the idle grace; everything a
// room needs is threaded through here.
type Dispatcher struct {
	log          *zap.Logger
	repo         store.Repository
	cache        store.ContextCache
	stats        StatsProvider
	analyzer     sentiment.Analyzer
	orchestrator *prompt.Orchestrator
	provider     provider.CompletionProvider
	tuning       config.Tuning

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	rooms          map[string]*Room
	joinChan       chan *ClientEvent
	unloadRoomChan chan unloadRoomRequest
	RegisterChan   chan *Client
	DeregisterChan chan *Client

	stop chan struct{}
	done chan struct{}
}

type Deps struct {
	Log          *zap.Logger
	Repo         store.Repository
	Cache        store.ContextCache
	Stats        StatsProvider
	Analyzer     sentiment.Analyzer
	Orchestrator *prompt.Orchestrator
	Provider     provider.CompletionProvider
	Tuning       config.Tuning
}

func NewDispatcher(d Deps) (*Dispatcher, error) {
	if d.Repo == nil || d.Cache == nil || d.Provider == nil || d.Orchestrator == nil {
		return nil, errors.New("dispatcher: missing collaborator")
	}
	if d.Analyzer == nil {
		d.Analyzer = sentiment.NewKeywordAnalyzer()
	}

	cs := &Dispatcher{
		log:            d.Log,
		repo:           d.Repo,
		cache:          d.Cache,
		stats:          d.Stats,
		analyzer:       d.Analyzer,
		orchestrator:   d.Orchestrator,
		provider:       d.Provider,
		tuning:         d.Tuning,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *ClientEvent, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		RegisterChan:   make(chan *Client),
		DeregisterChan: make(chan *Client),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, name := range []string{
		StatActiveRooms, StatActiveClients,
		StatTriggersFired, StatTriggersDropped,
		StatProviderCalls, StatProviderErrors,
		StatDuplicatesSuppressed,
		StatVerdictWarn, StatVerdictMute, StatVerdictBan, StatVerdictCrisis,
	} {
		cs.stats.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *Dispatcher) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.RegisterChan:
			cs.addClient(client)
			cs.stats.Incr(StatActiveClients)
		case client := <-cs.DeregisterChan:
			cs.removeClient(client)
			cs.stats.Decr(StatActiveClients)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId)
		case <-cs.stop:
			cs.log.Info("shutting down rooms", zap.Int("count", len(cs.rooms)))
			var g errgroup.Group
			for _, r := range cs.rooms {
				close(r.exit)
				g.Go(func() error {
					<-r.done
					return nil
				})
			}
			g.Wait()
			close(cs.done)
			return
		}
	}
}

func (cs *Dispatcher) handleJoin(joinMsg *ClientEvent) {
	roomId := joinMsg.Join.RoomId

	if room, ok := cs.rooms[roomId]; ok {
		select {
		case room.events <- joinMsg:
		default:
			cs.log.Warn("event channel full", zap.String("room_id", roomId))
			joinMsg.client.queueEvent(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	room, err := cs.activateRoom(roomId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			joinMsg.client.queueEvent(ErrRoomNotFound(joinMsg.Id))
			return
		}
		cs.log.Error("room activation failed", zap.String("room_id", roomId), zap.Error(err))
		joinMsg.client.queueEvent(ErrInternalError(joinMsg.Id))
		return
	}

	cs.rooms[roomId] = room
	cs.stats.Incr(StatActiveRooms)
	go room.start()
	room.events <- joinMsg
}

// activateRoom builds the actor for a room row. A room type without a
// configured persona is a deployment defect and fails activation.
func (cs *Dispatcher) activateRoom(externalId string) (*Room, error) {
	dbRoom, err := cs.repo.GetRoomByExternalId(externalId)
	if err != nil {
		return nil, err
	}

	persona, err := cs.orchestrator.Persona(dbRoom.Type)
	if err != nil {
		return nil, fmt.Errorf("activate room %q: %w", externalId, err)
	}

	st := state.NewStore(dbRoom.ExternalId, dbRoom.Type, persona.Name, state.Limits{
		HistoryLimit:      cs.tuning.HistoryLimit,
		QuietUserWindow:   cs.tuning.QuietUserWindow,
		QuietUserMessages: cs.tuning.QuietUserMessages,
	})

	room := &Room{
		id:          dbRoom.Id,
		externalId:  dbRoom.ExternalId,
		roomType:    dbRoom.Type,
		personaName: persona.Name,
		cs:          cs,
		events:      make(chan *ClientEvent, 256),
		providerRes: make(chan providerResult, 1),
		exit:        make(chan exitReq),
		done:        make(chan struct{}),
		st:          st,
		detector: trigger.NewDetector(persona.Name, trigger.Config{
			UserSilenceThreshold:  cs.tuning.UserSilenceThreshold,
			GroupSilenceThreshold: cs.tuning.GroupSilenceThreshold,
			TopicStaleMessages:    cs.tuning.TopicStaleMessages,
		}),
		pipeline: moderation.NewPipeline(cs.log, moderation.Config{
			MuteDuration:    cs.tuning.MuteDuration,
			WarnsBeforeMute: cs.tuning.WarnsBeforeMute,
			MutesBeforeBan:  cs.tuning.MutesBeforeBan,
			OffenseWindow:   cs.tuning.OffenseWindow,
		}),
		integrator: NewIntegrator(persona.Name, cs.tuning.FallbackReply, cs.stats, cs.log),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[string]map[*Client]struct{}),
		lastMsg:    make(map[string]types.Message),
		log:        cs.log,
	}

	return room, nil
}

func (cs *Dispatcher) unloadRoom(roomId string) {
	r, ok := cs.rooms[roomId]
	if !ok {
		return
	}

	delete(cs.rooms, roomId)
	cs.stats.Decr(StatActiveRooms)

	done := make(chan struct{})
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *Dispatcher) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *Dispatcher) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *Dispatcher) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
