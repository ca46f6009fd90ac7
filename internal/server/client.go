package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatrealm/chatrealm/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection for one authenticated user. A user
// may hold several clients (tabs, devices); rooms track them per user.
type Client struct {
	conn       *websocket.Conn
	dispatcher *Dispatcher
	log        *zap.Logger
	user       types.User
	send       chan *ServerEvent
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *Dispatcher, l *zap.Logger) *Client {
	return &Client{
		conn:       conn,
		dispatcher: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerEvent, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			raw, err := json.Marshal(ev)
			if err != nil {
				c.log.Error("serialize event", zap.Error(err))
				continue
			}

			if !c.writeMessage(websocket.TextMessage, raw) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("ws read", zap.String("user", c.user.Username), zap.Error(err))
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.queueEvent(ErrInvalidMessage(-1))
			continue
		}

		ev.client = c
		ev.user = c.user
		ev.Timestamp = Now()

		switch {
		case ev.Join != nil:
			c.joinRoom(&ev)
		case ev.Leave != nil:
			c.routeToRoom(ev.Leave.RoomId, &ev)
		case ev.Message != nil:
			c.routeToRoom(ev.Message.RoomId, &ev)
		case ev.Typing != nil:
			c.routeToRoom(ev.Typing.RoomId, &ev)
		default:
			c.queueEvent(ErrInvalidMessage(ev.Id))
		}
	}
}

func (c *Client) joinRoom(ev *ClientEvent) {
	select {
	case c.dispatcher.joinChan <- ev:
	default:
		c.log.Warn("join channel full")
		c.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

func (c *Client) routeToRoom(roomId string, ev *ClientEvent) {
	r := c.getRoom(roomId)
	if r == nil {
		c.queueEvent(ErrRoomNotFound(ev.Id))
		return
	}

	select {
	case r.events <- ev:
	default:
		c.log.Warn("event channel full", zap.String("room_id", roomId))
		c.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
		return true
	default:
		c.log.Warn("client send buffer full", zap.String("user", c.user.Username))
		return false
	}
}

func (c *Client) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			c.log.Warn("ws write", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	// the dispatcher may already have exited during shutdown
	select {
	case c.dispatcher.DeregisterChan <- c:
	case <-c.dispatcher.done:
	}
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		ev := &ClientEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			Leave:     &LeaveRoom{RoomId: room.externalId},
			user:      c.user,
			client:    c,
		}
		select {
		case room.events <- ev:
		default:
			c.log.Warn("leave dropped, event channel full", zap.String("room_id", room.externalId))
		}
	}
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	c.rooms[r.externalId] = r
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	delete(c.rooms, id)
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()
	return c.rooms[id]
}
