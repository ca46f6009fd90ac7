package server

import (
	"net/http"
	"time"

	"github.com/chatrealm/chatrealm/internal/types"
)

type BaseEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientEvent is the inbound envelope: exactly one of the pointer fields
// is set. Identity comes from the authenticated connection, never from
// the payload.
type ClientEvent struct {
	BaseEvent
	Join    *JoinRoom    `json:"join_room,omitempty"`
	Message *SendMessage `json:"send_message,omitempty"`
	Leave   *LeaveRoom   `json:"leave_room,omitempty"`
	Typing  *Typing      `json:"typing,omitempty"`

	user   types.User
	client *Client
}

type JoinRoom struct {
	RoomId      string `json:"room_id"`
	AvatarStyle string `json:"avatar_style,omitempty"`
	AvatarColor string `json:"avatar_color,omitempty"`
}

type SendMessage struct {
	RoomId  string `json:"room_id"`
	Message string `json:"message"`
}

type LeaveRoom struct {
	RoomId string `json:"room_id"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// ServerEvent is the outbound envelope broadcast to room clients.
type ServerEvent struct {
	BaseEvent
	Response          *Response          `json:"response,omitempty"`
	NewMessage        *types.Message     `json:"new_message,omitempty"`
	UserJoined        *PresenceEvent     `json:"user_joined,omitempty"`
	UserLeft          *PresenceEvent     `json:"user_left,omitempty"`
	UserTyping        *TypingEvent       `json:"user_typing,omitempty"`
	ModerationWarning *ModerationWarning `json:"moderation_warning,omitempty"`
	UserMuted         *UserMuted         `json:"user_muted,omitempty"`
	UserBanned        *UserBanned        `json:"user_banned,omitempty"`
	CrisisResources   *CrisisResources   `json:"crisis_resources,omitempty"`
	RoomClosed        *RoomClosed        `json:"room_closed,omitempty"`

	SkipClient *Client `json:"-"`
	// TargetUser narrows a broadcast to one user's connections.
	TargetUser string `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type PresenceEvent struct {
	RoomId      string `json:"room_id"`
	UserId      string `json:"user_id"`
	Username    string `json:"username"`
	AvatarStyle string `json:"avatar_style,omitempty"`
	AvatarColor string `json:"avatar_color,omitempty"`
	ActiveUsers int    `json:"active_users"`
}

type TypingEvent struct {
	RoomId   string `json:"room_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ModerationWarning struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type UserMuted struct {
	UserId   string `json:"user_id"`
	Reason   string `json:"reason"`
	Duration int    `json:"duration"`
}

type UserBanned struct {
	UserId string `json:"user_id"`
	Reason string `json:"reason"`
}

type CrisisResources struct {
	Message   string   `json:"message"`
	Resources []string `json:"resources"`
}

type RoomClosed struct {
	RoomId string `json:"room_id"`
}

func NoErrOK(id int, data map[string]any) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{Id: id, Timestamp: Now()},
		Response:  &Response{ResponseCode: http.StatusOK, Data: data},
	}
}

func NoErrAccepted(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{Id: id, Timestamp: Now()},
		Response:  &Response{ResponseCode: http.StatusAccepted},
	}
}

func ErrRoomNotFound(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{Id: id, Timestamp: Now()},
		Response:  &Response{ResponseCode: http.StatusNotFound, Error: "room not found"},
	}
}

func ErrInternalError(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{Id: id, Timestamp: Now()},
		Response:  &Response{ResponseCode: http.StatusInternalServerError, Error: "internal server error"},
	}
}

func ErrServiceUnavailable(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{Id: id, Timestamp: Now()},
		Response:  &Response{ResponseCode: http.StatusServiceUnavailable, Error: "service unavailable"},
	}
}

func ErrInvalidMessage(id int) *ServerEvent {
	msg := &ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		Response:  &Response{ResponseCode: http.StatusBadRequest, Error: "invalid message format"},
	}
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
