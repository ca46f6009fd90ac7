// Package store holds the persistence collaborators: the relational
// repository for durable history and the hot cache for context
// snapshots. The core depends only on these interfaces, never on the
// backing schema.
package store

import (
	"errors"
	"time"

	"github.com/chatrealm/chatrealm/internal/types"
)

var ErrNotFound = errors.New("store: not found")

// ModerationEvent is the durable audit record for a verdict.
type ModerationEvent struct {
	Id       string
	RoomId   string
	UserId   string
	Action   string
	Severity string
	Reason   string
	Message  string
	At       time.Time
}

type Repository interface {
	Ping() error
	GetRoomByExternalId(externalId string) (types.Room, error)
	CreateMessage(msg types.Message) error
	GetMessages(roomId string, before time.Time, limit int) ([]types.Message, error)
	SaveModerationEvent(ev ModerationEvent) error
	Close() error
}
