package store

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/chatrealm/chatrealm/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) GetRoomByExternalId(externalId string) (types.Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockRepository) CreateMessage(msg types.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockRepository) GetMessages(roomId string, before time.Time, limit int) ([]types.Message, error) {
	args := m.Called(roomId, before, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *MockRepository) SaveModerationEvent(ev ModerationEvent) error {
	args := m.Called(ev)
	return args.Error(0)
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
