package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater is the testify mock of StatsProvider.
type MockStatsUpdater struct {
	mock.Mock
}

// NewNoopStats returns a mock that accepts any metric traffic, for tests
// that only care about specific AssertCalled checks (or none at all).
func NewNoopStats() *MockStatsUpdater {
	m := &MockStatsUpdater{}
	m.On("RegisterMetric", mock.Anything).Maybe()
	m.On("Incr", mock.Anything).Maybe()
	m.On("Decr", mock.Anything).Maybe()
	m.On("Run").Maybe()
	return m
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}
