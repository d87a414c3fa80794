package stats

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockStatsUpdater struct {
	mock.Mock
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
func (m *MockStatsUpdater) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.Called(method, route, status, elapsed)
}
