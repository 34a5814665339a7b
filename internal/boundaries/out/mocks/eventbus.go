package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// MockEventBus is a mock implementation of out.EventBus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(eventType domain.EventType, payload any) error {
	args := m.Called(eventType, payload)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(handler out.EventHandler) error {
	args := m.Called(handler)
	return args.Error(0)
}

func (m *MockEventBus) Unsubscribe(handler out.EventHandler) error {
	args := m.Called(handler)
	return args.Error(0)
}

func (m *MockEventBus) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockEventBus) Stop() error {
	args := m.Called()
	return args.Error(0)
}
