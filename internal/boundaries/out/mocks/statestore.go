package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
)

// MockStateStore is a mock implementation of out.StateStore
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) SaveInstance(ctx context.Context, rec out.InstanceRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStateStore) LoadInstance(ctx context.Context, name string) (out.InstanceRecord, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(out.InstanceRecord), args.Error(1)
}

func (m *MockStateStore) ListInstances(ctx context.Context) ([]out.InstanceRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]out.InstanceRecord), args.Error(1)
}

func (m *MockStateStore) DeleteInstance(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}
