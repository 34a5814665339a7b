package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// MockContainerRuntime is a mock implementation of out.ContainerRuntime
type MockContainerRuntime struct {
	mock.Mock
}

func (m *MockContainerRuntime) CreateContainer(ctx context.Context, config *domain.ContainerConfig) (*domain.Container, error) {
	args := m.Called(ctx, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) StartContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) StopContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	args := m.Called(ctx, containerID, force)
	return args.Error(0)
}

func (m *MockContainerRuntime) InspectContainer(ctx context.Context, containerID string) (*domain.Container, error) {
	args := m.Called(ctx, containerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) ListContainers(ctx context.Context, all bool) ([]*domain.Container, error) {
	args := m.Called(ctx, all)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) GetContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, tail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockContainerRuntime) BuildImage(ctx context.Context, req out.ImageBuildRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockContainerRuntime) TagImage(ctx context.Context, sourceRef, targetRef string) error {
	args := m.Called(ctx, sourceRef, targetRef)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveImage(ctx context.Context, imageRef string, force bool) error {
	args := m.Called(ctx, imageRef, force)
	return args.Error(0)
}

func (m *MockContainerRuntime) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	args := m.Called(ctx, imageRef)
	return args.Bool(0), args.Error(1)
}

func (m *MockContainerRuntime) InspectImageEnv(ctx context.Context, imageRef string) ([]string, error) {
	args := m.Called(ctx, imageRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockContainerRuntime) InspectImageUser(ctx context.Context, imageRef string) (string, error) {
	args := m.Called(ctx, imageRef)
	return args.String(0), args.Error(1)
}

func (m *MockContainerRuntime) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
