package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// MockProber is a mock implementation of out.Prober
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, target string) (domain.HealthRecord, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(domain.HealthRecord), args.Error(1)
}
