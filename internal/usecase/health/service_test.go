package health

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/filesystem"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/out/mocks"
	"github.com/appayureze-cloud/aiastra/internal/domain"
	"github.com/appayureze-cloud/aiastra/internal/usecase/supervise"
)

func newSupervisorWithInstance(t *testing.T, prober *mocks.MockProber) *supervise.Service {
	t.Helper()

	runtime := &mocks.MockContainerRuntime{}
	runtime.On("CreateContainer", mock.Anything, mock.Anything).
		Return(&domain.Container{ID: "c1", State: "running"}, nil)
	runtime.On("StartContainer", mock.Anything, "c1").Return(nil)
	runtime.On("InspectContainer", mock.Anything, "c1").
		Return(&domain.Container{ID: "c1", State: "running"}, nil)

	store, err := filesystem.NewStateStore(t.TempDir(), zerowrap.Default())
	require.NoError(t, err)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)

	svc := supervise.NewService(supervise.Config{
		ProbeInterval: time.Hour, // keep the loop quiet during the test
		BackendPort:   18000,
		StartDelay:    time.Minute,
	}, runtime, prober, store, bus, nil, zerowrap.Default())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	_, err = svc.Deploy(context.Background(), "inference", "aiastra-service:v1")
	require.NoError(t, err)
	return svc
}

func TestCheckProbesInstanceTarget(t *testing.T) {
	prober := &mocks.MockProber{}
	prober.On("Probe", mock.Anything, "http://127.0.0.1:18000/health").
		Return(domain.HealthRecord{Success: true, Readiness: domain.ReadinessReady}, nil)

	supervisor := newSupervisorWithInstance(t, prober)
	svc := NewService(supervisor, prober, zerowrap.Default())

	rec, err := svc.Check(context.Background(), "inference")
	require.NoError(t, err)
	assert.Equal(t, domain.ReadinessReady, rec.Readiness)
	prober.AssertExpectations(t)
}

func TestCheckUnknownInstance(t *testing.T) {
	prober := &mocks.MockProber{}
	supervisor := newSupervisorWithInstance(t, prober)
	svc := NewService(supervisor, prober, zerowrap.Default())

	_, err := svc.Check(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	prober.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestLastKnownReturnsSupervisedWindow(t *testing.T) {
	prober := &mocks.MockProber{}
	supervisor := newSupervisorWithInstance(t, prober)
	svc := NewService(supervisor, prober, zerowrap.Default())

	records, err := svc.LastKnown(context.Background(), "inference")
	require.NoError(t, err)
	assert.Empty(t, records, "no supervised probes have run yet")
}
