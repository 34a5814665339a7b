package build

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/out/mocks"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

func newTestService(t *testing.T, runtime *mocks.MockContainerRuntime) *Service {
	t.Helper()

	cfg := testConfig()
	cfg.SourceDir = t.TempDir()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything).Return(nil)

	svc, err := NewService(cfg, runtime, bus, nil, zerowrap.Default())
	require.NoError(t, err)
	return svc
}

func TestBuildStagesTargetsBuilderStage(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	runtime.On("BuildImage", mock.Anything, mock.MatchedBy(func(req out.ImageBuildRequest) bool {
		return req.Target == "builder" && len(req.Tags) == 1
	})).Return("sha256:stage", nil)

	svc := newTestService(t, runtime)

	stages, err := svc.BuildStages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, stages, 1)

	assert.Equal(t, 1, stages[0].Ordinal)
	assert.Equal(t, "sha256:stage", stages[0].ImageID)
	assert.Contains(t, stages[0].Tag, ":stage-")
	assert.Equal(t, domain.PackageSpec("torch==2.2.2"), stages[0].Packages[0], "pinned package leads the install order")
	runtime.AssertExpectations(t)
}

func TestBuildStagesFailureDiscardsStageTag(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	runtime.On("BuildImage", mock.Anything, mock.Anything).
		Return("", errors.New("ERROR: No matching distribution found for torch==9.9.9"))
	runtime.On("RemoveImage", mock.Anything, mock.Anything, true).Return(nil)

	svc := newTestService(t, runtime)

	_, err := svc.BuildStages(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDependencyConflict)
	runtime.AssertCalled(t, "RemoveImage", mock.Anything, mock.Anything, true)

	stages, err := svc.Stages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stages, "failed builds leave no stage behind")
}

func TestAssembleRequiresCompletedStage(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	svc := newTestService(t, runtime)

	_, err := svc.Assemble(context.Background(), "20240811-143502")
	assert.ErrorIs(t, err, domain.ErrStageNotBuilt)
	runtime.AssertNotCalled(t, "BuildImage", mock.Anything, mock.Anything)
}

func TestRunBuildsStageThenRuntime(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	runtime.On("BuildImage", mock.Anything, mock.MatchedBy(func(req out.ImageBuildRequest) bool {
		return req.Target == "builder"
	})).Return("sha256:stage", nil).Once()
	runtime.On("BuildImage", mock.Anything, mock.MatchedBy(func(req out.ImageBuildRequest) bool {
		return req.Target == ""
	})).Return("sha256:runtime", nil).Once()
	runtime.On("ImageExists", mock.Anything, mock.Anything).Return(true, nil)
	runtime.On("InspectImageUser", mock.Anything, mock.Anything).Return("appuser", nil)
	runtime.On("InspectImageEnv", mock.Anything, mock.Anything).
		Return([]string{"PATH=/home/appuser/.local/bin:/usr/local/bin:/usr/bin"}, nil)
	runtime.On("TagImage", mock.Anything, mock.Anything, "aiastra-service:latest").Return(nil)

	svc := newTestService(t, runtime)

	img, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sha256:runtime", img.ImageID)
	assert.Equal(t, "sha256:stage", img.Stage.ImageID)
	assert.Equal(t, img.Version, img.Stage.Version, "runtime image and stage share one version")
	assert.Equal(t, 8000, img.Port)
	assert.Equal(t, "appuser", img.Identity.User)
	assert.Equal(t, "/health", img.ProbePath)
	runtime.AssertCalled(t, "TagImage", mock.Anything, img.Ref, "aiastra-service:latest")
	runtime.AssertExpectations(t)
}

func TestAssembleRejectsRootRuntimeImage(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	runtime.On("BuildImage", mock.Anything, mock.Anything).Return("sha256:img", nil)
	runtime.On("ImageExists", mock.Anything, mock.Anything).Return(true, nil)
	runtime.On("InspectImageUser", mock.Anything, mock.Anything).Return("root", nil)
	runtime.On("RemoveImage", mock.Anything, mock.Anything, true).Return(nil)

	svc := newTestService(t, runtime)

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRootRuntime)
	runtime.AssertNotCalled(t, "TagImage", mock.Anything, mock.Anything, mock.Anything)
	// A root image is never promoted; the tag is discarded.
	runtime.AssertCalled(t, "RemoveImage", mock.Anything, mock.Anything, true)
}

func TestAssembleFailsWhenStageImageGone(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	runtime.On("BuildImage", mock.Anything, mock.MatchedBy(func(req out.ImageBuildRequest) bool {
		return req.Target == "builder"
	})).Return("sha256:stage", nil).Once()
	// Pruned between the stage build and the assembly.
	runtime.On("ImageExists", mock.Anything, mock.Anything).Return(false, nil)

	svc := newTestService(t, runtime)

	stages, err := svc.BuildStages(context.Background(), nil)
	require.NoError(t, err)

	_, err = svc.Assemble(context.Background(), stages[0].Version)
	assert.ErrorIs(t, err, domain.ErrStageNotBuilt)
	runtime.AssertNumberOfCalls(t, "BuildImage", 1)
}

func TestRunAbortsBeforeAssemblyOnStageFailure(t *testing.T) {
	runtime := &mocks.MockContainerRuntime{}
	runtime.On("BuildImage", mock.Anything, mock.MatchedBy(func(req out.ImageBuildRequest) bool {
		return req.Target == "builder"
	})).Return("", errors.New("connection reset by peer"))
	runtime.On("RemoveImage", mock.Anything, mock.Anything, true).Return(nil)

	svc := newTestService(t, runtime)

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetchFailure)
	runtime.AssertNumberOfCalls(t, "BuildImage", 1)
}

func TestClassifyBuildError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"resolver conflict", "ERROR: ResolutionImpossible: for help visit ...", domain.ErrDependencyConflict},
		{"no candidate", "Could not find a version that satisfies the requirement", domain.ErrDependencyConflict},
		{"network", "ReadTimeoutError: HTTPSConnectionPool timed out", domain.ErrFetchFailure},
		{"dns", "Temporary failure in name resolution", domain.ErrFetchFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyBuildError(errors.New(tt.msg))
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
