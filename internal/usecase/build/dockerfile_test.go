package build

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

func testConfig() Config {
	return Config{
		ImageName:    "aiastra-service",
		SourceDir:    "/src",
		TorchVersion: "2.2.2",
		Packages: []domain.PackageSpec{
			"fastapi==0.110.0",
			"uvicorn[standard]==0.29.0",
		},
		Entry: domain.EntryCommand{Host: "0.0.0.0", Port: 8000, Workers: 2},
	}.WithDefaults()
}

func TestGenerateDockerfileTorchInstalledFirstFromCPUIndex(t *testing.T) {
	df := generateDockerfile(testConfig())

	torchIdx := strings.Index(df, "pip install --user torch==2.2.2 --index-url https://download.pytorch.org/whl/cpu")
	restIdx := strings.Index(df, "fastapi==0.110.0")
	require.Greater(t, torchIdx, 0)
	require.Greater(t, restIdx, 0)
	assert.Less(t, torchIdx, restIdx, "pinned torch must install before the rest")
}

func TestGenerateDockerfileRuntimeStageCarriesNoToolchain(t *testing.T) {
	df := generateDockerfile(testConfig())

	stages := strings.Split(df, "\nFROM ")
	require.Len(t, stages, 2)
	runtimeStage := stages[1]

	assert.NotContains(t, runtimeStage, "build-essential")
	assert.NotContains(t, runtimeStage, "pip install")
	assert.Contains(t, runtimeStage, "libgomp1")
	assert.Contains(t, runtimeStage, "COPY --from=builder --chown=1001:1001 /root/.local /home/appuser/.local")
}

func TestGenerateDockerfileNonRootExecution(t *testing.T) {
	df := generateDockerfile(testConfig())

	userIdx := strings.Index(df, "USER appuser")
	cmdIdx := strings.Index(df, "CMD [")
	require.Greater(t, userIdx, 0)
	require.Greater(t, cmdIdx, 0)
	assert.Less(t, userIdx, cmdIdx, "identity drop must precede the entry command")

	// No privileged step after the identity drop.
	afterUser := df[userIdx:]
	assert.NotContains(t, afterUser, "apt-get")
	assert.NotContains(t, afterUser, "useradd")
}

func TestGenerateDockerfileEntryContract(t *testing.T) {
	df := generateDockerfile(testConfig())

	assert.Contains(t, df, "EXPOSE 8000")
	assert.Contains(t, df, `CMD ["uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000", "--workers", "2"]`)
}

func TestConfigValidateRejectsBuildToolingInRuntime(t *testing.T) {
	cfg := testConfig()
	cfg.RuntimeLibs = []string{"libgomp1", "gcc"}

	err := cfg.Validate()
	assert.ErrorIs(t, err, domain.ErrBuildToolingLeak)
}

func TestConfigValidateRequiresPinnedTorch(t *testing.T) {
	cfg := testConfig()
	cfg.TorchVersion = ""

	err := cfg.Validate()
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
