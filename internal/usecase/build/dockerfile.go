package build

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// builderStageName is the Dockerfile target for the dependency stage.
const builderStageName = "builder"

// generateDockerfile renders the two-stage build recipe. The builder stage
// owns the compiler toolchain and installs every dependency into a
// relocatable per-user prefix; the runtime stage copies that prefix and the
// sources onto a minimal base and nothing else.
func generateDockerfile(cfg Config) string {
	var b strings.Builder

	// Stage 1: dependency build. The large CPU-only package is installed
	// first and pinned against its own index so no GPU-targeted binaries
	// are ever resolved.
	fmt.Fprintf(&b, "FROM %s AS %s\n", cfg.BuilderBase, builderStageName)
	b.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends build-essential && rm -rf /var/lib/apt/lists/*\n")
	b.WriteString("ENV PIP_NO_CACHE_DIR=1 PIP_DISABLE_PIP_VERSION_CHECK=1\n")
	fmt.Fprintf(&b, "RUN pip install --user torch==%s --index-url %s\n", cfg.TorchVersion, cfg.TorchIndexURL)
	if len(cfg.Packages) > 0 {
		fmt.Fprintf(&b, "RUN pip install --user %s\n", strings.Join(quoteSpecs(cfg.Packages), " "))
	}

	// Stage 2: runtime assembly. Only the shared libraries the numeric
	// stack needs at runtime are installed; the toolchain never crosses
	// the stage boundary.
	id := cfg.Identity
	fmt.Fprintf(&b, "\nFROM %s\n", cfg.RuntimeBase)
	if len(cfg.RuntimeLibs) > 0 {
		fmt.Fprintf(&b, "RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*\n",
			strings.Join(cfg.RuntimeLibs, " "))
	}
	fmt.Fprintf(&b, "RUN groupadd -g %d %s && useradd -m -u %d -g %d %s\n", id.GID, id.User, id.UID, id.GID, id.User)
	fmt.Fprintf(&b, "WORKDIR %s/app\n", id.Home)
	fmt.Fprintf(&b, "COPY --from=%s --chown=%d:%d /root/.local %s/.local\n", builderStageName, id.UID, id.GID, id.Home)
	fmt.Fprintf(&b, "COPY --chown=%d:%d . .\n", id.UID, id.GID)

	// Everything past this line runs as the non-privileged identity.
	fmt.Fprintf(&b, "USER %s\n", id.User)
	fmt.Fprintf(&b, "ENV PATH=%s/.local/bin:$PATH\n", id.Home)
	fmt.Fprintf(&b, "EXPOSE %d\n", cfg.Entry.Port)
	fmt.Fprintf(&b, "CMD %s\n", jsonArray(entryCommand(cfg)))

	return b.String()
}

// entryCommand is the fixed application server contract: host, port and
// worker count are the only knobs.
func entryCommand(cfg Config) []string {
	return []string{
		"uvicorn", cfg.AppModule,
		"--host", cfg.Entry.Host,
		"--port", strconv.Itoa(cfg.Entry.Port),
		"--workers", strconv.Itoa(cfg.Entry.Workers),
	}
}

func quoteSpecs(specs []domain.PackageSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = "'" + string(s) + "'"
	}
	return out
}

func jsonArray(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = `"` + item + `"`
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
