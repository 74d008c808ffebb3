package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slipway-sh/slipway/internal/bootstrap"
	"github.com/slipway-sh/slipway/internal/config"
)

// Dockerfile renders the build recipe in contract stage order: pinned base,
// manifest copy plus one combined toolchain-and-dependency layer, source
// copy, environment declaration, port metadata, startup command. The
// ordering is what keeps a source edit from invalidating the dependency
// layer.
func Dockerfile(p *config.Project, manifestCtxPath string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n\n", p.BaseImage)
	b.WriteString("WORKDIR /app\n\n")

	// Dependency stage. Build tools live in the same RUN as dependency
	// resolution: installing them later would sit after the cache boundary
	// and re-run on every source edit.
	fmt.Fprintf(&b, "COPY %s %s\n", manifestCtxPath, manifestCtxPath)
	var run []string
	if len(p.BuildPackages) > 0 {
		run = append(run,
			"apt-get update",
			fmt.Sprintf("apt-get install -y --no-install-recommends %s", strings.Join(p.BuildPackages, " ")),
		)
	}
	run = append(run, fmt.Sprintf("pip install --no-cache-dir -r %s", manifestCtxPath))
	fmt.Fprintf(&b, "RUN %s\n\n", strings.Join(run, " && \\\n    "))

	// Source stage.
	b.WriteString("COPY . .\n\n")

	// Runtime declaration stage.
	env := bootstrapEnv(p)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "ENV %s=%q\n", k, env[k])
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "EXPOSE %d\n\n", p.Expose)

	cmd := p.Command
	if len(cmd) == 0 {
		cmd = []string{entrypointFile(p.Entrypoint)}
	}
	fmt.Fprintf(&b, "CMD [%s]\n", quoteJSONArray(cmd))

	return b.String()
}

// bootstrapEnv merges the contract declaration with the project's verbatim
// app variables. Contract keys win so the recognized surface stays in
// charge of the bootstrapped process.
func bootstrapEnv(p *config.Project) map[string]string {
	contract := bootstrap.FromProject(p)
	env := make(map[string]string, len(p.Env)+5)
	for k, v := range p.Env {
		env[k] = v
	}
	for k, v := range contract.Env() {
		env[k] = v
	}
	return env
}

func entrypointFile(entrypoint string) string {
	if i := strings.Index(entrypoint, ":"); i >= 0 {
		return entrypoint[:i]
	}
	return entrypoint
}

func quoteJSONArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
