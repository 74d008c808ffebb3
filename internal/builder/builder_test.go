package builder

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/slipway-sh/slipway/internal/buildcache"
	"github.com/slipway-sh/slipway/internal/config"
	"github.com/slipway-sh/slipway/internal/engine"
)

// fakeEngine records build invocations and captures the generated recipe
// and context contents before the builder cleans them up.
type fakeEngine struct {
	builds       int
	buildErr     error
	dockerfile   string
	contextFiles []string
	imageGone    bool
}

func (f *fakeEngine) BuildImage(_ context.Context, contextDir, dockerfile, _ string, _ io.Writer) error {
	f.builds++
	data, err := os.ReadFile(filepath.Join(contextDir, dockerfile))
	if err != nil {
		return err
	}
	f.dockerfile = string(data)

	f.contextFiles = nil
	filepath.WalkDir(contextDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(contextDir, path)
		f.contextFiles = append(f.contextFiles, filepath.ToSlash(rel))
		return nil
	})
	return f.buildErr
}

func (f *fakeEngine) ImageExists(context.Context, string) (bool, error) {
	return f.builds > 0 && !f.imageGone, nil
}

func (f *fakeEngine) CreateContainer(context.Context, engine.CreateOptions) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeEngine) StartContainer(context.Context, string) error { return nil }
func (f *fakeEngine) StopContainer(context.Context, string, time.Duration) error {
	return nil
}
func (f *fakeEngine) RemoveContainer(context.Context, string, bool) error { return nil }
func (f *fakeEngine) WaitContainer(context.Context, string) (int64, error) {
	return 0, nil
}
func (f *fakeEngine) ContainerRunning(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeEngine) ContainerLogs(context.Context, string, bool) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEngine) ListContainers(context.Context, string) ([]engine.ContainerInfo, error) {
	return nil, nil
}

func (f *fakeEngine) hasContextFile(name string) bool {
	for _, file := range f.contextFiles {
		if file == name {
			return true
		}
	}
	return false
}

func testProject(t *testing.T) *config.Project {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"requirements.txt": "flask==2.3.2\n",
		"app.py":           "print('serving')\n",
		"library.db":       "pre-populated state",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s failed: %v", name, err)
		}
	}

	return &config.Project{
		Name:                  "library",
		BaseImage:             "python:3.11-slim",
		Manifest:              filepath.Join(dir, "requirements.txt"),
		Source:                dir,
		BuildPackages:         []string{"gcc"},
		Entrypoint:            "app.py",
		RuntimeMode:           "production",
		BindHost:              "0.0.0.0",
		BindPort:              5000,
		Unbuffered:            true,
		Expose:                5000,
		StateFile:             "library.db",
		StateMount:            "/data",
		StopGraceSeconds:      10,
		StartupTimeoutSeconds: 30,
	}
}

func testBuilder(t *testing.T) (*Builder, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	return &Builder{
		Engine: eng,
		Cache:  buildcache.NewLocalStore(t.TempDir()),
		Logger: log.New(io.Discard),
	}, eng
}

func TestBuildThenRebuildIsNoop(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	res, err := b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !res.Rebuilt || eng.builds != 1 {
		t.Fatalf("Expected first build to run the engine, rebuilt=%v builds=%d", res.Rebuilt, eng.builds)
	}

	res, err = b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Second build failed: %v", err)
	}
	if res.Rebuilt || eng.builds != 1 {
		t.Errorf("Expected unchanged inputs to skip the engine, rebuilt=%v builds=%d", res.Rebuilt, eng.builds)
	}
}

func TestSourceEditKeepsDepsStageCached(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(p.Source, "app.py"), []byte("print('v2')\n"), 0o644); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	res, err := b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Build after edit failed: %v", err)
	}
	if !res.Rebuilt || eng.builds != 2 {
		t.Fatalf("Expected source edit to trigger a rebuild, builds=%d", eng.builds)
	}

	hits := map[buildcache.Stage]bool{}
	for _, st := range res.Plan {
		hits[st.Stage] = st.Hit
	}
	if !hits[buildcache.StageBase] || !hits[buildcache.StageDeps] {
		t.Error("Expected base and deps stages to stay cached across a source-only edit")
	}
	if hits[buildcache.StageSource] {
		t.Error("Expected source stage to be stale after a source edit")
	}
}

func TestManifestEditInvalidatesDeps(t *testing.T) {
	ctx := context.Background()
	b, _ := testBuilder(t)
	p := testProject(t)

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := os.WriteFile(p.Manifest, []byte("flask==2.3.3\n"), 0o644); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	res, err := b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Build after manifest edit failed: %v", err)
	}
	for _, st := range res.Plan {
		if st.Stage != buildcache.StageBase && st.Hit {
			t.Errorf("Expected stage %s stale after manifest edit", st.Stage)
		}
	}
}

func TestFailedBuildRecordsNothing(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	eng.buildErr = errors.New("step 4/7 failed: unresolvable dependency")
	if _, err := b.Build(ctx, p, Options{}); err == nil {
		t.Fatal("Expected build error to propagate")
	}

	// The failed attempt must not have marked any stage reusable.
	eng.buildErr = nil
	res, err := b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Retry build failed: %v", err)
	}
	if !res.Rebuilt {
		t.Error("Expected retry to rebuild after a failed attempt")
	}
	for _, st := range res.Plan {
		if st.Hit {
			t.Errorf("Expected stage %s stale after failed build, got hit", st.Stage)
		}
	}
}

func TestMalformedManifestNeverReachesEngine(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	if err := os.WriteFile(p.Manifest, []byte("==broken\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := b.Build(ctx, p, Options{}); err == nil {
		t.Fatal("Expected malformed manifest to fail the build")
	}
	if eng.builds != 0 {
		t.Errorf("Expected engine to never run, got %d builds", eng.builds)
	}
}

func TestNoCacheForcesRebuild(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := b.Build(ctx, p, Options{NoCache: true})
	if err != nil {
		t.Fatalf("NoCache build failed: %v", err)
	}
	if !res.Rebuilt || eng.builds != 2 {
		t.Errorf("Expected --no-cache to force a rebuild, builds=%d", eng.builds)
	}
}

func TestMissingImageForcesRebuild(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Cache keys still vouch for the inputs, but the tag was pruned from the
	// engine (docker rmi). The build must notice and rebuild.
	eng.imageGone = true
	res, err := b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Build after image removal failed: %v", err)
	}
	if !res.Rebuilt || eng.builds != 2 {
		t.Errorf("Expected missing image to force a rebuild, rebuilt=%v builds=%d", res.Rebuilt, eng.builds)
	}
}

func TestExternalizedStateFileStaysOutOfContext(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if eng.hasContextFile("library.db") {
		t.Error("Expected externalized state file to stay out of the build context")
	}
	if !eng.hasContextFile("app.py") {
		t.Error("Expected source file in the build context")
	}
}

func TestBundledStateFileShipsInContext(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)
	p.BundleState = true

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !eng.hasContextFile("library.db") {
		t.Error("Expected bundled state file in the build context")
	}
}

func TestStateFileMutationDoesNotRebuild(t *testing.T) {
	ctx := context.Background()
	b, eng := testBuilder(t)
	p := testProject(t)

	if _, err := b.Build(ctx, p, Options{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Runtime writes to the externalized database must not dirty the build.
	if err := os.WriteFile(filepath.Join(p.Source, "library.db"), []byte("mutated"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	res, err := b.Build(ctx, p, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Rebuilt || eng.builds != 1 {
		t.Errorf("Expected state mutation to be invisible to the build, builds=%d", eng.builds)
	}
}
