package buildcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stage identifies one layer of the build contract. Stages are ordered;
// each stage's key folds in the previous stage's key, so invalidating a
// stage structurally invalidates everything after it.
type Stage string

const (
	StageBase    Stage = "base"    // base runtime image reference
	StageDeps    Stage = "deps"    // toolchain install + dependency resolution
	StageSource  Stage = "source"  // source tree copy
	StageRuntime Stage = "runtime" // env declaration, port metadata, startup command
)

// Order is the build-contract stage sequence.
var Order = []Stage{StageBase, StageDeps, StageSource, StageRuntime}

// ErrNoKey is returned by a Store when no key is recorded for a stage.
var ErrNoKey = errors.New("no cache key recorded")

// Inputs are the declared inputs of each build stage.
type Inputs struct {
	BaseImage         string
	ManifestCanonical []byte
	BuildPackages     []string
	SourceHash        string
	Env               map[string]string
	ExposePort        int
	Command           []string
}

// Keys computes the chained content-hash key of every stage.
func Keys(in Inputs) map[Stage]string {
	keys := make(map[Stage]string, len(Order))

	keys[StageBase] = digest("base", in.BaseImage)

	pkgs := append([]string(nil), in.BuildPackages...)
	sort.Strings(pkgs)
	keys[StageDeps] = digest("deps",
		keys[StageBase],
		string(in.ManifestCanonical),
		strings.Join(pkgs, "\x00"),
	)

	keys[StageSource] = digest("source", keys[StageDeps], in.SourceHash)

	envKeys := make([]string, 0, len(in.Env))
	for k := range in.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	var env strings.Builder
	for _, k := range envKeys {
		fmt.Fprintf(&env, "%s=%s\n", k, in.Env[k])
	}
	keys[StageRuntime] = digest("runtime",
		keys[StageSource],
		env.String(),
		fmt.Sprintf("%d", in.ExposePort),
		strings.Join(in.Command, "\x00"),
	)

	return keys
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store persists the last successfully built key per stage.
type Store interface {
	Get(ctx context.Context, project string, stage Stage) (string, error)
	Put(ctx context.Context, project string, stage Stage, key string) error
}

// Status is the cache verdict for one stage.
type Status struct {
	Stage Stage
	Key   string
	Hit   bool
}

// Plan compares computed keys against the store and reports, in stage
// order, which stages can be reused. A miss at any stage marks every
// later stage stale regardless of its own key.
func Plan(ctx context.Context, store Store, project string, keys map[Stage]string) ([]Status, error) {
	plan := make([]Status, 0, len(Order))
	stale := false
	for _, stage := range Order {
		st := Status{Stage: stage, Key: keys[stage]}
		if !stale {
			recorded, err := store.Get(ctx, project, stage)
			switch {
			case errors.Is(err, ErrNoKey):
				// first build of this stage
			case err != nil:
				return nil, fmt.Errorf("failed to read cache for stage %s: %w", stage, err)
			case recorded == st.Key:
				st.Hit = true
			}
		}
		if !st.Hit {
			stale = true
		}
		plan = append(plan, st)
	}
	return plan, nil
}

// Record persists every stage key. Called only after a successful build so
// a failed build never marks its stages reusable.
func Record(ctx context.Context, store Store, project string, keys map[Stage]string) error {
	for _, stage := range Order {
		if err := store.Put(ctx, project, stage, keys[stage]); err != nil {
			return fmt.Errorf("failed to record cache key for stage %s: %w", stage, err)
		}
	}
	return nil
}

// LocalStore keeps one key file per stage under <dir>/<project>/<stage>.
type LocalStore struct {
	Dir string
}

// NewLocalStore returns a store rooted at dir (usually .slipway/cache).
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Dir: dir}
}

func (s *LocalStore) path(project string, stage Stage) string {
	return filepath.Join(s.Dir, project, string(stage))
}

func (s *LocalStore) Get(_ context.Context, project string, stage Stage) (string, error) {
	data, err := os.ReadFile(s.path(project, stage))
	if os.IsNotExist(err) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *LocalStore) Put(_ context.Context, project string, stage Stage, key string) error {
	path := s.path(project, stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(key+"\n"), 0o644)
}
