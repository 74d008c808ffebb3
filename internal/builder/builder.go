package builder

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/slipway-sh/slipway/internal/buildcache"
	"github.com/slipway-sh/slipway/internal/config"
	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/manifest"
	"github.com/slipway-sh/slipway/internal/source"
)

const dockerfileName = "Dockerfile.slipway"

// Builder produces the project image according to the stage contract and
// keeps the stage-key cache in sync with what was actually built.
type Builder struct {
	Engine engine.Engine
	Cache  buildcache.Store
	Logger *log.Logger
}

// Options adjusts one build invocation.
type Options struct {
	// NoCache treats every stage as stale.
	NoCache bool
	// Output receives the engine's build progress stream.
	Output io.Writer
}

// Result reports what the build did.
type Result struct {
	ImageTag string
	Plan     []buildcache.Status
	Rebuilt  bool
}

// Build resolves the stage inputs, consults the cache and, when any stage
// is stale, assembles a build context and drives the engine. Stage keys are
// recorded only after the engine reports success, so a failed build leaves
// no stage marked reusable and no image tagged.
func (b *Builder) Build(ctx context.Context, p *config.Project, opts Options) (*Result, error) {
	m, err := manifest.Load(p.Manifest)
	if err != nil {
		return nil, err
	}

	var exclude []string
	if p.StateFile != "" && !p.BundleState {
		exclude = append(exclude, p.StateFile)
	}
	srcHash, err := source.TreeHash(p.Source, exclude...)
	if err != nil {
		return nil, err
	}

	keys := buildcache.Keys(buildcache.Inputs{
		BaseImage:         p.BaseImage,
		ManifestCanonical: m.Canonical(),
		BuildPackages:     p.BuildPackages,
		SourceHash:        srcHash,
		Env:               bootstrapEnv(p),
		ExposePort:        p.Expose,
		Command:           p.Command,
	})

	plan, err := buildcache.Plan(ctx, b.Cache, p.Name, keys)
	if err != nil {
		return nil, err
	}
	stale := opts.NoCache
	for _, st := range plan {
		verdict := "stale"
		if st.Hit && !opts.NoCache {
			verdict = "hit"
		} else {
			stale = true
		}
		b.Logger.Debug("cache", "stage", st.Stage, "verdict", verdict, "key", st.Key[:12])
	}

	result := &Result{ImageTag: p.ImageTag(), Plan: plan}
	if !stale {
		// The keys only vouch for the inputs; the image itself may have been
		// pruned from the engine since they were recorded.
		exists, err := b.Engine.ImageExists(ctx, result.ImageTag)
		if err != nil {
			return nil, err
		}
		if exists {
			b.Logger.Info("image up to date", "tag", result.ImageTag)
			return result, nil
		}
		b.Logger.Info("cache keys current but image missing, rebuilding", "tag", result.ImageTag)
	}

	if p.StateFile != "" && p.BundleState {
		b.Logger.Warn("bundling mutable state into the image; the file is frozen at build time and every container starts from this copy",
			"state_file", p.StateFile)
	}

	ctxDir, manifestCtxPath, err := b.stageContext(p)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(ctxDir)

	dockerfile := Dockerfile(p, manifestCtxPath)
	if err := os.WriteFile(filepath.Join(ctxDir, dockerfileName), []byte(dockerfile), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write build recipe: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	b.Logger.Info("building image", "tag", result.ImageTag, "base", p.BaseImage)
	if err := b.Engine.BuildImage(ctx, ctxDir, dockerfileName, result.ImageTag, out); err != nil {
		return nil, err
	}

	if err := buildcache.Record(ctx, b.Cache, p.Name, keys); err != nil {
		return nil, err
	}
	result.Rebuilt = true
	b.Logger.Info("image built", "tag", result.ImageTag)
	return result, nil
}

// stageContext copies the source tree (and the manifest, when it lives
// outside the tree) into a throwaway directory that becomes the build
// context. VCS metadata, the local cache and an externalized state file
// stay out.
func (b *Builder) stageContext(p *config.Project) (dir, manifestCtxPath string, err error) {
	dir, err = os.MkdirTemp("", "slipway-ctx-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create build context dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	skip := map[string]bool{}
	if p.StateFile != "" && !p.BundleState {
		skip[filepath.ToSlash(p.StateFile)] = true
	}
	if err = copyTree(p.Source, dir, skip); err != nil {
		return "", "", fmt.Errorf("failed to copy source tree: %w", err)
	}

	manifestCtxPath, inTree := pathWithin(p.Source, p.Manifest)
	if !inTree {
		manifestCtxPath = filepath.Base(p.Manifest)
		if err = copyFile(p.Manifest, filepath.Join(dir, manifestCtxPath)); err != nil {
			return "", "", fmt.Errorf("failed to copy manifest: %w", err)
		}
	}
	return dir, manifestCtxPath, nil
}

// pathWithin reports whether path is inside root and, if so, its
// root-relative slash form.
func pathWithin(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func copyTree(src, dst string, skip map[string]bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".slipway" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !d.Type().IsRegular() || skip[filepath.ToSlash(rel)] {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
