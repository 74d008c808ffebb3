package source

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
)

// CloneForBuild shallow-clones repoURL into a temporary directory and
// returns its path plus a cleanup func. The caller owns the cleanup.
func CloneForBuild(ctx context.Context, repoURL string, progress *os.File) (string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "slipway-src-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: progress,
		Depth:    1, // shallow clone, only the tree matters for a build
	})
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to clone %s: %w", repoURL, err)
	}
	return tmpDir, cleanup, nil
}
