package buildcache

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
)

// Tiered checks the local store first and falls back to the remote one.
// Remote failures degrade to local-only behavior: a build must never fail
// because the shared cache is unreachable.
type Tiered struct {
	Local  Store
	Remote Store
	Logger *log.Logger
}

func (t *Tiered) Get(ctx context.Context, project string, stage Stage) (string, error) {
	key, err := t.Local.Get(ctx, project, stage)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNoKey) {
		return "", err
	}
	if t.Remote == nil {
		return "", ErrNoKey
	}

	key, err = t.Remote.Get(ctx, project, stage)
	if errors.Is(err, ErrNoKey) {
		return "", ErrNoKey
	}
	if err != nil {
		t.Logger.Warn("remote cache unavailable, continuing with local cache only",
			"stage", stage, "err", err)
		return "", ErrNoKey
	}
	// Backfill so later stages don't round-trip again.
	if err := t.Local.Put(ctx, project, stage, key); err != nil {
		return "", err
	}
	return key, nil
}

func (t *Tiered) Put(ctx context.Context, project string, stage Stage, key string) error {
	if err := t.Local.Put(ctx, project, stage, key); err != nil {
		return err
	}
	if t.Remote != nil {
		if err := t.Remote.Put(ctx, project, stage, key); err != nil {
			t.Logger.Warn("failed to push cache key to remote store",
				"stage", stage, "err", err)
		}
	}
	return nil
}
