package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/buildcache"
	"github.com/slipway-sh/slipway/internal/builder"
	"github.com/slipway-sh/slipway/internal/engine/docker"
	"github.com/slipway-sh/slipway/internal/source"
)

var (
	buildNoCache bool
	buildGitURL  string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the project image",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		project := *cfg
		if buildGitURL != "" {
			dir, cleanup, err := source.CloneForBuild(ctx, buildGitURL, os.Stderr)
			if err != nil {
				return err
			}
			defer cleanup()
			logger.Info("building from remote source", "url", buildGitURL)
			project.Source = dir
			if !filepath.IsAbs(project.Manifest) {
				project.Manifest = filepath.Join(dir, project.Manifest)
			}
		}

		eng, err := docker.New()
		if err != nil {
			return err
		}

		var cache buildcache.Store = buildcache.NewLocalStore(project.Cache.Dir)
		if bucket := project.Cache.S3.Bucket; bucket != "" {
			remote, err := buildcache.NewS3Store(ctx, bucket, project.Cache.S3.Prefix, project.Cache.S3.Region)
			if err != nil {
				logger.Warn("remote cache disabled", "err", err)
			} else {
				cache = &buildcache.Tiered{Local: cache, Remote: remote, Logger: logger}
			}
		}

		b := &builder.Builder{Engine: eng, Cache: cache, Logger: logger}
		res, err := b.Build(ctx, &project, builder.Options{
			NoCache: buildNoCache,
			Output:  os.Stdout,
		})
		if err != nil {
			return err
		}

		for _, st := range res.Plan {
			verdict := "stale"
			if st.Hit && !buildNoCache {
				verdict = "hit"
			}
			logger.Info("stage", "name", st.Stage, "cache", verdict)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "rebuild every stage")
	buildCmd.Flags().StringVar(&buildGitURL, "git", "", "clone source from a git URL instead of the local tree")
	rootCmd.AddCommand(buildCmd)
}
