// Package builder drives staged image builds against the Docker daemon. The
// pipeline itself is pure (internal/core/buildspec); this package owns the
// I/O around it: packing the build context and streaming the build.
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stackd/stackd/internal/core/buildspec"
	"github.com/stackd/stackd/internal/shell/docker"
)

// =============================================================================
// Builder
// =============================================================================

// Options configures one image build.
type Options struct {
	ContextDir string
	Tag        string
	Pipeline   buildspec.PipelineConfig
	Labels     map[string]string
	NoCache    bool
}

// Builder renders the staged pipeline and executes it on a Docker daemon.
type Builder struct {
	client docker.Client
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(client docker.Client, logger *slog.Logger) *Builder {
	return &Builder{
		client: client,
		logger: logger,
	}
}

// Dockerfile renders the staged pipeline for the given configuration without
// touching the daemon.
func Dockerfile(cfg buildspec.PipelineConfig) (string, error) {
	pipeline, _, err := buildspec.StandardPipeline(cfg)
	if err != nil {
		return "", err
	}
	return pipeline.Render()
}

// Build renders the pipeline, packs the context directory into a tarball
// with the rendered Dockerfile injected, and runs the build. Returns the
// image tag on success.
func (b *Builder) Build(ctx context.Context, opts Options) (string, error) {
	if opts.Tag == "" {
		return "", fmt.Errorf("builder: image tag is required")
	}

	dockerfile, err := Dockerfile(opts.Pipeline)
	if err != nil {
		return "", err
	}

	b.logger.Info("packing build context",
		"context", opts.ContextDir,
		"tag", opts.Tag)

	buildContext, err := packContext(opts.ContextDir, dockerfile)
	if err != nil {
		return "", fmt.Errorf("builder: pack context %s: %w", opts.ContextDir, err)
	}

	b.logger.Info("building image", "tag", opts.Tag)

	err = b.client.BuildImage(ctx, buildContext, docker.BuildOptions{
		Tags:       []string{opts.Tag},
		Dockerfile: injectedDockerfileName,
		Labels:     opts.Labels,
		NoCache:    opts.NoCache,
	})
	if err != nil {
		return "", err
	}

	b.logger.Info("image built", "tag", opts.Tag)
	return opts.Tag, nil
}
