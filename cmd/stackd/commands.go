package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/stackd/stackd/internal/core/buildspec"
	"github.com/stackd/stackd/internal/core/devprofile"
	"github.com/stackd/stackd/internal/core/manifest"
	"github.com/stackd/stackd/internal/shell/builder"
	"github.com/stackd/stackd/internal/shell/docker"
	"github.com/stackd/stackd/internal/shell/ledger"
	"github.com/stackd/stackd/internal/shell/runner"
)

// =============================================================================
// Shared Wiring
// =============================================================================

// loadManifest reads and parses the stack manifest. A missing manifest file
// falls back to the built-in three-tier default.
func loadManifest(cfg *Config, logger *slog.Logger) (*manifest.Manifest, error) {
	path := cfg.Stack.Manifest
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Stack.Dir, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}
		logger.Info("manifest not found, using built-in default", "path", path)
		return manifest.Parse(manifest.DefaultManifest)
	}
	return manifest.Parse(string(content))
}

func openDocker(cfg *Config) (docker.Client, error) {
	return docker.NewDockerClient(cfg.Docker.Host)
}

// openLedger opens the run ledger, creating the data directory on first use.
func openLedger(cfg *Config) (*ledger.Store, error) {
	if dir := filepath.Dir(cfg.Ledger.DSN); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", dir, err)
		}
	}
	return ledger.NewStore(cfg.Ledger.DSN)
}

func newRunner(cfg *Config, client docker.Client, logger *slog.Logger) *runner.Runner {
	return runner.NewRunner(client, logger, runner.Options{
		StopTimeout:    cfg.Runner.StopTimeout,
		HealthTimeout:  cfg.Runner.HealthTimeout,
		HealthInterval: cfg.Runner.HealthInterval,
	})
}

func stackLabels(project string) map[string]string {
	return map[string]string{
		docker.LabelManaged: "true",
		docker.LabelProject: project,
	}
}

// =============================================================================
// build
// =============================================================================

// buildImages builds the manifest's build services in order. With onlyMissing
// set, services whose image already exists on the daemon are skipped.
func buildImages(ctx context.Context, cfg *Config, logger *slog.Logger, m *manifest.Manifest, client docker.Client, store *ledger.Store, noCache, onlyMissing bool) error {
	b := builder.NewBuilder(client, logger)

	for _, name := range m.BuildServices() {
		svc, _ := m.Service(name)
		bc := m.Builds[name]

		if onlyMissing {
			exists, _ := client.ImageExists(ctx, svc.Image.Ref)
			if exists {
				continue
			}
		}

		contextDir := bc.Context
		if !filepath.IsAbs(contextDir) {
			contextDir = filepath.Join(cfg.Stack.Dir, contextDir)
		}

		run, lerr := store.CreateRun(ctx, cfg.Stack.Project, ledger.RunKindBuild, svc.Image.Ref)
		if lerr != nil {
			logger.Warn("failed to record build run", "service", name, "error", lerr)
		}

		tag, err := b.Build(ctx, builder.Options{
			ContextDir: contextDir,
			Tag:        svc.Image.Ref,
			Pipeline: buildspec.PipelineConfig{
				BaseImage:          cfg.Build.BaseImage,
				DependencyManifest: cfg.Build.DependencyManifest,
				ExposePort:         cfg.Build.ExposePort,
			},
			Labels:  stackLabels(cfg.Stack.Project),
			NoCache: noCache,
		})
		if err != nil {
			if run != nil {
				if lerr := store.SetRunStatus(ctx, run.ID, ledger.RunStatusFailed, err.Error()); lerr != nil {
					logger.Warn("failed to record build failure", "error", lerr)
				}
			}
			return fmt.Errorf("service %s: %w", name, err)
		}

		if run != nil {
			if lerr := store.SetRunStatus(ctx, run.ID, ledger.RunStatusSucceeded, ""); lerr != nil {
				logger.Warn("failed to record build success", "error", lerr)
			}
		}
		fmt.Printf("built %s (%s)\n", name, tag)
	}
	return nil
}

func cmdBuild(cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	noCache := fs.Bool("no-cache", cfg.Build.NoCache, "Build without layer cache")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	m, err := loadManifest(cfg, logger)
	if err != nil {
		logger.Error("failed to load manifest", "error", err)
		return ExitConfigError
	}

	names := m.BuildServices()
	if len(names) == 0 {
		logger.Info("no services require a build")
		return ExitSuccess
	}

	client, err := openDocker(cfg)
	if err != nil {
		logger.Error("failed to connect to docker", "error", err)
		return ExitDockerError
	}
	defer client.Close()

	store, err := openLedger(cfg)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		return ExitLedgerError
	}
	defer store.Close()

	ctx := context.Background()
	if err := buildImages(ctx, cfg, logger, m, client, store, *noCache, false); err != nil {
		logger.Error("build failed", "error", err)
		return ExitBuildError
	}
	return ExitSuccess
}

// =============================================================================
// up
// =============================================================================

func cmdUp(cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	m, err := loadManifest(cfg, logger)
	if err != nil {
		logger.Error("failed to load manifest", "error", err)
		return ExitConfigError
	}

	// Port conflicts, unknown dependencies and the like are configuration
	// errors; surface them before any image is built or resource created.
	topo, err := manifest.ToTopology(m)
	if err != nil {
		logger.Error("invalid stack configuration", "error", err)
		return ExitConfigError
	}
	if _, err := topo.ResolveOrder(); err != nil {
		logger.Error("invalid stack configuration", "error", err)
		return ExitConfigError
	}

	client, err := openDocker(cfg)
	if err != nil {
		logger.Error("failed to connect to docker", "error", err)
		return ExitDockerError
	}
	defer client.Close()

	store, err := openLedger(cfg)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		return ExitLedgerError
	}
	defer store.Close()

	ctx := context.Background()

	// Build any missing built images before launching.
	if err := buildImages(ctx, cfg, logger, m, client, store, cfg.Build.NoCache, true); err != nil {
		logger.Error("build failed", "error", err)
		return ExitBuildError
	}

	run, lerr := store.CreateRun(ctx, cfg.Stack.Project, ledger.RunKindUp, "")
	if lerr != nil {
		logger.Warn("failed to record launch run", "error", lerr)
	}

	r := newRunner(cfg, client, logger)
	started, err := r.Up(ctx, m, runner.UpOptions{
		Project: cfg.Stack.Project,
		Dir:     cfg.Stack.Dir,
	})
	if err != nil {
		logger.Error("launch failed", "project", cfg.Stack.Project, "error", err)
		if run != nil {
			var startErr *runner.ServiceStartError
			if errors.As(err, &startErr) {
				if lerr := store.RecordService(ctx, run.ID, ledger.ServiceRun{
					Service:  startErr.Service,
					State:    "failed",
					ExitCode: startErr.ExitCode,
				}); lerr != nil {
					logger.Warn("failed to record service failure", "error", lerr)
				}
			}
			if lerr := store.SetRunStatus(ctx, run.ID, ledger.RunStatusFailed, err.Error()); lerr != nil {
				logger.Warn("failed to record launch failure", "error", lerr)
			}
		}
		return ExitDockerError
	}

	if run != nil {
		for _, s := range started {
			if lerr := store.RecordService(ctx, run.ID, ledger.ServiceRun{
				Service:     s.Service,
				State:       "running",
				ContainerID: s.ContainerID,
				Position:    s.Position,
			}); lerr != nil {
				logger.Warn("failed to record service", "service", s.Service, "error", lerr)
			}
		}
		if lerr := store.SetRunStatus(ctx, run.ID, ledger.RunStatusSucceeded, ""); lerr != nil {
			logger.Warn("failed to record launch success", "error", lerr)
		}
	}

	for _, s := range started {
		fmt.Printf("started %s (%s)\n", s.Service, shortID(s.ContainerID))
	}
	return ExitSuccess
}

// =============================================================================
// down
// =============================================================================

func cmdDown(cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	removeVolumes := fs.Bool("volumes", false, "Also remove named volumes")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	client, err := openDocker(cfg)
	if err != nil {
		logger.Error("failed to connect to docker", "error", err)
		return ExitDockerError
	}
	defer client.Close()

	ctx := context.Background()
	r := newRunner(cfg, client, logger)

	if err := r.Down(ctx, runner.DownOptions{
		Project:       cfg.Stack.Project,
		RemoveVolumes: *removeVolumes,
	}); err != nil {
		if errors.Is(err, runner.ErrStackNotRunning) {
			fmt.Printf("nothing running for project %s\n", cfg.Stack.Project)
			return ExitSuccess
		}
		logger.Error("teardown failed", "project", cfg.Stack.Project, "error", err)
		return ExitDockerError
	}

	fmt.Printf("stack %s stopped\n", cfg.Stack.Project)
	return ExitSuccess
}

// =============================================================================
// status
// =============================================================================

func cmdStatus(cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	client, err := openDocker(cfg)
	if err != nil {
		logger.Error("failed to connect to docker", "error", err)
		return ExitDockerError
	}
	defer client.Close()

	ctx := context.Background()
	r := newRunner(cfg, client, logger)

	rows, err := r.Status(ctx, cfg.Stack.Project)
	if err != nil {
		logger.Error("failed to get status", "project", cfg.Stack.Project, "error", err)
		return ExitDockerError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCONTAINER\tSTATE\tHEALTH")
	for _, row := range rows {
		health := row.Health
		if health == "" {
			health = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Service, row.ContainerID, row.State, health)
	}
	w.Flush()

	printRecentRuns(ctx, cfg, logger)
	return ExitSuccess
}

// printRecentRuns appends the project's recent ledger entries to the status
// output. Ledger trouble degrades to a warning; live state already printed.
func printRecentRuns(ctx context.Context, cfg *Config, logger *slog.Logger) {
	store, err := openLedger(cfg)
	if err != nil {
		logger.Warn("failed to open ledger", "error", err)
		return
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, cfg.Stack.Project, 5)
	if err != nil {
		logger.Warn("failed to list runs", "error", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tKIND\tSTATUS\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			shortID(run.ID), run.Kind, run.Status, run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

// =============================================================================
// logs
// =============================================================================

func cmdLogs(cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	follow := fs.Bool("follow", false, "Follow log output")
	tail := fs.String("tail", "all", "Number of lines to show from the end")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: stackd logs [flags] <service>")
		return ExitConfigError
	}
	service := fs.Arg(0)

	client, err := openDocker(cfg)
	if err != nil {
		logger.Error("failed to connect to docker", "error", err)
		return ExitDockerError
	}
	defer client.Close()

	ctx := context.Background()
	r := newRunner(cfg, client, logger)

	rc, err := r.Logs(ctx, cfg.Stack.Project, service, docker.LogOptions{
		Follow:     *follow,
		Tail:       *tail,
		Timestamps: false,
	})
	if err != nil {
		logger.Error("failed to get logs", "service", service, "error", err)
		return ExitDockerError
	}
	defer rc.Close()

	if _, err := io.Copy(os.Stdout, rc); err != nil {
		logger.Error("log stream interrupted", "service", service, "error", err)
		return ExitDockerError
	}
	return ExitSuccess
}

// =============================================================================
// devprofile
// =============================================================================

func cmdDevprofile(cfg *Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("devprofile", flag.ContinueOnError)
	output := fs.String("output", ".devcontainer/devcontainer.json", "Output path, or - for stdout")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	m, err := loadManifest(cfg, logger)
	if err != nil {
		logger.Error("failed to load manifest", "error", err)
		return ExitConfigError
	}

	topo, err := manifest.ToTopology(m)
	if err != nil {
		logger.Error("failed to resolve topology", "error", err)
		return ExitConfigError
	}

	profile := devprofile.Generate(devprofile.Options{
		Project: cfg.Stack.Project,
	}, topo)

	out, err := devprofile.Render(profile)
	if err != nil {
		logger.Error("failed to render profile", "error", err)
		return ExitConfigError
	}

	if *output == "-" {
		os.Stdout.Write(out)
		return ExitSuccess
	}

	path := *output
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Stack.Dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Error("failed to create profile directory", "error", err)
		return ExitConfigError
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		logger.Error("failed to write profile", "path", path, "error", err)
		return ExitConfigError
	}

	fmt.Printf("wrote %s\n", path)
	return ExitSuccess
}

// =============================================================================
// Helpers
// =============================================================================

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
