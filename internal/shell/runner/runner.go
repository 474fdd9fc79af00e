// Package runner drives stack launches against the Docker daemon. It takes a
// parsed manifest, resolves the launch order through the topology, and walks
// the order with fail-stop semantics: the first service that cannot start
// aborts the launch and tears down everything started before it, newest
// first.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stackd/stackd/internal/core/envsource"
	"github.com/stackd/stackd/internal/core/manifest"
	"github.com/stackd/stackd/internal/core/topology"
	"github.com/stackd/stackd/internal/shell/docker"
)

// =============================================================================
// Runner
// =============================================================================

// Options tunes runner timing. Zero values fall back to defaults.
type Options struct {
	StopTimeout    time.Duration // grace period before a container is killed
	HealthTimeout  time.Duration // ceiling for one service's health gate
	HealthInterval time.Duration // poll cadence while waiting on a gate
}

func (o *Options) applyDefaults() {
	if o.StopTimeout == 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.HealthTimeout == 0 {
		o.HealthTimeout = 60 * time.Second
	}
	if o.HealthInterval == 0 {
		o.HealthInterval = time.Second
	}
}

// Runner launches and tears down stacks.
type Runner struct {
	docker docker.Client
	logger *slog.Logger
	opts   Options

	// Volume creation is serialized; concurrent create calls for the same
	// name race on some daemon versions.
	volumeMu sync.Mutex
}

// NewRunner creates a Runner.
func NewRunner(client docker.Client, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Runner{
		docker: client,
		logger: logger,
		opts:   opts,
	}
}

// StartedService records one successfully launched service.
type StartedService struct {
	Service     string
	ContainerID string
	Position    int // zero-based launch position
}

// UpOptions configures one launch.
type UpOptions struct {
	Project string
	Dir     string // base directory for resolving env_file references
}

// =============================================================================
// Up
// =============================================================================

// Up launches the whole stack in dependency order. On the first failure it
// stops and removes everything launched so far, newest first, and returns a
// ServiceStartError naming the culprit.
func (r *Runner) Up(ctx context.Context, m *manifest.Manifest, opts UpOptions) ([]StartedService, error) {
	topo, err := manifest.ToTopology(m)
	if err != nil {
		return nil, err
	}

	order, err := topo.ResolveOrder()
	if err != nil {
		return nil, err
	}

	r.logger.Info("launching stack",
		"project", opts.Project,
		"services", len(order))

	networkName := topology.NetworkName(opts.Project)
	if err := r.ensureNetwork(ctx, opts.Project, networkName); err != nil {
		return nil, err
	}

	if err := r.ensureVolumes(ctx, opts.Project, topo.Volumes()); err != nil {
		return nil, err
	}

	if err := r.ensureImages(ctx, order); err != nil {
		return nil, err
	}

	var started []StartedService
	for i, svc := range order {
		id, err := r.launchService(ctx, topo, svc, opts, networkName, i)
		if err != nil {
			_ = topo.Transition(svc.Name, topology.StateFailed)
			r.teardown(ctx, started)
			return nil, err
		}
		_ = topo.Transition(svc.Name, topology.StateRunning)
		started = append(started, StartedService{Service: svc.Name, ContainerID: id, Position: i})
	}

	r.logger.Info("stack running", "project", opts.Project, "containers", len(started))
	return started, nil
}

// ensureNetwork creates the project network, reusing one left over from a
// previous launch.
func (r *Runner) ensureNetwork(ctx context.Context, project, networkName string) error {
	_, err := r.docker.CreateNetwork(ctx, docker.NetworkSpec{
		Name:   networkName,
		Driver: "bridge",
		Labels: r.stackLabels(project, ""),
	})
	if err != nil {
		if errors.Is(err, docker.ErrNetworkAlreadyExists) {
			r.logger.Debug("network already exists, reusing", "network", networkName)
			return nil
		}
		return err
	}
	r.logger.Debug("created network", "network", networkName)
	return nil
}

// ensureVolumes creates every named volume up front so a service failing
// later never leaves a partially provisioned stack. Creation is idempotent:
// existing volumes are reused, preserving their data.
func (r *Runner) ensureVolumes(ctx context.Context, project string, volumes []topology.Volume) error {
	r.volumeMu.Lock()
	defer r.volumeMu.Unlock()

	for _, vol := range volumes {
		name := topology.VolumeName(project, vol.Name)
		if _, err := r.docker.CreateVolume(ctx, docker.VolumeSpec{
			Name:   name,
			Labels: r.stackLabels(project, ""),
		}); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				r.logger.Debug("volume already exists, reusing", "volume", name)
				continue
			}
			return err
		}
		r.logger.Debug("created volume", "volume", name)
	}
	return nil
}

// ensureImages pulls every registry image not already present. Built images
// must exist before Up runs; a missing one fails here rather than at create
// time.
func (r *Runner) ensureImages(ctx context.Context, order []topology.ServiceDescriptor) error {
	for _, svc := range order {
		exists, _ := r.docker.ImageExists(ctx, svc.Image.Ref)
		if exists {
			continue
		}
		if svc.Image.Kind == topology.ImageSourceBuild {
			return fmt.Errorf("image %s for service %s not built, run build first", svc.Image.Ref, svc.Name)
		}
		r.logger.Info("pulling image", "image", svc.Image.Ref)
		if err := r.docker.PullImage(ctx, svc.Image.Ref, docker.PullOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// launchService creates and starts one container, then holds the launch
// until its health gate (if any) reports ready.
func (r *Runner) launchService(ctx context.Context, topo *topology.Topology, svc topology.ServiceDescriptor, opts UpOptions, networkName string, position int) (string, error) {
	env, err := r.resolveEnvironment(svc, opts.Dir)
	if err != nil {
		return "", err
	}

	spec := r.containerSpec(opts.Project, svc, networkName, env, position)

	id, err := r.docker.CreateContainer(ctx, spec)
	if err != nil {
		return "", &ServiceStartError{Service: svc.Name, ExitCode: -1, Err: err}
	}
	r.logger.Debug("created container", "service", svc.Name, "container_id", shortID(id))

	if err := r.docker.StartContainer(ctx, id); err != nil {
		exitCode := r.exitCode(ctx, id)
		_ = r.docker.RemoveContainer(ctx, id, docker.RemoveOptions{Force: true})
		return "", &ServiceStartError{Service: svc.Name, ExitCode: exitCode, Err: err}
	}
	r.logger.Debug("started container", "service", svc.Name, "container_id", shortID(id))

	if svc.HealthGate != nil {
		if err := r.waitHealthy(ctx, svc.Name, id); err != nil {
			exitCode := r.exitCode(ctx, id)
			stopTimeout := r.opts.StopTimeout
			_ = r.docker.StopContainer(ctx, id, &stopTimeout)
			_ = r.docker.RemoveContainer(ctx, id, docker.RemoveOptions{Force: true})
			return "", &ServiceStartError{Service: svc.Name, ExitCode: exitCode, Err: err}
		}
	}

	return id, nil
}

// resolveEnvironment loads the service's environment payload (if any),
// overlays the inline values (inline wins), then resolves ${VAR} and
// ${VAR:-default} placeholders against the merged set, so an inline value
// can reference keys supplied by the payload.
func (r *Runner) resolveEnvironment(svc topology.ServiceDescriptor, dir string) (map[string]string, error) {
	var payload map[string]string
	if svc.EnvFile != "" {
		path := svc.EnvFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("service %s: %s: %w", svc.Name, path, ErrEnvFileRead)
		}
		payload, err = envsource.Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("service %s: %s: %w", svc.Name, path, err)
		}
	}

	merged := envsource.Merge(payload, svc.Environment)

	resolved := make(map[string]string, len(merged))
	for k, v := range merged {
		resolved[k] = envsource.Substitute(v, merged)
	}
	return resolved, nil
}

// containerSpec translates a service descriptor into a container spec.
func (r *Runner) containerSpec(project string, svc topology.ServiceDescriptor, networkName string, env map[string]string, position int) docker.ContainerSpec {
	spec := docker.ContainerSpec{
		Name:     topology.ContainerName(project, svc.Name),
		Image:    svc.Image.Ref,
		Command:  svc.Command,
		Env:      env,
		Labels:   r.stackLabels(project, svc.Name),
		Networks: []string{networkName},
		NetworkAliases: map[string][]string{
			// Services reach each other by bare service name.
			networkName: {svc.Name},
		},
	}
	spec.Labels[docker.LabelIndex] = strconv.Itoa(position)

	for _, p := range svc.Ports {
		binding := docker.PortBinding{
			ContainerPort: p.ContainerPort,
			Protocol:      p.Protocol,
		}
		if p.ExposeExternally {
			binding.HostPort = p.HostPort
		}
		spec.Ports = append(spec.Ports, binding)
	}

	for _, v := range svc.Volumes {
		spec.Volumes = append(spec.Volumes, docker.VolumeMount{
			Source: topology.VolumeName(project, v.Name),
			Target: v.MountPath,
		})
	}

	if svc.HealthGate != nil {
		spec.HealthCheck = &docker.HealthCheck{
			Test:        svc.HealthGate.Test,
			Interval:    svc.HealthGate.Interval,
			Timeout:     svc.HealthGate.Timeout,
			Retries:     svc.HealthGate.Retries,
			StartPeriod: svc.HealthGate.StartPeriod,
		}
	}

	return spec
}

// waitHealthy polls the container until the daemon reports it healthy.
func (r *Runner) waitHealthy(ctx context.Context, service, containerID string) error {
	r.logger.Info("waiting on health gate", "service", service)

	ticker := time.NewTicker(r.opts.HealthInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(r.opts.HealthTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := r.docker.InspectContainer(ctx, containerID)
			if err != nil {
				return err
			}
			switch info.Health {
			case "healthy":
				r.logger.Info("health gate satisfied", "service", service)
				return nil
			case "unhealthy":
				return fmt.Errorf("service %s: %w", service, ErrHealthGate)
			}
			if info.State == "exited" || info.State == "dead" {
				return fmt.Errorf("service %s exited while gated: %w", service, ErrHealthGate)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("service %s: timeout: %w", service, ErrHealthGate)
			}
		}
	}
}

// exitCode inspects a container for its exit code, -1 when unavailable.
func (r *Runner) exitCode(ctx context.Context, containerID string) int {
	info, err := r.docker.InspectContainer(ctx, containerID)
	if err != nil {
		return -1
	}
	return info.ExitCode
}

// teardown stops and removes launched containers newest first.
func (r *Runner) teardown(ctx context.Context, started []StartedService) {
	stopTimeout := r.opts.StopTimeout
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		_ = r.docker.StopContainer(ctx, s.ContainerID, &stopTimeout)
		_ = r.docker.RemoveContainer(ctx, s.ContainerID, docker.RemoveOptions{Force: true})
		r.logger.Debug("rolled back container", "service", s.Service, "container_id", shortID(s.ContainerID))
	}
}

// =============================================================================
// Down
// =============================================================================

// DownOptions configures teardown.
type DownOptions struct {
	Project       string
	RemoveVolumes bool // volumes survive down unless explicitly requested
}

// Down stops and removes the project's containers in reverse launch order,
// then removes the network. Named volumes are retained unless RemoveVolumes
// is set.
func (r *Runner) Down(ctx context.Context, opts DownOptions) error {
	containers, err := r.projectContainers(ctx, opts.Project, true)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		return fmt.Errorf("project %s: %w", opts.Project, ErrStackNotRunning)
	}

	// Reverse launch order: highest index first.
	sort.Slice(containers, func(i, j int) bool {
		return launchIndex(containers[i]) > launchIndex(containers[j])
	})

	r.logger.Info("stopping stack", "project", opts.Project, "containers", len(containers))

	stopTimeout := r.opts.StopTimeout
	for _, c := range containers {
		if c.Status == docker.ContainerStatusRunning {
			if err := r.docker.StopContainer(ctx, c.ID, &stopTimeout); err != nil {
				r.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			}
		}
		if err := r.docker.RemoveContainer(ctx, c.ID, docker.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
		}
	}

	networkName := topology.NetworkName(opts.Project)
	if err := r.docker.RemoveNetwork(ctx, networkName); err != nil {
		r.logger.Warn("failed to remove network", "network", networkName, "error", err)
	}

	if opts.RemoveVolumes {
		r.removeVolumes(ctx, opts.Project)
	}

	r.logger.Info("stack stopped", "project", opts.Project)
	return nil
}

// removeVolumes removes the project's labeled volumes. Only reached on
// explicit operator request; a plain down never destroys data.
func (r *Runner) removeVolumes(ctx context.Context, project string) {
	volumes, err := r.docker.ListVolumes(ctx, map[string]string{
		"label": fmt.Sprintf("%s=%s", docker.LabelProject, project),
	})
	if err != nil {
		r.logger.Warn("failed to list volumes", "project", project, "error", err)
		return
	}
	for _, name := range volumes {
		if err := r.docker.RemoveVolume(ctx, name, false); err != nil {
			r.logger.Warn("failed to remove volume", "volume", name, "error", err)
		} else {
			r.logger.Debug("removed volume", "volume", name)
		}
	}
}

// =============================================================================
// Status and Logs
// =============================================================================

// ServiceStatus is one row of stack status output.
type ServiceStatus struct {
	Service     string
	ContainerID string
	State       string
	Health      string
	ExitCode    int
}

// Status reports the current state of the project's containers in launch
// order.
func (r *Runner) Status(ctx context.Context, project string) ([]ServiceStatus, error) {
	containers, err := r.projectContainers(ctx, project, true)
	if err != nil {
		return nil, err
	}

	sort.Slice(containers, func(i, j int) bool {
		return launchIndex(containers[i]) < launchIndex(containers[j])
	})

	var out []ServiceStatus
	for _, c := range containers {
		info, err := r.docker.InspectContainer(ctx, c.ID)
		if err != nil {
			continue
		}
		out = append(out, ServiceStatus{
			Service:     c.Labels[docker.LabelService],
			ContainerID: shortID(c.ID),
			State:       info.State,
			Health:      info.Health,
			ExitCode:    info.ExitCode,
		})
	}
	return out, nil
}

// Logs streams logs for one service of the project.
func (r *Runner) Logs(ctx context.Context, project, service string, opts docker.LogOptions) (io.ReadCloser, error) {
	containers, err := r.projectContainers(ctx, project, true)
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Labels[docker.LabelService] == service {
			return r.docker.ContainerLogs(ctx, c.ID, opts)
		}
	}
	return nil, fmt.Errorf("service %s: %w", service, ErrStackNotRunning)
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Runner) projectContainers(ctx context.Context, project string, all bool) ([]docker.ContainerInfo, error) {
	return r.docker.ListContainers(ctx, docker.ListOptions{
		All: all,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", docker.LabelProject, project),
		},
	})
}

func (r *Runner) stackLabels(project, service string) map[string]string {
	labels := map[string]string{
		docker.LabelManaged: "true",
		docker.LabelProject: project,
	}
	if service != "" {
		labels[docker.LabelService] = service
	}
	return labels
}

func launchIndex(c docker.ContainerInfo) int {
	idx, err := strconv.Atoi(c.Labels[docker.LabelIndex])
	if err != nil {
		return 0
	}
	return idx
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
