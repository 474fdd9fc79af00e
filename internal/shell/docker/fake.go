package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Fake Client
// =============================================================================

// FakeClient is an in-memory Client for tests. It records every call in
// order and serves canned responses; per-operation hooks override behavior
// where a test needs a failure.
type FakeClient struct {
	mu sync.Mutex

	// Call log, one entry per operation, e.g. "StartContainer stackd_blog_db".
	Calls []string

	// Recorded inputs
	BuildCalls    []BuildOptions
	BuildContexts [][]byte
	PulledImages  []string
	CreatedSpecs  []ContainerSpec
	StartedIDs    []string
	StoppedIDs    []string
	RemovedIDs    []string
	Networks      []NetworkSpec
	Volumes       []VolumeSpec

	// Canned state
	ExistingImages map[string]bool
	Containers     map[string]*ContainerInfo
	LogOutput      string

	// Failure hooks
	BuildErr         error
	PullErr          error
	CreateErr        func(spec ContainerSpec) error
	StartErr         func(containerID string) error
	InspectFn        func(containerID string) (*ContainerInfo, error)
	CreateNetworkErr error
	CreateVolumeErr  error
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		ExistingImages: make(map[string]bool),
		Containers:     make(map[string]*ContainerInfo),
	}
}

func (f *FakeClient) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallsMatching returns the recorded calls whose first word equals op.
func (f *FakeClient) CallsMatching(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if strings.HasPrefix(c, op+" ") || c == op {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// Image Operations
// =============================================================================

func (f *FakeClient) BuildImage(ctx context.Context, buildContext io.Reader, opts BuildOptions) error {
	data, err := io.ReadAll(buildContext)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("BuildImage %s", strings.Join(opts.Tags, ","))
	f.BuildCalls = append(f.BuildCalls, opts)
	f.BuildContexts = append(f.BuildContexts, data)
	if f.BuildErr != nil {
		return f.BuildErr
	}
	for _, tag := range opts.Tags {
		f.ExistingImages[tag] = true
	}
	return nil
}

func (f *FakeClient) PullImage(ctx context.Context, image string, opts PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PullImage %s", image)
	f.PulledImages = append(f.PulledImages, image)
	if f.PullErr != nil {
		return f.PullErr
	}
	f.ExistingImages[image] = true
	return nil
}

func (f *FakeClient) ImageExists(ctx context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ImageExists %s", image)
	return f.ExistingImages[image], nil
}

// =============================================================================
// Container Operations
// =============================================================================

func (f *FakeClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateContainer %s", spec.Name)
	if f.CreateErr != nil {
		if err := f.CreateErr(spec); err != nil {
			return "", err
		}
	}
	f.CreatedSpecs = append(f.CreatedSpecs, spec)
	id := "ctr-" + spec.Name
	f.Containers[id] = &ContainerInfo{
		ID:     id,
		Name:   spec.Name,
		Image:  spec.Image,
		Status: ContainerStatusCreated,
		State:  "created",
		Labels: spec.Labels,
	}
	return id, nil
}

func (f *FakeClient) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartContainer %s", containerID)
	if f.StartErr != nil {
		if err := f.StartErr(containerID); err != nil {
			return err
		}
	}
	f.StartedIDs = append(f.StartedIDs, containerID)
	if info, ok := f.Containers[containerID]; ok {
		info.Status = ContainerStatusRunning
		info.State = "running"
	}
	return nil
}

func (f *FakeClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopContainer %s", containerID)
	f.StoppedIDs = append(f.StoppedIDs, containerID)
	if info, ok := f.Containers[containerID]; ok {
		info.Status = ContainerStatusExited
		info.State = "exited"
	}
	return nil
}

func (f *FakeClient) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveContainer %s", containerID)
	f.RemovedIDs = append(f.RemovedIDs, containerID)
	delete(f.Containers, containerID)
	return nil
}

func (f *FakeClient) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("InspectContainer %s", containerID)
	if f.InspectFn != nil {
		return f.InspectFn(containerID)
	}
	info, ok := f.Containers[containerID]
	if !ok {
		return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
	}
	copied := *info
	return &copied, nil
}

func (f *FakeClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListContainers")
	var out []ContainerInfo
	for _, info := range f.Containers {
		if !opts.All && info.State != "running" {
			continue
		}
		if !matchesLabelFilter(info.Labels, opts.Filters) {
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}

func matchesLabelFilter(labels, filters map[string]string) bool {
	want, ok := filters["label"]
	if !ok {
		return true
	}
	key, value, hasValue := strings.Cut(want, "=")
	got, present := labels[key]
	if !present {
		return false
	}
	return !hasValue || got == value
}

func (f *FakeClient) ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ContainerLogs %s", containerID)
	if _, ok := f.Containers[containerID]; !ok {
		return nil, NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
	}
	return io.NopCloser(strings.NewReader(f.LogOutput)), nil
}

// =============================================================================
// Network and Volume Operations
// =============================================================================

func (f *FakeClient) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateNetwork %s", spec.Name)
	if f.CreateNetworkErr != nil {
		return "", f.CreateNetworkErr
	}
	for _, n := range f.Networks {
		if n.Name == spec.Name {
			return "", NewDockerError("CreateNetwork", "network", spec.Name, "network already exists", ErrNetworkAlreadyExists)
		}
	}
	f.Networks = append(f.Networks, spec)
	return "net-" + spec.Name, nil
}

func (f *FakeClient) RemoveNetwork(ctx context.Context, networkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveNetwork %s", networkID)
	for i, n := range f.Networks {
		if n.Name == networkID || "net-"+n.Name == networkID {
			f.Networks = append(f.Networks[:i], f.Networks[i+1:]...)
			return nil
		}
	}
	return NewDockerError("RemoveNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
}

func (f *FakeClient) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateVolume %s", spec.Name)
	if f.CreateVolumeErr != nil {
		return "", f.CreateVolumeErr
	}
	for _, v := range f.Volumes {
		if v.Name == spec.Name {
			// Volume creation is idempotent on the daemon side.
			return spec.Name, nil
		}
	}
	f.Volumes = append(f.Volumes, spec)
	return spec.Name, nil
}

func (f *FakeClient) ListVolumes(ctx context.Context, filters map[string]string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListVolumes")
	var names []string
	for _, v := range f.Volumes {
		if matchesLabelFilter(v.Labels, filters) {
			names = append(names, v.Name)
		}
	}
	return names, nil
}

func (f *FakeClient) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveVolume %s", volumeName)
	for i, v := range f.Volumes {
		if v.Name == volumeName {
			f.Volumes = append(f.Volumes[:i], f.Volumes[i+1:]...)
			return nil
		}
	}
	return NewDockerError("RemoveVolume", "volume", volumeName, "volume not found", ErrVolumeNotFound)
}

// =============================================================================
// Health Operations
// =============================================================================

func (f *FakeClient) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Ping")
	return nil
}

func (f *FakeClient) Close() error {
	return nil
}
