package topology

import "fmt"

// =============================================================================
// Topology
// =============================================================================

// Topology is the full set of service descriptors plus the bookkeeping
// needed to resolve a valid startup order: host port claims, volume
// attachments and per-service lifecycle states.
//
// Registration order is preserved and used as the deterministic tie-break
// between services whose dependency sets do not order them.
type Topology struct {
	services []ServiceDescriptor
	index    map[string]int
	states   map[string]ServiceState

	hostPorts map[int]string            // host port -> claiming service
	volumes   map[string]string         // logical volume name -> first mount path seen
	attached  map[string]map[string]string // service -> volume name -> mount path
}

// New creates an empty topology.
func New() *Topology {
	return &Topology{
		index:     make(map[string]int),
		states:    make(map[string]ServiceState),
		hostPorts: make(map[int]string),
		volumes:   make(map[string]string),
		attached:  make(map[string]map[string]string),
	}
}

// Services returns the descriptors in registration order.
func (t *Topology) Services() []ServiceDescriptor {
	return t.services
}

// Service returns the named descriptor.
func (t *Topology) Service(name string) (ServiceDescriptor, bool) {
	i, ok := t.index[name]
	if !ok {
		return ServiceDescriptor{}, false
	}
	return t.services[i], true
}

// =============================================================================
// Registration
// =============================================================================

// Register adds a service to the topology and moves it to Registered.
func (t *Topology) Register(desc ServiceDescriptor) error {
	if desc.Name == "" {
		return NewTopologyError("Register", "", "service name must not be empty", ErrInvalidService)
	}
	if _, exists := t.index[desc.Name]; exists {
		return NewTopologyError("Register", desc.Name, "name already in use", ErrDuplicateService)
	}
	if desc.Image.Ref == "" {
		return NewTopologyError("Register", desc.Name, "image reference must not be empty", ErrInvalidService)
	}
	for _, dep := range desc.DependsOn {
		if dep == desc.Name {
			return NewTopologyError("Register", desc.Name, "service cannot depend on itself", ErrSelfDependency)
		}
	}

	t.index[desc.Name] = len(t.services)
	t.services = append(t.services, desc)
	t.states[desc.Name] = StateRegistered
	return nil
}

// =============================================================================
// Order Resolution
// =============================================================================

// ResolveOrder performs a topological sort over the dependency graph using
// Kahn's algorithm. Services with no mutual ordering come out in
// registration order, so the result is stable across runs.
//
// Dependencies on unregistered services and cycles are detected here, before
// anything is started. Each resolved service moves Registered -> Scheduled.
func (t *Topology) ResolveOrder() ([]ServiceDescriptor, error) {
	inDegree := make(map[string]int, len(t.services))
	dependents := make(map[string][]string)

	for _, svc := range t.services {
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			if _, ok := t.index[dep]; !ok {
				return nil, NewTopologyError("ResolveOrder", svc.Name,
					"depends on unregistered service "+dep, ErrUnknownDependency)
			}
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	emitted := make(map[string]bool, len(t.services))
	order := make([]ServiceDescriptor, 0, len(t.services))

	// Repeatedly take the earliest-registered service whose dependencies
	// are all emitted. Quadratic, but topologies are small.
	for len(order) < len(t.services) {
		progressed := false
		for _, svc := range t.services {
			if emitted[svc.Name] || inDegree[svc.Name] > 0 {
				continue
			}
			emitted[svc.Name] = true
			order = append(order, svc)
			for _, dependent := range dependents[svc.Name] {
				inDegree[dependent]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, t.cycleError(emitted)
		}
	}

	for _, svc := range order {
		if t.states[svc.Name] == StateRegistered {
			t.states[svc.Name] = StateScheduled
		}
	}
	return order, nil
}

// cycleError walks the unresolved remainder of the graph to name an actual
// cycle rather than just reporting that one exists.
func (t *Topology) cycleError(emitted map[string]bool) error {
	remaining := make(map[string]bool)
	for _, svc := range t.services {
		if !emitted[svc.Name] {
			remaining[svc.Name] = true
		}
	}

	// Follow dependencies inside the remainder until a node repeats.
	var start string
	for _, svc := range t.services {
		if remaining[svc.Name] {
			start = svc.Name
			break
		}
	}

	// Every unresolved service keeps at least one unresolved dependency, so
	// the walk always advances and must revisit a node. The revisited suffix
	// is an exact cycle; anything before it was merely blocked by the cycle,
	// not part of it.
	seen := make(map[string]int)
	var path []string
	current := start
	for {
		if at, ok := seen[current]; ok {
			return &CycleError{Members: path[at:]}
		}
		seen[current] = len(path)
		path = append(path, current)

		i := t.index[current]
		for _, dep := range t.services[i].DependsOn {
			if remaining[dep] {
				current = dep
				break
			}
		}
	}
}

// =============================================================================
// Port Binding
// =============================================================================

// BindPorts validates and claims the host side of the given mappings for a
// service. Only externally exposed mappings claim host ports; two services
// claiming the same host port is a conflict naming both.
func (t *Topology) BindPorts(service string, mappings []PortMapping) error {
	i, ok := t.index[service]
	if !ok {
		return NewTopologyError("BindPorts", service, "service is not registered", ErrUnknownService)
	}

	for _, m := range mappings {
		if m.ContainerPort <= 0 || m.ContainerPort > 65535 {
			return NewTopologyError("BindPorts", service,
				fmt.Sprintf("container port %d out of range", m.ContainerPort), ErrInvalidPort)
		}
		if !m.ExposeExternally {
			continue
		}
		if m.HostPort <= 0 || m.HostPort > 65535 {
			return NewTopologyError("BindPorts", service,
				fmt.Sprintf("host port %d out of range", m.HostPort), ErrInvalidPort)
		}
		if holder, claimed := t.hostPorts[m.HostPort]; claimed && holder != service {
			return &PortConflictError{HostPort: m.HostPort, Claimant: service, Holder: holder}
		}
		t.hostPorts[m.HostPort] = service
	}

	t.services[i].Ports = mappings
	return nil
}

// =============================================================================
// Volume Attachment
// =============================================================================

// AttachVolume associates a persistent volume with a service's mount path.
// Attaching the same logical name at the same path again is a no-op: the
// volume is created once and reused across restarts. Remapping a service's
// volume to a different path is a configuration error.
func (t *Topology) AttachVolume(service string, binding VolumeBinding) error {
	i, ok := t.index[service]
	if !ok {
		return NewTopologyError("AttachVolume", service, "service is not registered", ErrUnknownService)
	}
	if binding.Name == "" || binding.MountPath == "" {
		return NewTopologyError("AttachVolume", service, "volume name and mount path are required", ErrInvalidService)
	}

	if t.attached[service] == nil {
		t.attached[service] = make(map[string]string)
	}
	if existing, ok := t.attached[service][binding.Name]; ok {
		if existing == binding.MountPath {
			return nil // idempotent re-attach
		}
		return NewTopologyError("AttachVolume", service,
			"volume "+binding.Name+" already mounted at "+existing, ErrVolumeRemapped)
	}

	t.attached[service][binding.Name] = binding.MountPath
	if _, ok := t.volumes[binding.Name]; !ok {
		t.volumes[binding.Name] = binding.MountPath
	}
	t.services[i].Volumes = append(t.services[i].Volumes, binding)
	return nil
}

// Volumes returns the logical volume names attached anywhere in the
// topology, in a deterministic order (first-attach order per service
// registration).
func (t *Topology) Volumes() []Volume {
	seen := make(map[string]bool)
	var result []Volume
	for _, svc := range t.services {
		for _, b := range svc.Volumes {
			if !seen[b.Name] {
				seen[b.Name] = true
				result = append(result, Volume{Name: b.Name})
			}
		}
	}
	return result
}
