package topology

import "time"

// =============================================================================
// Image Source
// =============================================================================

// ImageSourceKind distinguishes pipeline-built images from pulled ones.
type ImageSourceKind string

const (
	// ImageSourceBuild references the runtime image produced by the build
	// pipeline.
	ImageSourceBuild ImageSourceKind = "build"
	// ImageSourcePull references a pre-built registry image.
	ImageSourcePull ImageSourceKind = "pull"
)

// ImageSource identifies where a service's image comes from. Ref is the
// image tag for pulled images, or the pipeline output tag for built ones.
type ImageSource struct {
	Kind ImageSourceKind
	Ref  string
}

// =============================================================================
// Service Descriptor
// =============================================================================

// PortMapping maps a container port to an optional host port.
// ExposeExternally decides at construction time whether the host side is
// published at all; an internal-only mapping never claims a host port.
type PortMapping struct {
	HostPort         int
	ContainerPort    int
	Protocol         string // "tcp" or "udp", defaults to tcp
	ExposeExternally bool
}

// VolumeBinding maps a logical volume name to a container mount path.
type VolumeBinding struct {
	Name      string
	MountPath string
}

// Probe is an opt-in readiness gate. A service carrying a probe is not
// considered a satisfied dependency until the runtime reports it healthy;
// without one, "dependency satisfied" means the start command was issued.
type Probe struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// ServiceDescriptor is the declarative record of one deployable unit.
// Configuration is carried by value on the descriptor - there is no shared
// process-wide environment payload.
type ServiceDescriptor struct {
	Name        string
	Image       ImageSource
	Command     []string
	Ports       []PortMapping
	EnvFile     string            // reference to an opaque environment payload
	Environment map[string]string // inline values, merged over the payload
	DependsOn   []string
	Volumes     []VolumeBinding
	HealthGate  *Probe
}

// =============================================================================
// Volume
// =============================================================================

// Volume is a named persistent storage unit owned by the orchestration
// runtime. It outlives any single service instance and is destroyed only by
// explicit operator action.
type Volume struct {
	Name string
}
