// Package devprofile generates development container profiles from the build
// pipeline and service topology. The profile targets the builder stage of the
// pipeline so the editing environment carries the full toolchain that the
// runtime image deliberately drops.
package devprofile

import (
	"encoding/json"
	"sort"

	"github.com/stackd/stackd/internal/core/buildspec"
	"github.com/stackd/stackd/internal/core/topology"
)

// =============================================================================
// Profile Types
// =============================================================================

// BuildSection points the profile at a stage of the pipeline dockerfile.
type BuildSection struct {
	Dockerfile string `json:"dockerfile"`
	Context    string `json:"context"`
	Target     string `json:"target,omitempty"`
}

// Profile is a development container profile in devcontainer.json form.
type Profile struct {
	Name              string            `json:"name"`
	Build             BuildSection      `json:"build"`
	ForwardPorts      []int             `json:"forwardPorts,omitempty"`
	RemoteUser        string            `json:"remoteUser,omitempty"`
	ContainerEnv      map[string]string `json:"containerEnv,omitempty"`
	PostCreateCommand string            `json:"postCreateCommand,omitempty"`
}

// Options controls profile generation. Zero values fall back to the standard
// pipeline's layout.
type Options struct {
	Project           string
	Dockerfile        string
	Context           string
	Target            string
	RemoteUser        string
	PostCreateCommand string
}

func (o *Options) applyDefaults() {
	if o.Project == "" {
		o.Project = "stackd"
	}
	if o.Dockerfile == "" {
		o.Dockerfile = "Dockerfile"
	}
	if o.Context == "" {
		o.Context = "."
	}
	if o.Target == "" {
		o.Target = buildspec.StageBuilder
	}
}

// =============================================================================
// Generation
// =============================================================================

// Generate derives a profile from the topology: every externally exposed
// host port becomes a forwarded port, deduplicated and sorted.
func Generate(opts Options, topo *topology.Topology) Profile {
	opts.applyDefaults()

	seen := make(map[int]bool)
	var ports []int
	if topo != nil {
		for _, svc := range topo.Services() {
			for _, p := range svc.Ports {
				if p.ExposeExternally && !seen[p.HostPort] {
					seen[p.HostPort] = true
					ports = append(ports, p.HostPort)
				}
			}
		}
	}
	sort.Ints(ports)

	return Profile{
		Name: opts.Project,
		Build: BuildSection{
			Dockerfile: opts.Dockerfile,
			Context:    opts.Context,
			Target:     opts.Target,
		},
		ForwardPorts:      ports,
		RemoteUser:        opts.RemoteUser,
		PostCreateCommand: opts.PostCreateCommand,
	}
}

// Render serializes the profile as indented JSON with a trailing newline,
// ready to be written to .devcontainer/devcontainer.json.
func Render(p Profile) ([]byte, error) {
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
