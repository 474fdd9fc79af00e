package manifest

import (
	"github.com/stackd/stackd/internal/core/topology"
)

// =============================================================================
// Manifest Types
// =============================================================================

// BuildConfig describes how to build a service image from source.
type BuildConfig struct {
	Context string // build context directory, relative to the manifest
}

// Manifest is the parsed, validated form of a stack manifest. Service order
// follows the declaration order in the source YAML.
type Manifest struct {
	Services []topology.ServiceDescriptor
	Volumes  []topology.Volume
	Builds   map[string]BuildConfig // keyed by service name
}

// Service returns the descriptor for the named service.
func (m *Manifest) Service(name string) (topology.ServiceDescriptor, bool) {
	for _, svc := range m.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return topology.ServiceDescriptor{}, false
}

// BuildServices returns the names of services that require an image build,
// in manifest order.
func (m *Manifest) BuildServices() []string {
	var names []string
	for _, svc := range m.Services {
		if svc.Image.Kind == topology.ImageSourceBuild {
			names = append(names, svc.Name)
		}
	}
	return names
}
