package manifest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/stackd/stackd/internal/core/topology"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses a stack manifest (compose-style YAML) into a Manifest.
// This is a pure function - no I/O, no side effects. Relative paths in the
// manifest (build context, env_file) are returned as written; resolving them
// against the manifest location is the caller's job.
func Parse(yamlContent string) (*Manifest, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	m := &Manifest{
		Services: make([]topology.ServiceDescriptor, 0, len(project.Services)),
		Volumes:  make([]topology.Volume, 0, len(project.Volumes)),
		Builds:   make(map[string]BuildConfig),
	}

	// compose-go hands services back as a map; recover the declaration order
	// from the raw YAML so launch tie-breaks stay deterministic.
	for _, name := range orderedKeys(yamlContent, "services", project.Services) {
		svc, ok := project.Services[name]
		if !ok {
			continue
		}
		converted, build, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		if build != nil {
			m.Builds[svc.Name] = *build
		}
		m.Services = append(m.Services, converted)
	}

	if err := validatePorts(m.Services); err != nil {
		return nil, err
	}

	for _, name := range orderedKeys(yamlContent, "volumes", project.Volumes) {
		m.Volumes = append(m.Volumes, topology.Volume{Name: name})
	}

	if err := validateVolumeRefs(m); err != nil {
		return nil, err
	}

	return m, nil
}

// loadProject loads the manifest using compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stackd-temp", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects compose features outside the manifest's
// declarative subset.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service to a topology descriptor plus
// an optional build configuration.
func convertService(svc types.ServiceConfig) (topology.ServiceDescriptor, *BuildConfig, error) {
	desc := topology.ServiceDescriptor{
		Name:        svc.Name,
		Command:     svc.Command,
		Environment: make(map[string]string),
	}

	var build *BuildConfig
	switch {
	case svc.Build != nil:
		// The image is assembled from the staged pipeline; a hand-written
		// dockerfile would bypass it.
		if svc.Build.Dockerfile != "" && svc.Build.Dockerfile != "Dockerfile" {
			return topology.ServiceDescriptor{}, nil, NewParseError(
				"services."+svc.Name+".build.dockerfile",
				"custom dockerfiles are not supported",
				ErrUnsupportedFeature)
		}
		build = &BuildConfig{Context: svc.Build.Context}
		ref := svc.Image
		if ref == "" {
			ref = "stackd_" + svc.Name + ":latest"
		}
		desc.Image = topology.ImageSource{Kind: topology.ImageSourceBuild, Ref: ref}
	case svc.Image != "":
		desc.Image = topology.ImageSource{Kind: topology.ImageSourcePull, Ref: svc.Image}
	default:
		return topology.ServiceDescriptor{}, nil, NewParseError(
			"services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	// Ports. A published side makes the mapping external; otherwise the port
	// is reachable only on the stack network.
	for _, p := range svc.Ports {
		var published int
		if p.Published != "" {
			pub, err := strconv.Atoi(p.Published)
			if err != nil {
				return topology.ServiceDescriptor{}, nil, NewParseError(
					"services."+svc.Name+".ports", "published port must be numeric", ErrServiceInvalidPort)
			}
			published = pub
		}
		desc.Ports = append(desc.Ports, topology.PortMapping{
			HostPort:         published,
			ContainerPort:    int(p.Target),
			Protocol:         p.Protocol,
			ExposeExternally: published > 0,
		})
	}

	// Expose entries become internal-only mappings: reachable on the stack
	// network, never published on the host.
	for _, e := range svc.Expose {
		target, err := strconv.Atoi(e)
		if err != nil {
			return topology.ServiceDescriptor{}, nil, NewParseError(
				"services."+svc.Name+".expose", "exposed port must be numeric", ErrServiceInvalidPort)
		}
		desc.Ports = append(desc.Ports, topology.PortMapping{
			ContainerPort: target,
		})
	}

	// Environment
	for k, v := range svc.Environment {
		if v != nil {
			desc.Environment[k] = *v
		}
	}

	// Environment payload reference
	if len(svc.EnvFiles) > 0 {
		desc.EnvFile = svc.EnvFiles[0].Path
	}

	// DependsOn (sorted for determinism; relative launch order between
	// independent dependencies is decided by manifest order, not here)
	for dep := range svc.DependsOn {
		desc.DependsOn = append(desc.DependsOn, dep)
	}
	sort.Strings(desc.DependsOn)

	// Volumes
	for _, v := range svc.Volumes {
		if v.Type != "" && v.Type != "volume" {
			return topology.ServiceDescriptor{}, nil, NewParseError(
				"services."+svc.Name+".volumes",
				v.Type+" mounts are not supported, use named volumes",
				ErrUnsupportedFeature)
		}
		desc.Volumes = append(desc.Volumes, topology.VolumeBinding{
			Name:      v.Source,
			MountPath: v.Target,
		})
	}

	// HealthCheck becomes an opt-in readiness gate
	if svc.HealthCheck != nil && !svc.HealthCheck.Disable && len(svc.HealthCheck.Test) > 0 {
		probe := &topology.Probe{Test: svc.HealthCheck.Test}
		if svc.HealthCheck.Retries != nil {
			probe.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			probe.Interval = time.Duration(*svc.HealthCheck.Interval)
		}
		if svc.HealthCheck.Timeout != nil {
			probe.Timeout = time.Duration(*svc.HealthCheck.Timeout)
		}
		if svc.HealthCheck.StartPeriod != nil {
			probe.StartPeriod = time.Duration(*svc.HealthCheck.StartPeriod)
		}
		desc.HealthGate = probe
	}

	return desc, build, nil
}

// validatePorts validates all port configurations.
func validatePorts(services []topology.ServiceDescriptor) error {
	for _, svc := range services {
		for _, port := range svc.Ports {
			if port.ContainerPort <= 0 || port.ContainerPort > 65535 {
				return NewParseError(
					"services."+svc.Name+".ports",
					"container port must be between 1 and 65535",
					ErrServiceInvalidPort)
			}
			if port.HostPort < 0 || port.HostPort > 65535 {
				return NewParseError(
					"services."+svc.Name+".ports",
					"host port must be between 0 and 65535",
					ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

// validateVolumeRefs checks every service volume binding against the
// top-level volume declarations.
func validateVolumeRefs(m *Manifest) error {
	declared := make(map[string]bool, len(m.Volumes))
	for _, v := range m.Volumes {
		declared[v.Name] = true
	}
	for _, svc := range m.Services {
		for _, b := range svc.Volumes {
			if !declared[b.Name] {
				return NewParseError(
					"services."+svc.Name+".volumes",
					"volume "+b.Name+" is not declared",
					ErrUnknownVolume)
			}
		}
	}
	return nil
}

// =============================================================================
// Declaration Order Recovery
// =============================================================================

// orderedKeys returns the keys of a top-level mapping section in YAML
// declaration order, falling back to sorted order for any key the raw walk
// missed (interpolated names, duplicate documents).
func orderedKeys[V any](yamlContent, section string, entries map[string]V) []string {
	seen := make(map[string]bool, len(entries))
	var names []string
	for _, name := range yamlSectionKeys(yamlContent, section) {
		if _, ok := entries[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range entries {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// yamlSectionKeys walks the raw document for the keys of one top-level
// mapping section.
func yamlSectionKeys(yamlContent, section string) []string {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &root); err != nil {
		return nil
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != section || doc.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		body := doc.Content[i+1]
		var keys []string
		for j := 0; j+1 < len(body.Content); j += 2 {
			keys = append(keys, body.Content[j].Value)
		}
		return keys
	}
	return nil
}

// =============================================================================
// Topology Construction
// =============================================================================

// ToTopology registers every manifest service into a fresh topology,
// claiming host ports and attaching volumes along the way. The returned
// topology has every service in the registered state.
func ToTopology(m *Manifest) (*topology.Topology, error) {
	topo := topology.New()

	for _, svc := range m.Services {
		desc := svc
		desc.Ports = nil
		desc.Volumes = nil
		if err := topo.Register(desc); err != nil {
			return nil, err
		}
	}

	// Ports and volumes go through the topology's own claim paths so
	// conflicts surface with the holder named.
	for _, svc := range m.Services {
		if len(svc.Ports) > 0 {
			if err := topo.BindPorts(svc.Name, svc.Ports); err != nil {
				return nil, err
			}
		}
		for _, b := range svc.Volumes {
			if err := topo.AttachVolume(svc.Name, b); err != nil {
				return nil, err
			}
		}
	}

	return topo, nil
}
