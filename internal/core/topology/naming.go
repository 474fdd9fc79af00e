package topology

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the shared network name for a project.
// Pattern: stackd_{project}
func NetworkName(project string) string {
	return fmt.Sprintf("stackd_%s", project)
}

// VolumeName generates the runtime volume name for a logical volume.
// Pattern: stackd_{project}_{volume}
func VolumeName(project, volume string) string {
	return fmt.Sprintf("stackd_%s_%s", project, volume)
}

// ContainerName generates the container name for a service.
// Pattern: stackd_{project}_{service}
func ContainerName(project, service string) string {
	return fmt.Sprintf("stackd_%s_%s", project, service)
}
