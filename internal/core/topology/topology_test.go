package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pulled(name string, deps ...string) ServiceDescriptor {
	return ServiceDescriptor{
		Name:      name,
		Image:     ImageSource{Kind: ImageSourcePull, Ref: name + ":latest"},
		DependsOn: deps,
	}
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestRegister_Simple(t *testing.T) {
	topo := New()
	err := topo.Register(pulled("db"))
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, topo.State("db"))
}

func TestRegister_Duplicate(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))

	err := topo.Register(pulled("db"))
	assert.ErrorIs(t, err, ErrDuplicateService)
}

func TestRegister_SelfDependency(t *testing.T) {
	topo := New()
	err := topo.Register(pulled("backend", "backend"))
	assert.ErrorIs(t, err, ErrSelfDependency)
}

func TestRegister_MissingImage(t *testing.T) {
	topo := New()
	err := topo.Register(ServiceDescriptor{Name: "backend"})
	assert.ErrorIs(t, err, ErrInvalidService)
}

// =============================================================================
// Order Resolution Tests
// =============================================================================

func TestResolveOrder_ThreeTier(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))
	require.NoError(t, topo.Register(pulled("redis")))
	require.NoError(t, topo.Register(pulled("backend", "db", "redis")))

	order, err := topo.ResolveOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)

	// db and redis in either relative order, backend strictly last.
	assert.Equal(t, "backend", order[2].Name)
	names := []string{order[0].Name, order[1].Name}
	assert.ElementsMatch(t, []string{"db", "redis"}, names)

	for _, svc := range order {
		assert.Equal(t, StateScheduled, topo.State(svc.Name))
	}
}

func TestResolveOrder_InsertionOrderTieBreak(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("redis")))
	require.NoError(t, topo.Register(pulled("db")))
	require.NoError(t, topo.Register(pulled("backend", "db", "redis")))

	order, err := topo.ResolveOrder()
	require.NoError(t, err)

	// Independent services come out in registration order.
	assert.Equal(t, "redis", order[0].Name)
	assert.Equal(t, "db", order[1].Name)
	assert.Equal(t, "backend", order[2].Name)
}

func TestResolveOrder_DeepChain(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("web", "api")))
	require.NoError(t, topo.Register(pulled("api", "db")))
	require.NoError(t, topo.Register(pulled("db")))

	order, err := topo.ResolveOrder()
	require.NoError(t, err)

	assert.Equal(t, "db", order[0].Name)
	assert.Equal(t, "api", order[1].Name)
	assert.Equal(t, "web", order[2].Name)
}

func TestResolveOrder_Cycle(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("backend", "cache")))
	require.NoError(t, topo.Register(pulled("cache", "backend")))

	_, err := topo.ResolveOrder()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicDependency)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"backend", "cache"}, cycleErr.Members)
	assert.Contains(t, cycleErr.Error(), "backend")
	assert.Contains(t, cycleErr.Error(), "cache")
}

func TestResolveOrder_CycleExcludesBlockedServices(t *testing.T) {
	// web only depends on the cycle; it must not be reported as a member.
	topo := New()
	require.NoError(t, topo.Register(pulled("web", "backend")))
	require.NoError(t, topo.Register(pulled("backend", "cache")))
	require.NoError(t, topo.Register(pulled("cache", "backend")))

	_, err := topo.ResolveOrder()
	require.ErrorIs(t, err, ErrCyclicDependency)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"backend", "cache"}, cycleErr.Members)
	assert.NotContains(t, cycleErr.Members, "web")
}

func TestResolveOrder_CycleNeverSchedules(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("standalone")))
	require.NoError(t, topo.Register(pulled("a", "b")))
	require.NoError(t, topo.Register(pulled("b", "a")))

	_, err := topo.ResolveOrder()
	require.ErrorIs(t, err, ErrCyclicDependency)

	// No partial scheduling: the whole resolution fails.
	assert.Equal(t, StateRegistered, topo.State("standalone"))
	assert.Equal(t, StateRegistered, topo.State("a"))
}

func TestResolveOrder_UnknownDependency(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("backend", "db")))

	_, err := topo.ResolveOrder()
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

// =============================================================================
// Port Binding Tests
// =============================================================================

func TestBindPorts_DistinctHostPorts(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("backend")))
	require.NoError(t, topo.Register(pulled("db")))

	err := topo.BindPorts("backend", []PortMapping{
		{HostPort: 8000, ContainerPort: 8000, ExposeExternally: true},
	})
	require.NoError(t, err)

	err = topo.BindPorts("db", []PortMapping{
		{HostPort: 5432, ContainerPort: 5432, ExposeExternally: true},
	})
	assert.NoError(t, err)
}

func TestBindPorts_Conflict(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("backend")))
	require.NoError(t, topo.Register(pulled("admin")))

	require.NoError(t, topo.BindPorts("backend", []PortMapping{
		{HostPort: 8000, ContainerPort: 8000, ExposeExternally: true},
	}))

	err := topo.BindPorts("admin", []PortMapping{
		{HostPort: 8000, ContainerPort: 80, ExposeExternally: true},
	})
	require.ErrorIs(t, err, ErrPortConflict)

	var conflict *PortConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 8000, conflict.HostPort)
	assert.Equal(t, "backend", conflict.Holder)
	assert.Equal(t, "admin", conflict.Claimant)
}

func TestBindPorts_InternalOnlyNeverConflicts(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))
	require.NoError(t, topo.Register(pulled("db-replica")))

	// Internal mappings never claim a host port, so identical container
	// ports coexist.
	require.NoError(t, topo.BindPorts("db", []PortMapping{{ContainerPort: 5432}}))
	require.NoError(t, topo.BindPorts("db-replica", []PortMapping{{ContainerPort: 5432}}))
}

func TestBindPorts_InvalidContainerPort(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))

	err := topo.BindPorts("db", []PortMapping{{ContainerPort: 0}})
	assert.ErrorIs(t, err, ErrInvalidPort)

	err = topo.BindPorts("db", []PortMapping{{ContainerPort: 70000}})
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestBindPorts_ExternalRequiresHostPort(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("backend")))

	err := topo.BindPorts("backend", []PortMapping{
		{ContainerPort: 8000, ExposeExternally: true},
	})
	assert.ErrorIs(t, err, ErrInvalidPort)
}

// =============================================================================
// Volume Attachment Tests
// =============================================================================

func TestAttachVolume_Idempotent(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))

	binding := VolumeBinding{Name: "postgres_data", MountPath: "/var/lib/postgresql/data"}
	require.NoError(t, topo.AttachVolume("db", binding))
	require.NoError(t, topo.AttachVolume("db", binding))

	svc, ok := topo.Service("db")
	require.True(t, ok)
	assert.Len(t, svc.Volumes, 1)
	assert.Len(t, topo.Volumes(), 1)
}

func TestAttachVolume_Remap(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))

	require.NoError(t, topo.AttachVolume("db", VolumeBinding{Name: "postgres_data", MountPath: "/var/lib/postgresql/data"}))

	err := topo.AttachVolume("db", VolumeBinding{Name: "postgres_data", MountPath: "/data"})
	assert.ErrorIs(t, err, ErrVolumeRemapped)
}

func TestAttachVolume_UnknownService(t *testing.T) {
	topo := New()
	err := topo.AttachVolume("ghost", VolumeBinding{Name: "v", MountPath: "/v"})
	assert.ErrorIs(t, err, ErrUnknownService)
}

// =============================================================================
// Naming Tests
// =============================================================================

func TestNaming(t *testing.T) {
	assert.Equal(t, "stackd_blog", NetworkName("blog"))
	assert.Equal(t, "stackd_blog_postgres_data", VolumeName("blog", "postgres_data"))
	assert.Equal(t, "stackd_blog_backend", ContainerName("blog", "backend"))
}
