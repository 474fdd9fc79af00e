package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd/stackd/internal/core/topology"
)

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_DefaultManifest(t *testing.T) {
	m, err := Parse(DefaultManifest)
	require.NoError(t, err)
	require.Len(t, m.Services, 3)

	// Declaration order survives the round trip through compose-go's maps.
	assert.Equal(t, "backend", m.Services[0].Name)
	assert.Equal(t, "db", m.Services[1].Name)
	assert.Equal(t, "redis", m.Services[2].Name)

	backend := m.Services[0]
	assert.Equal(t, topology.ImageSourceBuild, backend.Image.Kind)
	assert.Equal(t, ".env", backend.EnvFile)
	assert.Equal(t, []string{"db", "redis"}, backend.DependsOn)
	assert.Equal(t, "postgresql://blog:blog@db:5432/blog", backend.Environment["DATABASE_URL"])
	require.Len(t, backend.Ports, 1)
	assert.Equal(t, 8000, backend.Ports[0].HostPort)
	assert.Equal(t, 8000, backend.Ports[0].ContainerPort)
	assert.True(t, backend.Ports[0].ExposeExternally)

	build, ok := m.Builds["backend"]
	require.True(t, ok)
	assert.Equal(t, ".", build.Context)

	db := m.Services[1]
	assert.Equal(t, topology.ImageSourcePull, db.Image.Kind)
	assert.Equal(t, "postgres:16", db.Image.Ref)
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, "postgres_data", db.Volumes[0].Name)
	assert.Equal(t, "/var/lib/postgresql/data", db.Volumes[0].MountPath)

	require.Len(t, m.Volumes, 1)
	assert.Equal(t, "postgres_data", m.Volumes[0].Name)
	assert.Equal(t, []string{"backend"}, m.BuildServices())
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse("   \n  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse("services: [unclosed")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_ServiceWithoutImageOrBuild(t *testing.T) {
	_, err := Parse(`services:
  backend:
    ports:
      - "8000:8000"
`)
	assert.ErrorIs(t, err, ErrServiceNoImage)
}

func TestParse_SecretsUnsupported(t *testing.T) {
	_, err := Parse(`services:
  backend:
    image: backend:latest
secrets:
  jwt_key:
    environment: JWT_SECRET_KEY
`)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParse_CustomDockerfileUnsupported(t *testing.T) {
	_, err := Parse(`services:
  backend:
    build:
      context: .
      dockerfile: Dockerfile.custom
`)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParse_DefaultDockerfileNameAccepted(t *testing.T) {
	m, err := Parse(`services:
  backend:
    build:
      context: .
      dockerfile: Dockerfile
`)
	require.NoError(t, err)
	_, ok := m.Builds["backend"]
	assert.True(t, ok)
}

func TestParse_BindMountUnsupported(t *testing.T) {
	_, err := Parse(`services:
  db:
    image: postgres:16
    volumes:
      - ./data:/var/lib/postgresql/data
`)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParse_UndeclaredVolume(t *testing.T) {
	_, err := Parse(`services:
  db:
    image: postgres:16
    volumes:
      - postgres_data:/var/lib/postgresql/data
`)
	assert.ErrorIs(t, err, ErrUnknownVolume)
}

func TestParse_InternalOnlyPort(t *testing.T) {
	m, err := Parse(`services:
  db:
    image: postgres:16
    expose:
      - "5432"
`)
	require.NoError(t, err)
	// expose entries never publish; no port mapping claims the host side.
	require.Len(t, m.Services[0].Ports, 1)
	assert.Equal(t, 5432, m.Services[0].Ports[0].ContainerPort)
	assert.False(t, m.Services[0].Ports[0].ExposeExternally)
}

func TestParse_HealthGate(t *testing.T) {
	m, err := Parse(`services:
  db:
    image: postgres:16
    healthcheck:
      test: ["CMD", "pg_isready", "-U", "blog"]
      interval: 5s
      timeout: 3s
      retries: 4
      start_period: 10s
`)
	require.NoError(t, err)

	gate := m.Services[0].HealthGate
	require.NotNil(t, gate)
	assert.Equal(t, []string{"CMD", "pg_isready", "-U", "blog"}, gate.Test)
	assert.Equal(t, 5*time.Second, gate.Interval)
	assert.Equal(t, 3*time.Second, gate.Timeout)
	assert.Equal(t, 4, gate.Retries)
	assert.Equal(t, 10*time.Second, gate.StartPeriod)
}

func TestParse_NoHealthGateByDefault(t *testing.T) {
	m, err := Parse(`services:
  redis:
    image: redis:7
`)
	require.NoError(t, err)
	assert.Nil(t, m.Services[0].HealthGate)
}

// =============================================================================
// ToTopology Tests
// =============================================================================

func TestToTopology_DefaultManifest(t *testing.T) {
	m, err := Parse(DefaultManifest)
	require.NoError(t, err)

	topo, err := ToTopology(m)
	require.NoError(t, err)

	order, err := topo.ResolveOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, "backend", order[2].Name)

	backend, ok := topo.Service("backend")
	require.True(t, ok)
	require.Len(t, backend.Ports, 1)
	assert.Equal(t, 8000, backend.Ports[0].HostPort)

	db, ok := topo.Service("db")
	require.True(t, ok)
	require.Len(t, db.Volumes, 1)
	assert.Len(t, topo.Volumes(), 1)
}

func TestToTopology_HostPortConflict(t *testing.T) {
	m, err := Parse(`services:
  backend:
    image: backend:latest
    ports:
      - "8000:8000"
  admin:
    image: admin:latest
    ports:
      - "8000:80"
`)
	require.NoError(t, err)

	_, err = ToTopology(m)
	assert.ErrorIs(t, err, topology.ErrPortConflict)
}
