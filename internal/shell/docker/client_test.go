package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Error Tests
// =============================================================================

func TestDockerError_Formatting(t *testing.T) {
	err := NewDockerError("start", "container", "abc123", "not running", ErrContainerNotRunning)
	assert.Equal(t, "start container abc123: not running", err.Error())
	assert.ErrorIs(t, err, ErrContainerNotRunning)

	err = NewDockerError("create", "network", "", "already exists", ErrNetworkAlreadyExists)
	assert.Equal(t, "create network: already exists", err.Error())

	err = NewDockerError("ping", "", "", "daemon unreachable", ErrConnectionFailed)
	assert.Equal(t, "ping: daemon unreachable", err.Error())
}

func TestDockerError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewDockerError("inspect", "container", "abc", "failed", inner)
	assert.Equal(t, inner, errors.Unwrap(err))
}

// =============================================================================
// Fake Client Tests
// =============================================================================

func TestFakeClient_ContainerLifecycle(t *testing.T) {
	fake := NewFakeClient()
	ctx := context.Background()

	id, err := fake.CreateContainer(ctx, ContainerSpec{Name: "stackd_blog_db", Image: "postgres:16"})
	require.NoError(t, err)
	require.NoError(t, fake.StartContainer(ctx, id))

	info, err := fake.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", info.State)

	require.NoError(t, fake.StopContainer(ctx, id, nil))
	require.NoError(t, fake.RemoveContainer(ctx, id, RemoveOptions{Force: true}))

	_, err = fake.InspectContainer(ctx, id)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestFakeClient_ListContainersByLabel(t *testing.T) {
	fake := NewFakeClient()
	ctx := context.Background()

	_, err := fake.CreateContainer(ctx, ContainerSpec{
		Name:   "stackd_blog_db",
		Image:  "postgres:16",
		Labels: map[string]string{LabelProject: "blog"},
	})
	require.NoError(t, err)
	_, err = fake.CreateContainer(ctx, ContainerSpec{
		Name:   "stackd_other_db",
		Image:  "postgres:16",
		Labels: map[string]string{LabelProject: "other"},
	})
	require.NoError(t, err)

	containers, err := fake.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": LabelProject + "=blog"},
	})
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "stackd_blog_db", containers[0].Name)
}

func TestFakeClient_VolumeCreateIsIdempotent(t *testing.T) {
	fake := NewFakeClient()
	ctx := context.Background()

	_, err := fake.CreateVolume(ctx, VolumeSpec{Name: "stackd_blog_postgres_data"})
	require.NoError(t, err)
	_, err = fake.CreateVolume(ctx, VolumeSpec{Name: "stackd_blog_postgres_data"})
	require.NoError(t, err)

	names, err := fake.ListVolumes(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"stackd_blog_postgres_data"}, names)
}
