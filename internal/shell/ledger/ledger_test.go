package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// Run Tests
// =============================================================================

func TestCreateAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "blog", RunKindUp, "")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusPending, run.Status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "blog", got.Project)
	assert.Equal(t, RunKindUp, got.Kind)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, 5*time.Second)
}

func TestGetRun_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetRunStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "blog", RunKindBuild, "stackd_blog_backend:latest")
	require.NoError(t, err)

	require.NoError(t, s.SetRunStatus(ctx, run.ID, RunStatusFailed, "pip wheel failed"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "pip wheel failed", got.Error)
	assert.Equal(t, "stackd_blog_backend:latest", got.ImageRef)
}

func TestSetRunStatus_NotFound(t *testing.T) {
	s := testStore(t)
	err := s.SetRunStatus(context.Background(), "missing", RunStatusSucceeded, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Service Run Tests
// =============================================================================

func TestRecordService_OrderedByPosition(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "blog", RunKindUp, "")
	require.NoError(t, err)

	require.NoError(t, s.RecordService(ctx, run.ID, ServiceRun{
		Service: "backend", State: "running", ContainerID: "c3", Position: 2,
	}))
	require.NoError(t, s.RecordService(ctx, run.ID, ServiceRun{
		Service: "db", State: "running", ContainerID: "c1", Position: 0,
	}))
	require.NoError(t, s.RecordService(ctx, run.ID, ServiceRun{
		Service: "redis", State: "running", ContainerID: "c2", Position: 1,
	}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Services, 3)
	assert.Equal(t, "db", got.Services[0].Service)
	assert.Equal(t, "redis", got.Services[1].Service)
	assert.Equal(t, "backend", got.Services[2].Service)
}

func TestRecordService_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "blog", RunKindUp, "")
	require.NoError(t, err)

	require.NoError(t, s.RecordService(ctx, run.ID, ServiceRun{
		Service: "db", State: "scheduled", Position: 0,
	}))
	require.NoError(t, s.RecordService(ctx, run.ID, ServiceRun{
		Service: "db", State: "failed", ExitCode: 1, Position: 0,
	}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Services, 1)
	assert.Equal(t, "failed", got.Services[0].State)
	assert.Equal(t, 1, got.Services[0].ExitCode)
}

// =============================================================================
// List Tests
// =============================================================================

func TestListRuns_FilterAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateRun(ctx, "blog", RunKindUp, "")
		require.NoError(t, err)
	}
	_, err := s.CreateRun(ctx, "other", RunKindUp, "")
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, "blog", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = s.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
