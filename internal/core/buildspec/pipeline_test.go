package buildspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Stage Declaration Tests
// =============================================================================

func TestDeclareStage_Simple(t *testing.T) {
	p := New()
	stage, err := p.DeclareStage("builder", "python:3.12-slim", []Op{
		Workdir("/app"),
	})
	require.NoError(t, err)
	assert.Equal(t, "builder", stage.Name)
	assert.Equal(t, "python:3.12-slim", stage.Base)
	assert.Len(t, p.Stages(), 1)
}

func TestDeclareStage_NameCollision(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", nil)
	require.NoError(t, err)

	_, err = p.DeclareStage("builder", "python:3.12-slim", nil)
	assert.ErrorIs(t, err, ErrStageExists)
}

func TestDeclareStage_UndeclaredBase(t *testing.T) {
	p := New()
	// "builder" carries no tag or registry path, so it must name a declared stage.
	_, err := p.DeclareStage("runtime", "builder", nil)
	assert.ErrorIs(t, err, ErrUnknownBase)
}

func TestDeclareStage_StageAsBase(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", nil)
	require.NoError(t, err)

	_, err = p.DeclareStage("runtime", "builder", nil)
	assert.NoError(t, err)
}

func TestDeclareStage_EmptyName(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("", "python:3.12-slim", nil)
	assert.ErrorIs(t, err, ErrInvalidStageName)
}

// =============================================================================
// Export Tests
// =============================================================================

func TestExportArtifacts_ProducedPath(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", []Op{
		Workdir("/app"),
		Run("pip wheel --wheel-dir /app/wheels -r requirements.txt", "/app/wheels"),
	})
	require.NoError(t, err)

	set, err := p.ExportArtifacts("builder", "/app/wheels")
	require.NoError(t, err)
	assert.Equal(t, "builder", set.Stage)
	assert.Equal(t, []string{"/app/wheels"}, set.Paths)
}

func TestExportArtifacts_Unresolved(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", []Op{
		Workdir("/app"),
	})
	require.NoError(t, err)

	_, err = p.ExportArtifacts("builder", "/app/wheels")
	assert.ErrorIs(t, err, ErrUnresolvedArtifact)
}

func TestExportArtifacts_CopiedFile(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", []Op{
		Workdir("/app"),
		Copy("requirements.txt", "./"),
	})
	require.NoError(t, err)

	// Relative copy destinations resolve against the working directory.
	_, err = p.ExportArtifacts("builder", "/app/requirements.txt")
	assert.NoError(t, err)
}

func TestExportArtifacts_UnknownStage(t *testing.T) {
	p := New()
	_, err := p.ExportArtifacts("ghost", "/app")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

// =============================================================================
// Promotion Tests
// =============================================================================

func TestPromote_ArtifactScoped(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", []Op{
		Workdir("/app"),
		Copy("requirements.txt", "./"),
		Run("pip wheel --wheel-dir /app/wheels -r requirements.txt", "/app/wheels"),
	})
	require.NoError(t, err)

	wheels, err := p.ExportArtifacts("builder", "/app/wheels")
	require.NoError(t, err)

	runtime, err := p.DeclareStage("runtime", "python:3.12-slim", []Op{
		Workdir("/app"),
	})
	require.NoError(t, err)

	require.NoError(t, p.Promote("builder", "runtime", wheels))

	// The runtime gains exactly the exported set and nothing else the
	// builder produced.
	assert.True(t, runtime.Contains("/app/wheels"))
	assert.True(t, runtime.Contains("/app/wheels/foo-1.0-py3-none-any.whl"))
	assert.False(t, runtime.Contains("/app/requirements.txt"))
}

func TestPromote_NotExported(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "python:3.12-slim", []Op{
		Run("make", "/out/bin", "/out/cache"),
	})
	require.NoError(t, err)
	_, err = p.DeclareStage("runtime", "debian:bookworm-slim", nil)
	require.NoError(t, err)

	// Hand-built set bypassing ExportArtifacts must be rejected.
	err = p.Promote("builder", "runtime", ArtifactSet{Stage: "builder", Paths: []string{"/out/cache"}})
	assert.ErrorIs(t, err, ErrNotExported)
}

func TestPromote_WrongSetOwner(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("a", "alpine:3.20", []Op{Run("true", "/x")})
	require.NoError(t, err)
	_, err = p.DeclareStage("b", "alpine:3.20", nil)
	require.NoError(t, err)

	set, err := p.ExportArtifacts("a", "/x")
	require.NoError(t, err)
	set.Stage = "b"

	err = p.Promote("a", "b", set)
	assert.ErrorIs(t, err, ErrNotExported)
}

func TestPromote_ForwardOnly(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("first", "alpine:3.20", []Op{Run("true", "/x")})
	require.NoError(t, err)
	_, err = p.DeclareStage("second", "alpine:3.20", []Op{Run("true", "/y")})
	require.NoError(t, err)

	set, err := p.ExportArtifacts("second", "/y")
	require.NoError(t, err)

	err = p.Promote("second", "first", set)
	assert.ErrorIs(t, err, ErrPromoteOrder)
}

// =============================================================================
// Finalization Tests
// =============================================================================

func TestFinalize_SealsStage(t *testing.T) {
	p := New()
	stage, err := p.DeclareStage("runtime", "python:3.12-slim", []Op{Workdir("/app")})
	require.NoError(t, err)

	img, err := p.Finalize("runtime", Identity{User: "app", Group: "app", Home: "/app"},
		[]string{"uvicorn", "app.app:app"}, 8000)
	require.NoError(t, err)

	assert.True(t, stage.Sealed())
	assert.Equal(t, "runtime", img.Stage)
	assert.Equal(t, 8000, img.ExposePort)

	// Sealed stages are immutable.
	err = p.Append("runtime", Run("true"))
	assert.ErrorIs(t, err, ErrStageSealed)

	_, err = p.Finalize("runtime", Identity{User: "app", Group: "app"}, []string{"x"}, 0)
	assert.ErrorIs(t, err, ErrStageSealed)
}

func TestFinalize_RequiresEntrypoint(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("runtime", "python:3.12-slim", nil)
	require.NoError(t, err)

	_, err = p.Finalize("runtime", Identity{User: "app", Group: "app"}, nil, 8000)
	assert.ErrorIs(t, err, ErrNoEntrypoint)
}

func TestFinalize_PromoteIntoSealed(t *testing.T) {
	p := New()
	_, err := p.DeclareStage("builder", "alpine:3.20", []Op{Run("true", "/x")})
	require.NoError(t, err)
	set, err := p.ExportArtifacts("builder", "/x")
	require.NoError(t, err)

	_, err = p.DeclareStage("runtime", "alpine:3.20", nil)
	require.NoError(t, err)
	_, err = p.Finalize("runtime", Identity{User: "app", Group: "app"}, []string{"sh"}, 0)
	require.NoError(t, err)

	err = p.Promote("builder", "runtime", set)
	assert.ErrorIs(t, err, ErrStageSealed)
}
