package buildspec

import "fmt"

// =============================================================================
// Standard Backend Pipeline
// =============================================================================

// Stage names used by the standard pipeline.
const (
	StageBuilder = "builder"
	StageRuntime = "runtime"
)

// PipelineConfig parameterizes the standard two-stage backend pipeline.
// Zero values fall back to the defaults of a Python API service.
type PipelineConfig struct {
	// BaseImage is the build and runtime base environment.
	BaseImage string

	// AppDir is the in-image application directory and the identity's
	// ownership scope.
	AppDir string

	// DependencyManifest is the dependency specifier file inside the
	// build context, treated as an immutable input blob.
	DependencyManifest string

	// WheelDir is where the builder stage materializes installable
	// dependency artifacts. Only this directory crosses the stage boundary.
	WheelDir string

	// Identity is the non-root account the runtime image executes as.
	Identity Identity

	// Entrypoint launches the application unit bound to all interfaces.
	Entrypoint []string

	// ExposePort is the single container-internal listener port.
	ExposePort int
}

func (c *PipelineConfig) applyDefaults() {
	if c.BaseImage == "" {
		c.BaseImage = "python:3.12-slim"
	}
	if c.AppDir == "" {
		c.AppDir = "/app"
	}
	if c.DependencyManifest == "" {
		c.DependencyManifest = "requirements.txt"
	}
	if c.WheelDir == "" {
		c.WheelDir = c.AppDir + "/wheels"
	}
	if c.Identity.User == "" {
		c.Identity = Identity{User: "app", Group: "app", Home: c.AppDir}
	}
	if c.ExposePort == 0 {
		c.ExposePort = 8000
	}
	if len(c.Entrypoint) == 0 {
		c.Entrypoint = []string{
			"uvicorn", "app.app:app",
			"--host", "0.0.0.0",
			"--port", fmt.Sprintf("%d", c.ExposePort),
		}
	}
}

// StandardPipeline builds the canonical two-stage pipeline: a builder stage
// that compiles the dependency manifest into wheels, and a runtime stage that
// receives only the wheel directory, installs from it offline, copies the
// source tree from the context, and drops privileges.
//
// The builder's pip cache, toolchain and manifest never reach the runtime
// stage; the runtime re-copies the manifest from the build context.
func StandardPipeline(cfg PipelineConfig) (*Pipeline, *RuntimeImage, error) {
	cfg.applyDefaults()

	p := New()

	if _, err := p.DeclareStage(StageBuilder, cfg.BaseImage, []Op{
		Workdir(cfg.AppDir),
		Copy(cfg.DependencyManifest, "./"),
		Run(fmt.Sprintf("pip wheel --no-cache-dir --wheel-dir %s -r %s", cfg.WheelDir, cfg.DependencyManifest), cfg.WheelDir),
	}); err != nil {
		return nil, nil, err
	}

	wheels, err := p.ExportArtifacts(StageBuilder, cfg.WheelDir)
	if err != nil {
		return nil, nil, err
	}

	if _, err := p.DeclareStage(StageRuntime, cfg.BaseImage, []Op{
		Workdir(cfg.AppDir),
	}); err != nil {
		return nil, nil, err
	}

	if err := p.Promote(StageBuilder, StageRuntime, wheels); err != nil {
		return nil, nil, err
	}

	if err := p.Append(StageRuntime,
		Copy(cfg.DependencyManifest, "./"),
		Run(fmt.Sprintf("pip install --no-cache-dir --no-index --find-links %s -r %s && rm -rf %s", cfg.WheelDir, cfg.DependencyManifest, cfg.WheelDir)),
		Copy(".", "."),
	); err != nil {
		return nil, nil, err
	}

	img, err := p.Finalize(StageRuntime, cfg.Identity, cfg.Entrypoint, cfg.ExposePort)
	if err != nil {
		return nil, nil, err
	}

	return p, img, nil
}
