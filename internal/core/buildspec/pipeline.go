package buildspec

import (
	"path"
	"strings"
)

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline is an ordered set of build stages. Stages execute strictly in
// declaration order; a later stage only sees what an earlier stage explicitly
// exported and promoted across the boundary.
type Pipeline struct {
	stages  []*Stage
	byName  map[string]*Stage
	runtime *RuntimeImage
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		byName: make(map[string]*Stage),
	}
}

// Stages returns the stages in declaration order.
func (p *Pipeline) Stages() []*Stage {
	return p.stages
}

// Stage returns the named stage, or nil if it was never declared.
func (p *Pipeline) Stage(name string) *Stage {
	return p.byName[name]
}

// Runtime returns the finalized runtime image, or nil before Finalize.
func (p *Pipeline) Runtime() *RuntimeImage {
	return p.runtime
}

// =============================================================================
// Stage Declaration
// =============================================================================

// DeclareStage registers a stage with an ordered sequence of operations.
//
// The base is either an external image reference (anything containing ":" or
// "/", e.g. "python:3.12-slim") or the name of a previously declared stage.
// Referencing a stage that has not been declared yet is a configuration
// error, as is reusing a stage name.
func (p *Pipeline) DeclareStage(name, base string, ops []Op) (*Stage, error) {
	if name == "" {
		return nil, NewBuildError("DeclareStage", name, "stage name must not be empty", ErrInvalidStageName)
	}
	if base == "" {
		return nil, NewBuildError("DeclareStage", name, "base must not be empty", ErrUnknownBase)
	}
	if _, exists := p.byName[name]; exists {
		return nil, NewBuildError("DeclareStage", name, "stage name already in use", ErrStageExists)
	}
	if !isExternalBase(base) {
		if _, ok := p.byName[base]; !ok {
			return nil, NewBuildError("DeclareStage", name, "base stage "+base+" is not declared", ErrUnknownBase)
		}
	}

	stage := &Stage{
		Name:     name,
		Base:     base,
		paths:    make(map[string]bool),
		exported: make(map[string]bool),
	}
	if err := p.appendOps(stage, ops); err != nil {
		return nil, err
	}

	p.stages = append(p.stages, stage)
	p.byName[name] = stage
	return stage, nil
}

// Append adds operations to an existing, unsealed stage. Promotions land in
// the middle of a stage's sequence, so later operations (dependency install,
// source copy) are appended after the promote.
func (p *Pipeline) Append(stageName string, ops ...Op) error {
	stage, ok := p.byName[stageName]
	if !ok {
		return NewBuildError("Append", stageName, "stage is not declared", ErrUnknownStage)
	}
	if stage.sealed {
		return NewBuildError("Append", stageName, "cannot modify a sealed stage", ErrStageSealed)
	}
	return p.appendOps(stage, ops)
}

// appendOps replays ops onto the stage's simulated filesystem.
func (p *Pipeline) appendOps(stage *Stage, ops []Op) error {
	workdir := currentWorkdir(stage.Ops)
	for _, op := range ops {
		switch op.Kind {
		case OpKindWorkdir:
			workdir = op.Dir
		case OpKindCopy, OpKindCopyFrom:
			stage.paths[resolveCopyDst(workdir, op.Src, op.Dst)] = true
		case OpKindRun:
			for _, produced := range op.Produces {
				stage.paths[resolveAgainst(workdir, produced)] = true
			}
		default:
			return NewBuildError("DeclareStage", stage.Name, "unknown operation kind "+string(op.Kind), ErrInvalidStageName)
		}
		stage.Ops = append(stage.Ops, op)
	}
	return nil
}

// =============================================================================
// Artifact Export
// =============================================================================

// ExportArtifacts marks paths of a stage as promotable. Every path must be
// covered by the stage's simulated filesystem; referencing a path no
// operation produces fails before anything is built.
func (p *Pipeline) ExportArtifacts(stageName string, paths ...string) (ArtifactSet, error) {
	stage, ok := p.byName[stageName]
	if !ok {
		return ArtifactSet{}, NewBuildError("ExportArtifacts", stageName, "stage is not declared", ErrUnknownStage)
	}
	if stage.sealed {
		return ArtifactSet{}, NewBuildError("ExportArtifacts", stageName, "stage is sealed", ErrStageSealed)
	}

	set := ArtifactSet{Stage: stageName}
	for _, raw := range paths {
		path := normalizePath(raw)
		if !stage.Contains(path) {
			return ArtifactSet{}, NewBuildError("ExportArtifacts", stageName,
				"path "+path+" does not exist after the stage's operations", ErrUnresolvedArtifact)
		}
		stage.exported[path] = true
		set.Paths = append(set.Paths, path)
	}
	return set, nil
}

// =============================================================================
// Promotion
// =============================================================================

// Promote copies exactly the named artifacts from the source stage into the
// target stage's filesystem namespace. The target never gains visibility
// into anything else the source produced: build toolchains, caches and
// intermediate files stay behind the boundary.
func (p *Pipeline) Promote(srcName, dstName string, set ArtifactSet) error {
	src, ok := p.byName[srcName]
	if !ok {
		return NewBuildError("Promote", srcName, "source stage is not declared", ErrUnknownStage)
	}
	dst, ok := p.byName[dstName]
	if !ok {
		return NewBuildError("Promote", dstName, "target stage is not declared", ErrUnknownStage)
	}
	if set.Stage != srcName {
		return NewBuildError("Promote", srcName, "artifact set belongs to stage "+set.Stage, ErrNotExported)
	}
	if dst.sealed {
		return NewBuildError("Promote", dstName, "target stage is sealed", ErrStageSealed)
	}
	if p.stageIndex(dstName) <= p.stageIndex(srcName) {
		return NewBuildError("Promote", dstName, "cannot promote forward into "+srcName, ErrPromoteOrder)
	}

	for _, path := range set.Paths {
		if !src.Exported(path) {
			return NewBuildError("Promote", srcName, "path "+path+" was not exported", ErrNotExported)
		}
	}

	for _, path := range set.Paths {
		op := Op{Kind: OpKindCopyFrom, FromStage: srcName, Src: path, Dst: path}
		dst.paths[path] = true
		dst.Ops = append(dst.Ops, op)
	}
	return nil
}

// =============================================================================
// Finalization
// =============================================================================

// Finalize transfers ownership of the stage's filesystem to the runtime
// identity, fixes the entrypoint and exposed port, and seals the stage. The
// build-time administrative identity does not persist past this point: the
// ownership transfer is the last write performed as root.
func (p *Pipeline) Finalize(stageName string, identity Identity, entrypoint []string, exposePort int) (*RuntimeImage, error) {
	stage, ok := p.byName[stageName]
	if !ok {
		return nil, NewBuildError("Finalize", stageName, "stage is not declared", ErrUnknownStage)
	}
	if stage.sealed {
		return nil, NewBuildError("Finalize", stageName, "stage is already sealed", ErrStageSealed)
	}
	if len(entrypoint) == 0 {
		return nil, NewBuildError("Finalize", stageName, "entrypoint must not be empty", ErrNoEntrypoint)
	}
	if identity.User == "" || identity.Group == "" {
		return nil, NewBuildError("Finalize", stageName, "runtime identity requires user and group", ErrNoEntrypoint)
	}
	if identity.Home == "" {
		identity.Home = "/app"
	}

	stage.sealed = true
	p.runtime = &RuntimeImage{
		Stage:      stageName,
		Identity:   identity,
		Entrypoint: entrypoint,
		ExposePort: exposePort,
	}
	return p.runtime, nil
}

// =============================================================================
// Path Helpers
// =============================================================================

func (p *Pipeline) stageIndex(name string) int {
	for i, s := range p.stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// isExternalBase reports whether base is an image reference rather than a
// stage name. Image references carry a tag or a registry path.
func isExternalBase(base string) bool {
	return strings.ContainsAny(base, ":/")
}

func normalizePath(p string) string {
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

// isPathPrefix reports whether dir is a directory prefix of p.
func isPathPrefix(dir, p string) bool {
	if dir == "/" {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

func resolveAgainst(workdir, p string) string {
	if path.IsAbs(p) {
		return normalizePath(p)
	}
	if workdir == "" {
		workdir = "/"
	}
	return normalizePath(path.Join(workdir, p))
}

// resolveCopyDst computes the path a copy operation produces. Copying into
// "." or a trailing-slash destination lands the source basename inside it.
func resolveCopyDst(workdir, src, dst string) string {
	if dst == "." || dst == "./" || strings.HasSuffix(dst, "/") {
		return resolveAgainst(workdir, path.Join(dst, path.Base(src)))
	}
	return resolveAgainst(workdir, dst)
}

func currentWorkdir(ops []Op) string {
	workdir := "/"
	for _, op := range ops {
		if op.Kind == OpKindWorkdir {
			workdir = op.Dir
		}
	}
	return workdir
}
