package buildspec

// =============================================================================
// Build Operations
// =============================================================================

// OpKind identifies the kind of a build operation.
type OpKind string

const (
	OpKindWorkdir  OpKind = "workdir"
	OpKindCopy     OpKind = "copy"
	OpKindRun      OpKind = "run"
	OpKindCopyFrom OpKind = "copy-from" // appended by Promote, never declared directly
)

// Op is a single build operation inside a stage.
// Only the fields relevant to its Kind are set.
type Op struct {
	Kind OpKind

	// workdir
	Dir string

	// copy / copy-from
	Src string
	Dst string

	// copy-from
	FromStage string

	// run
	Command string
	// Produces lists the paths the command creates. The simulated stage
	// filesystem is built from these declarations, so exports can be
	// validated before anything is built.
	Produces []string
}

// Workdir returns an operation that sets the working directory for
// subsequent operations.
func Workdir(dir string) Op {
	return Op{Kind: OpKindWorkdir, Dir: dir}
}

// Copy returns an operation that copies src from the build context to dst.
// A dst of "." or ending in "/" copies into the current working directory.
func Copy(src, dst string) Op {
	return Op{Kind: OpKindCopy, Src: src, Dst: dst}
}

// Run returns an operation that executes command, declaring the paths it
// produces.
func Run(command string, produces ...string) Op {
	return Op{Kind: OpKindRun, Command: command, Produces: produces}
}

// =============================================================================
// Stage
// =============================================================================

// Stage is an isolated build environment producing zero or more artifacts.
// Its simulated filesystem is the set of paths its operations declare; only
// exported paths may cross the stage boundary via Promote.
type Stage struct {
	Name string
	Base string
	Ops  []Op

	paths    map[string]bool // simulated filesystem
	exported map[string]bool
	sealed   bool
}

// Sealed reports whether the stage has been finalized and is immutable.
func (s *Stage) Sealed() bool {
	return s.sealed
}

// Contains reports whether the stage's simulated filesystem covers path.
// A path is covered if an operation produced it exactly, produced a parent
// directory of it, or produced something underneath it.
func (s *Stage) Contains(path string) bool {
	p := normalizePath(path)
	if s.paths[p] {
		return true
	}
	for produced := range s.paths {
		if isPathPrefix(produced, p) || isPathPrefix(p, produced) {
			return true
		}
	}
	return false
}

// Exported reports whether path has been marked promotable.
func (s *Stage) Exported(path string) bool {
	return s.exported[normalizePath(path)]
}

// =============================================================================
// Artifacts
// =============================================================================

// ArtifactSet names the exported paths of a single stage that are eligible
// for promotion.
type ArtifactSet struct {
	Stage string
	Paths []string
}

// =============================================================================
// Privilege Identity
// =============================================================================

// Identity is the non-administrative account the runtime image executes as.
// Home is the ownership scope: every application-owned path underneath it is
// chowned to this identity before the entrypoint runs.
type Identity struct {
	User  string
	Group string
	Home  string
}

// =============================================================================
// Runtime Image
// =============================================================================

// RuntimeImage is the sealed result of finalizing the last stage: the only
// stage whose filesystem is delivered.
type RuntimeImage struct {
	Stage      string
	Identity   Identity
	Entrypoint []string
	ExposePort int
}
