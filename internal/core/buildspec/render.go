package buildspec

import (
	"fmt"
	"strings"
)

// =============================================================================
// Dockerfile Rendering
// =============================================================================

// Render produces the Dockerfile text for the pipeline. Rendering is
// deterministic: the same pipeline always yields byte-identical output.
//
// The final stage must be finalized. Its ownership transfer renders as a
// single chown of the identity's home scope, followed by USER, so the
// administrative build identity never survives into the running container.
func (p *Pipeline) Render() (string, error) {
	if len(p.stages) == 0 {
		return "", NewBuildError("Render", "", "pipeline has no stages", ErrUnknownStage)
	}
	if p.runtime == nil {
		return "", NewBuildError("Render", "", "final stage is not finalized", ErrNotFinalized)
	}

	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")

	for i, stage := range p.stages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "FROM %s AS %s\n", stage.Base, stage.Name)
		for _, op := range stage.Ops {
			renderOp(&b, op)
		}
		if p.runtime.Stage == stage.Name {
			renderRuntimeTail(&b, p.runtime)
		}
	}

	return b.String(), nil
}

func renderOp(b *strings.Builder, op Op) {
	switch op.Kind {
	case OpKindWorkdir:
		fmt.Fprintf(b, "WORKDIR %s\n", op.Dir)
	case OpKindCopy:
		fmt.Fprintf(b, "COPY %s %s\n", op.Src, op.Dst)
	case OpKindCopyFrom:
		fmt.Fprintf(b, "COPY --from=%s %s %s\n", op.FromStage, op.Src, op.Dst)
	case OpKindRun:
		fmt.Fprintf(b, "RUN %s\n", op.Command)
	}
}

// renderRuntimeTail emits the privilege drop and process launch for the
// finalized stage: create the identity, transfer ownership, switch user,
// expose the listener port, fix the entrypoint.
func renderRuntimeTail(b *strings.Builder, img *RuntimeImage) {
	id := img.Identity
	fmt.Fprintf(b, "RUN groupadd --system %s && useradd --system --gid %s --home-dir %s --no-create-home %s \\\n    && chown -R %s:%s %s\n",
		id.Group, id.Group, id.Home, id.User, id.User, id.Group, id.Home)
	fmt.Fprintf(b, "USER %s\n", id.User)
	if img.ExposePort > 0 {
		fmt.Fprintf(b, "EXPOSE %d\n", img.ExposePort)
	}
	fmt.Fprintf(b, "ENTRYPOINT %s\n", renderExecForm(img.Entrypoint))
}

// renderExecForm renders a command as a Dockerfile JSON exec-form array.
func renderExecForm(cmd []string) string {
	parts := make([]string, 0, len(cmd))
	for _, c := range cmd {
		parts = append(parts, fmt.Sprintf("%q", c))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
