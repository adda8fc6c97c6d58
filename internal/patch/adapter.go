package patch

import (
	"strings"

	"agentcore/internal/core"
)

// Runner implements core.ApplyPatchRunner over this package's Parse/Apply,
// recognizing the conventional `apply_patch <body>` and
// `<codex_exe> --apply-patch <body>` invocation shapes (spec §4.5's
// "[codex_exe, CODEX_APPLY_PATCH_ARG1, patch_text]" synthesized command).
type Runner struct{}

// NewRunner returns the default apply_patch collaborator.
func NewRunner() *Runner { return &Runner{} }

// CodexApplyPatchArg is the sentinel argument marking an apply_patch
// invocation synthesized by the core itself (spec §4.5 step 1).
const CodexApplyPatchArg = "--apply-patch"

func patchBody(command []string) (string, bool) {
	switch {
	case len(command) == 2 && command[0] == "apply_patch":
		return command[1], true
	case len(command) == 3 && command[1] == CodexApplyPatchArg:
		return command[2], true
	default:
		return "", false
	}
}

// Classify implements core.ApplyPatchRunner.
func (r *Runner) Classify(command []string) core.ApplyPatchOutcome {
	body, ok := patchBody(command)
	if !ok {
		return core.ApplyPatchOutcome{Kind: core.ApplyPatchNotApplyPatch}
	}

	p, err := Parse(body)
	if err == ErrNotApplyPatch {
		return core.ApplyPatchOutcome{Kind: core.ApplyPatchShellParseError, Err: err}
	}
	if err != nil {
		return core.ApplyPatchOutcome{Kind: core.ApplyPatchCorrectnessError, Err: err}
	}

	var summary strings.Builder
	for i, c := range p.Changes {
		if i > 0 {
			summary.WriteString("\n")
		}
		summary.WriteString(string(c.Kind) + " " + c.Path)
	}
	return core.ApplyPatchOutcome{Kind: core.ApplyPatchBody, Changes: summary.String()}
}

// Apply implements core.ApplyPatchRunner.
func (r *Runner) Apply(cwd string, command []string) (string, error) {
	body, ok := patchBody(command)
	if !ok {
		return "", ErrNotApplyPatch
	}
	p, err := Parse(body)
	if err != nil {
		return "", err
	}
	return Apply(cwd, p)
}
