package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/core"
)

func TestRunnerClassifyNotApplyPatch(t *testing.T) {
	t.Parallel()
	r := NewRunner()
	outcome := r.Classify([]string{"ls", "-la"})
	require.Equal(t, core.ApplyPatchNotApplyPatch, outcome.Kind)
}

func TestRunnerClassifyBody(t *testing.T) {
	t.Parallel()
	r := NewRunner()
	body := "*** Begin Patch\n*** Add File: a.txt\n+hi\n*** End Patch"
	outcome := r.Classify([]string{"apply_patch", body})
	require.Equal(t, core.ApplyPatchBody, outcome.Kind)
	require.Contains(t, outcome.Changes, "add a.txt")
}

func TestRunnerClassifyCodexApplyPatchArg(t *testing.T) {
	t.Parallel()
	r := NewRunner()
	body := "*** Begin Patch\n*** Delete File: a.txt\n*** End Patch"
	outcome := r.Classify([]string{"codex", CodexApplyPatchArg, body})
	require.Equal(t, core.ApplyPatchBody, outcome.Kind)
}

func TestRunnerClassifyCorrectnessError(t *testing.T) {
	t.Parallel()
	r := NewRunner()
	body := "*** Begin Patch\nbogus line\n*** End Patch"
	outcome := r.Classify([]string{"apply_patch", body})
	require.Equal(t, core.ApplyPatchCorrectnessError, outcome.Kind)
	require.Error(t, outcome.Err)
}

func TestRunnerApplyWritesFile(t *testing.T) {
	t.Parallel()
	r := NewRunner()
	dir := t.TempDir()
	body := "*** Begin Patch\n*** Add File: out.txt\n+payload\n*** End Patch"

	diff, err := r.Apply(dir, []string{"apply_patch", body})
	require.NoError(t, err)
	require.Contains(t, diff, "+++ b/out.txt")

	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(content))
}
