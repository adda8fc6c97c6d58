package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/core"
)

func TestExecutorRunCapturesStdoutAndExitCode(t *testing.T) {
	t.Parallel()
	e := New(nil)
	res, err := e.Run(context.Background(), core.ExecParams{Command: []string{"sh", "-c", "echo hi; exit 3"}, Cwd: t.TempDir()}, core.SandboxTypeNone)
	require.NoError(t, err, "a non-zero exit is reported via ExitCode, not as a Go error")
	require.Equal(t, "hi\n", res.Stdout)
	require.Equal(t, 3, res.ExitCode)
}

func TestExecutorWorkspaceWriteRejectsCwdOutsideWritableRoots(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	e := New([]string{root})

	_, err := e.Run(context.Background(), core.ExecParams{Command: []string{"true"}, Cwd: t.TempDir()}, core.SandboxTypeWorkspace)
	require.Error(t, err)
}

func TestExecutorWorkspaceWriteRejectsSiblingDirectoryWithMatchingPrefix(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sibling := root + "-extra"
	require.NoError(t, os.MkdirAll(sibling, 0o755))
	e := New([]string{root})

	_, err := e.Run(context.Background(), core.ExecParams{Command: []string{"true"}, Cwd: sibling}, core.SandboxTypeWorkspace)
	require.Error(t, err, "a sibling directory sharing a string prefix with the writable root must not be treated as inside it")
}

func TestExecutorWorkspaceWriteAllowsNestedCwd(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	nested := filepath.Join(root, "pkg", "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	e := New([]string{root})

	res, err := e.Run(context.Background(), core.ExecParams{Command: []string{"true"}, Cwd: nested}, core.SandboxTypeWorkspace)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
}

func TestExecutorReadOnlySetsMarkerEnvVar(t *testing.T) {
	t.Parallel()
	e := New(nil)
	res, err := e.Run(context.Background(), core.ExecParams{Command: []string{"sh", "-c", "echo $AGENTCORE_SANDBOX"}, Cwd: t.TempDir()}, core.SandboxTypeReadOnly)
	require.NoError(t, err)
	require.Equal(t, "read-only\n", res.Stdout)
}
