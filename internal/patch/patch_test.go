package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddFile(t *testing.T) {
	t.Parallel()
	body := `*** Begin Patch
*** Add File: greeting.txt
+Hello, World!
+Second line.
*** End Patch`

	p, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, p.Changes, 1)
	require.Equal(t, ChangeAdd, p.Changes[0].Kind)
	require.Equal(t, "greeting.txt", p.Changes[0].Path)
	require.Equal(t, "Hello, World!\nSecond line.", p.Changes[0].AddText)
}

func TestParseUpdateFileWithHunk(t *testing.T) {
	t.Parallel()
	body := `*** Begin Patch
*** Update File: main.go
@@
 package main
-func old() {}
+func new() {}
*** End Patch`

	p, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, p.Changes, 1)
	change := p.Changes[0]
	require.Equal(t, ChangeUpdate, change.Kind)
	require.Len(t, change.Hunks, 1)
	require.Len(t, change.Hunks[0].Lines, 3)
	require.Equal(t, LineContext, change.Hunks[0].Lines[0].Kind)
	require.Equal(t, LineDel, change.Hunks[0].Lines[1].Kind)
	require.Equal(t, LineAdd, change.Hunks[0].Lines[2].Kind)
}

func TestParseDeleteFile(t *testing.T) {
	t.Parallel()
	body := `*** Begin Patch
*** Delete File: obsolete.txt
*** End Patch`

	p, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, p.Changes, 1)
	require.Equal(t, ChangeDelete, p.Changes[0].Kind)
	require.Equal(t, "obsolete.txt", p.Changes[0].Path)
}

func TestParseRejectsMissingEnvelope(t *testing.T) {
	t.Parallel()
	_, err := Parse("echo hello")
	require.ErrorIs(t, err, ErrNotApplyPatch)
}

func TestApplyAddFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := &Patch{Changes: []FileChange{{
		Path:    "notes/todo.txt",
		Kind:    ChangeAdd,
		AddText: "buy milk",
	}}}

	diff, err := Apply(dir, p)
	require.NoError(t, err)
	require.Contains(t, diff, "+++ b/notes/todo.txt")

	content, err := os.ReadFile(filepath.Join(dir, "notes/todo.txt"))
	require.NoError(t, err)
	require.Equal(t, "buy milk", string(content))
}

func TestApplyUpdateFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(target, []byte("package main\nfunc old() {}\n"), 0o644))

	p := &Patch{Changes: []FileChange{{
		Path: "main.go",
		Kind: ChangeUpdate,
		Hunks: []Hunk{{Lines: []HunkLine{
			{Kind: LineContext, Text: "package main"},
			{Kind: LineDel, Text: "func old() {}"},
			{Kind: LineAdd, Text: "func new() {}"},
		}}},
	}}}

	diff, err := Apply(dir, p)
	require.NoError(t, err)
	require.Contains(t, diff, "+++ b/main.go")

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "package main\nfunc new() {}\n", string(content))
}

func TestApplyDeleteFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "obsolete.txt")
	require.NoError(t, os.WriteFile(target, []byte("gone soon"), 0o644))

	p := &Patch{Changes: []FileChange{{Path: "obsolete.txt", Kind: ChangeDelete}}}

	_, err := Apply(dir, p)
	require.NoError(t, err)
	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))
}
