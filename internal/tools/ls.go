package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// lsTool lists a directory tree, adapted from gentica's llm/tools/ls.go
// (ListDirectoryTree/listDirectory), simplified from the teacher's
// TreeNode-based renderer to a flat, sorted listing of paths relative to
// the root (directories end in "/") since the core doesn't need the
// richer tree widget gentica's TUI did.
type lsTool struct {
	workingDir string
}

type lsParams struct {
	Path   string   `json:"path,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
}

const lsMaxEntries = 1000

// NewLsTool returns the "ls" tool rooted at workingDir.
func NewLsTool(workingDir string) Tool {
	return &lsTool{workingDir: workingDir}
}

func (l *lsTool) Name() string        { return "ls" }
func (l *lsTool) Description() string { return "Lists files and directories in a tree, depth-first." }

func (l *lsTool) Schema() map[string]any {
	return map[string]any{
		"path":   map[string]any{"type": "string", "description": "directory to list (default: working directory)"},
		"ignore": map[string]any{"type": "array", "description": "glob patterns to skip"},
	}
}

func (l *lsTool) Run(ctx context.Context, argsJSON string) (string, error) {
	var p lsParams
	if err := unmarshalParams(argsJSON, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	root := l.workingDir
	if p.Path != "" {
		if filepath.IsAbs(p.Path) {
			root = p.Path
		} else {
			root = filepath.Join(l.workingDir, p.Path)
		}
	}

	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		for _, ig := range p.Ignore {
			if ok, _ := filepath.Match(ig, d.Name()); ok {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if len(entries) >= lsMaxEntries {
			return filepath.SkipAll
		}
		if d.IsDir() {
			entries = append(entries, rel+"/")
		} else {
			entries = append(entries, rel)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", root, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	sort.Strings(entries)
	return strings.Join(entries, "\n"), nil
}
