package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// globTool finds files matching a glob pattern, adapted from gentica's
// llm/tools/glob.go: a simple filepath.Glob fast path generalized with a
// filepath.WalkDir fallback that understands "**" the way the teacher's
// matchPattern/globWithDoublestar pair does, since path.Match alone has
// no double-star concept.
type globTool struct {
	workingDir string
}

type globParams struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

const globResultLimit = 200

// NewGlobTool returns the "glob" tool rooted at workingDir.
func NewGlobTool(workingDir string) Tool {
	return &globTool{workingDir: workingDir}
}

func (g *globTool) Name() string        { return "glob" }
func (g *globTool) Description() string { return "Finds files matching a glob pattern (supports **)." }

func (g *globTool) Schema() map[string]any {
	return map[string]any{
		"pattern": map[string]any{"type": "string", "description": "glob pattern, e.g. **/*.go"},
		"path":    map[string]any{"type": "string", "description": "directory to search from (default: working directory)"},
	}
}

func (g *globTool) Run(ctx context.Context, argsJSON string) (string, error) {
	var p globParams
	if err := unmarshalParams(argsJSON, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if p.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	root := g.workingDir
	if p.Path != "" {
		if filepath.IsAbs(p.Path) {
			root = p.Path
		} else {
			root = filepath.Join(g.workingDir, p.Path)
		}
	}

	if !strings.Contains(p.Pattern, "**") {
		matches, err := filepath.Glob(filepath.Join(root, p.Pattern))
		if err != nil {
			return "", err
		}
		return formatMatches(matches), nil
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if len(matches) >= globResultLimit {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if matchDoublestar(p.Pattern, rel) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return formatMatches(matches), nil
}

// matchDoublestar matches "**" as "any number of path segments" by trying
// the pattern against every suffix length of the path's segments, and
// path.Match within each segment group otherwise.
func matchDoublestar(pattern, path string) bool {
	patParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	return matchParts(patParts, pathParts)
}

func matchParts(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if len(pat) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchParts(pat[1:], path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchParts(pat[1:], path[1:])
}

func formatMatches(matches []string) string {
	if len(matches) == 0 {
		return "no files matched"
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n")
}
