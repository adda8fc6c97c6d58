package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// editTool performs a single exact-match string replacement in a file,
// adapted from gentica's llm/tools/edit.go (EditParams/editTool): empty
// old_string creates a file, empty new_string deletes the matched text,
// and a non-unique old_string is rejected unless replace_all is set.
type editTool struct {
	workingDir string
}

type editParams struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// NewEditTool returns the "edit" tool rooted at workingDir.
func NewEditTool(workingDir string) Tool {
	return &editTool{workingDir: workingDir}
}

func (e *editTool) Name() string        { return "edit" }
func (e *editTool) Description() string { return "Replaces an exact string match in a file, or creates/deletes content." }

func (e *editTool) Schema() map[string]any {
	return map[string]any{
		"file_path":   map[string]any{"type": "string", "description": "path to the file to modify"},
		"old_string":  map[string]any{"type": "string", "description": "text to replace; empty creates a new file"},
		"new_string":  map[string]any{"type": "string", "description": "replacement text; empty deletes old_string"},
		"replace_all": map[string]any{"type": "boolean", "description": "replace every occurrence instead of requiring a unique match"},
	}
}

func (e *editTool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

func (e *editTool) Run(ctx context.Context, argsJSON string) (string, error) {
	var p editParams
	if err := unmarshalParams(argsJSON, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if p.FilePath == "" {
		return "", fmt.Errorf("file_path is required")
	}
	path := e.resolve(p.FilePath)

	if p.OldString == "" {
		return e.createFile(path, p.NewString)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p.FilePath, err)
	}
	old := string(content)

	count := strings.Count(old, p.OldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in %s", p.FilePath)
	}
	if count > 1 && !p.ReplaceAll {
		return "", fmt.Errorf("old_string is not unique in %s (%d matches); set replace_all or add more context", p.FilePath, count)
	}

	var newContent string
	if p.ReplaceAll {
		newContent = strings.ReplaceAll(old, p.OldString, p.NewString)
	} else {
		newContent = strings.Replace(old, p.OldString, p.NewString, 1)
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, []byte(newContent), mode); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p.FilePath, err)
	}

	action := "replaced"
	if p.NewString == "" {
		action = "deleted"
	}
	return fmt.Sprintf("%s %d occurrence(s) in %s", action, count, p.FilePath), nil
}

func (e *editTool) createFile(path, content string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	return fmt.Sprintf("created %s", path), nil
}
