package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// writeTool creates or overwrites a file, adapted from gentica's
// llm/tools/write.go (WriteParams/writeTool): creates parent directories,
// 0o644 file permissions.
type writeTool struct {
	workingDir string
}

type writeParams struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// NewWriteTool returns the "write" tool rooted at workingDir.
func NewWriteTool(workingDir string) Tool {
	return &writeTool{workingDir: workingDir}
}

func (w *writeTool) Name() string        { return "write" }
func (w *writeTool) Description() string { return "Creates or overwrites a file with the given content." }

func (w *writeTool) Schema() map[string]any {
	return map[string]any{
		"file_path": map[string]any{"type": "string", "description": "path to the file to write"},
		"content":   map[string]any{"type": "string", "description": "content to write"},
	}
}

func (w *writeTool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.workingDir, path)
}

func (w *writeTool) Run(ctx context.Context, argsJSON string) (string, error) {
	var p writeParams
	if err := unmarshalParams(argsJSON, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if p.FilePath == "" {
		return "", fmt.Errorf("file_path is required")
	}

	path := w.resolve(p.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil && string(existing) == p.Content {
		slog.Debug("tools: write skipped, content unchanged", "path", path)
		return fmt.Sprintf("no changes: %s already has this content", p.FilePath), nil
	}

	if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.FilePath), nil
}
