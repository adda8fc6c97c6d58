package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// viewTool reads a file's contents with line numbers, adapted from
// gentica's llm/tools/view.go (ViewParams/viewTool), keeping its
// size/line limits and offset/limit semantics verbatim.
type viewTool struct {
	workingDir string
}

type viewParams struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

const (
	maxReadSize      = 250 * 1024
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

// NewViewTool returns the "view" tool rooted at workingDir.
func NewViewTool(workingDir string) Tool {
	return &viewTool{workingDir: workingDir}
}

func (v *viewTool) Name() string        { return "view" }
func (v *viewTool) Description() string { return "Reads a file's contents with line numbers." }

func (v *viewTool) Schema() map[string]any {
	return map[string]any{
		"file_path": map[string]any{"type": "string", "description": "path to the file to read"},
		"offset":    map[string]any{"type": "number", "description": "line to start reading from"},
		"limit":     map[string]any{"type": "number", "description": "maximum number of lines to read"},
	}
}

func (v *viewTool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(v.workingDir, path)
}

func (v *viewTool) Run(ctx context.Context, argsJSON string) (string, error) {
	var p viewParams
	if err := unmarshalParams(argsJSON, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if p.FilePath == "" {
		return "", fmt.Errorf("file_path is required")
	}

	path := v.resolve(p.FilePath)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", p.FilePath)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, use the ls tool instead", p.FilePath)
	}
	if info.Size() > maxReadSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxReadSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	limit := p.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	var out strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	written := 0
	for scanner.Scan() {
		line++
		if line <= offset {
			continue
		}
		if written >= limit {
			break
		}
		text := scanner.Text()
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "... (truncated)"
		}
		fmt.Fprintf(&out, "%6d\t%s\n", line, text)
		written++
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if out.Len() == 0 {
		return "(empty file or offset past end of file)", nil
	}
	return out.String(), nil
}
