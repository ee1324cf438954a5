package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxReadBytes caps what read_file returns to the model.
const maxReadBytes = 64 << 10

var ErrOutsideRoot = errors.New("path is outside the tools root")

// resolve maps a model-supplied path onto root, rejecting escapes.
func resolve(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	full := filepath.Join(absRoot, filepath.Clean("/"+path))
	rel, err := filepath.Rel(absRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return full, nil
}

func stringArg(input map[string]any, name string, required bool) (string, error) {
	v, ok := input[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("argument '%s' is required and must be a string", name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument '%s' must be a string", name)
	}
	return s, nil
}

// --- Current Time Tool ---

type CurrentTimeTool struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Return the current date and time. Arguments: timezone (optional IANA name)."
}

func (t *CurrentTimeTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{"type": "string", "description": "IANA time zone, e.g. Europe/Paris. Defaults to UTC."},
		},
	}
}

func (t *CurrentTimeTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	tz, err := stringArg(input, "timezone", false)
	if err != nil {
		return nil, err
	}
	loc := time.UTC
	if tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().In(loc).Format(time.RFC3339), nil
}

// --- List Files Tool ---

type ListFilesTool struct {
	Root string
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files in a directory. Arguments: path (string, relative to the workspace)."
}

func (t *ListFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The directory path to list."},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	path, err := stringArg(input, "path", false)
	if err != nil {
		return nil, err
	}
	dir, err := resolve(t.Root, path)
	if err != nil {
		return nil, err
	}

	slog.Info("Listing files", "path", dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		names = append(names, e.Name()+suffix)
	}
	return names, nil
}

// --- Read File Tool ---

type ReadFileTool struct {
	Root string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Arguments: path (string, relative to the workspace)."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The file path to read."},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	path, err := stringArg(input, "path", true)
	if err != nil {
		return nil, err
	}
	file, err := resolve(t.Root, path)
	if err != nil {
		return nil, err
	}

	slog.Info("Reading file", "path", file)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxReadBytes {
		data = append(data[:maxReadBytes:maxReadBytes], "\n[truncated]"...)
	}
	return string(data), nil
}
