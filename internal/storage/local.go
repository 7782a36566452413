package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local writes artifacts under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and verifies it is writable.
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	probe := filepath.Join(root, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("storage root %s is not writable: %w", root, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean probe file: %w", err)
	}
	return &Local{root: filepath.Clean(root)}, nil
}

// Root exposes the base directory, mainly for user-facing summaries.
func (l *Local) Root() string { return l.root }

// Save writes data under root/objectPath, creating parent directories.
// Object paths escaping the root are rejected.
func (l *Local) Save(ctx context.Context, objectPath string, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Clean(filepath.Join(l.root, objectPath))
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return fmt.Errorf("object path %q escapes storage root", objectPath)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create artifact dir for %s: %w", objectPath, err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return fmt.Errorf("write artifact %s: %w", objectPath, err)
	}
	return nil
}
