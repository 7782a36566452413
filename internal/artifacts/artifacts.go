// Package artifacts lays out the per-visit HTML and screenshot files. Every
// name starts with the zero-padded visited ordinal so the end-of-run summary
// can point at the exact files for any recorded outcome.
package artifacts

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/metrics"
	"github.com/trychlos/TheToolsProject-sub002/internal/storage"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxNameLen = 120

// SafeName turns a path-plus-frame-signature label into a filesystem and
// object-store safe fragment.
func SafeName(label string) string {
	name := invalidFilenameChars.ReplaceAllString(label, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "root"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// Store persists visit artifacts for one role through a storage provider.
type Store struct {
	provider storage.Provider
	role     string
	logger   *zap.Logger
}

// NewStore wires a provider to the role's artifact tree.
func NewStore(provider storage.Provider, role string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Store{provider: provider, role: role, logger: logger}
}

// VisitName builds the shared stem for one visit's artifacts:
// NNNNNN_<side>_<sanitized label>[_<suffix>].
func (s *Store) VisitName(ordinal int, side, label, suffix string) string {
	name := fmt.Sprintf("%06d_%s_%s", ordinal, side, SafeName(label))
	if suffix != "" {
		name += "_" + suffix
	}
	return name
}

// SaveHTML writes one side's sanitized HTML snapshot.
func (s *Store) SaveHTML(ctx context.Context, ordinal int, side, label, suffix string, html []byte) error {
	path := fmt.Sprintf("%s/%s/htmls/%s.html", s.role, side, s.VisitName(ordinal, side, label, suffix))
	if err := s.provider.Save(ctx, path, "text/html; charset=utf-8", html); err != nil {
		return fmt.Errorf("save html artifact: %w", err)
	}
	metrics.ObserveArtifact("html", len(html))
	return nil
}

// SaveScreenshot writes one side's PNG screenshot. Replayed chain hops pass
// a suffix so intermediate shots do not collide with the final one.
func (s *Store) SaveScreenshot(ctx context.Context, ordinal int, side, label, suffix string, png []byte) error {
	if len(png) == 0 {
		return nil
	}
	path := fmt.Sprintf("%s/%s/screenshots/%s.png", s.role, side, s.VisitName(ordinal, side, label, suffix))
	if err := s.provider.Save(ctx, path, "image/png", png); err != nil {
		return fmt.Errorf("save screenshot artifact: %w", err)
	}
	metrics.ObserveArtifact("screenshot", len(png))
	return nil
}

// SaveSummary writes the end-of-run JSON summary at the role's root.
func (s *Store) SaveSummary(ctx context.Context, data []byte) error {
	path := fmt.Sprintf("%s/summary.json", s.role)
	if err := s.provider.Save(ctx, path, "application/json", data); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	metrics.ObserveArtifact("summary", len(data))
	return nil
}

// SaveDiffPair copies both screenshots of a failed visual comparison into
// the diffs tree. Satisfies capture.DiffSink.
func (s *Store) SaveDiffPair(ctx context.Context, name string, refPNG, newPNG []byte) error {
	for _, side := range []struct {
		tag  string
		data []byte
	}{{"ref", refPNG}, {"new", newPNG}} {
		path := fmt.Sprintf("%s/diffs/%s_%s.png", s.role, SafeName(name), side.tag)
		if err := s.provider.Save(ctx, path, "image/png", side.data); err != nil {
			return fmt.Errorf("save diff %s: %w", side.tag, err)
		}
		metrics.ObserveArtifact("diff", len(side.data))
	}
	return nil
}
