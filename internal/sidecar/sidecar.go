// Package sidecar stores tags in caption files next to each image
// (image.png -> image.txt), the layout most training tools read.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	// CaptionExt is the extension of the caption file holding an image's tags
	CaptionExt = ".txt"
	// Separator joins tags inside a caption file
	Separator = ", "

	// LockDir holds per-caption lock files under the project root. Hidden,
	// so ListAssets never walks it.
	LockDir = ".tagger-locks"

	lockRetryDelay = 25 * time.Millisecond
)

var imageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
}

// Store implements persistence.Persistence over caption files.
type Store struct {
	logger *zap.Logger
}

var _ persistence.Persistence = (*Store)(nil)

// New creates a sidecar store
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{logger: log}
}

// IsImage reports whether path has a supported image extension
func IsImage(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// CaptionPath returns the caption file for an image path
func CaptionPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + CaptionExt
}

// ListAssets returns every image under projectPath as a slash separated path
// relative to it, sorted. Hidden directories are skipped.
func (s *Store) ListAssets(ctx context.Context, projectPath string) ([]string, error) {
	info, err := os.Stat(projectPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("project %s: %w", projectPath, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project %s is not a directory", projectPath)
	}

	var ids []string
	err = filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != projectPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsImage(path) {
			return nil
		}
		rel, err := filepath.Rel(projectPath, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// LoadTags reads the caption file for assetID. An image without a caption
// file has no tags.
func (s *Store) LoadTags(ctx context.Context, projectPath, assetID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	imagePath, err := resolve(projectPath, assetID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(imagePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("asset %s: %w", assetID, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat asset: %w", err)
	}

	data, err := os.ReadFile(CaptionPath(imagePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read caption: %w", err)
	}
	return Parse(string(data)), nil
}

// SaveTags replaces the caption file for assetID. The write goes through a
// temp file and rename while holding the asset's lock file.
func (s *Store) SaveTags(ctx context.Context, projectPath, assetID string, tags []string) error {
	imagePath, err := resolve(projectPath, assetID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(imagePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("asset %s: %w", assetID, persistence.ErrNotFound)
		}
		return fmt.Errorf("failed to stat asset: %w", err)
	}

	for _, tag := range tags {
		if strings.Contains(tag, ",") {
			return fmt.Errorf("%w: tag %q contains the caption separator", persistence.ErrMalformed, tag)
		}
	}

	captionPath := CaptionPath(imagePath)
	lockFile, err := lockPath(projectPath, captionPath)
	if err != nil {
		return err
	}
	lock := flock.New(lockFile)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire caption lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("acquire caption lock: %s is busy", assetID)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("caption_unlock_failed",
				zap.String("asset_id", logger.SanitizeAssetID(assetID)),
				zap.Error(err),
			)
		}
	}()

	tmpPath := captionPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(Format(tags)), 0o644); err != nil {
		return fmt.Errorf("write temp caption: %w", err)
	}
	if err := os.Rename(tmpPath, captionPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp caption: %w", err)
	}

	s.logger.Debug("caption_written",
		zap.String("asset_id", logger.SanitizeAssetID(assetID)),
		zap.Int("tag_count", len(tags)),
	)
	return nil
}

// Parse splits caption text into tags. Surrounding whitespace and empty
// entries are dropped; order and duplicates are kept.
func Parse(text string) []string {
	parts := strings.Split(text, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tags = append(tags, p)
	}
	return tags
}

// Format joins tags into caption text
func Format(tags []string) string {
	return strings.Join(tags, Separator)
}

// resolve maps an asset id to an absolute image path inside projectPath.
func resolve(projectPath, assetID string) (string, error) {
	if assetID == "" {
		return "", fmt.Errorf("empty asset id: %w", persistence.ErrNotFound)
	}
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project path: %w", err)
	}
	path := filepath.Join(root, filepath.FromSlash(assetID))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("asset %s is outside the project: %w", assetID, persistence.ErrNotFound)
	}
	if !IsImage(path) {
		return "", fmt.Errorf("asset %s is not an image: %w", assetID, persistence.ErrNotFound)
	}
	return path, nil
}

// lockPath maps a caption file to its lock file in the project's LockDir.
// Images sharing a caption share a lock.
func lockPath(projectPath, captionPath string) (string, error) {
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project path: %w", err)
	}
	rel, err := filepath.Rel(root, captionPath)
	if err != nil {
		return "", fmt.Errorf("failed to relate caption to project: %w", err)
	}
	dir := filepath.Join(root, LockDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create lock dir: %w", err)
	}
	return filepath.Join(dir, url.PathEscape(filepath.ToSlash(rel))+".lock"), nil
}
