// Package store holds the authoritative in-memory tag state for every asset
// in the editing session.
package store

import (
	"strings"
	"sync"

	"github.com/benvon/smart-tagger/internal/index"
	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/tagdiff"
	"go.uber.org/zap"
)

// Snapshot is an asset's save payload captured at batch start
type Snapshot struct {
	AssetID  string
	Payload  []string
	Baseline []string
	Revision uint64
}

// Store maps asset ids to their tag state. All mutations are serialized.
type Store struct {
	mu       sync.RWMutex
	assets   map[string]*models.Asset
	order    []string
	modified *index.ModifiedSet
	logger   *zap.Logger
}

// New creates an empty store. A nil logger disables logging.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		assets:   make(map[string]*models.Asset),
		modified: index.NewModifiedSet(),
		logger:   logger,
	}
}

// Index returns the live modified-set view.
func (s *Store) Index() *index.ModifiedSet {
	return s.modified
}

// Replace drops every asset and installs fresh ones whose tags equal their
// baseline. Duplicate ids keep the first occurrence.
func (s *Store) Replace(assets []models.PersistedAsset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = make(map[string]*models.Asset, len(assets))
	s.order = make([]string, 0, len(assets))
	for _, pa := range assets {
		if _, dup := s.assets[pa.ID]; dup {
			s.logger.Warn("duplicate_asset_id_skipped",
				zap.String("asset_id", logpkg.SanitizeAssetID(pa.ID)),
			)
			continue
		}
		a := models.NewAsset(pa.ID, pa.Tags)
		s.assets[pa.ID] = &a
		s.order = append(s.order, pa.ID)
	}
	s.modified.Reset(s.order)
}

// AddTag appends name with to_add status. It returns false when the asset is
// unknown, the trimmed name is empty, or the exact name already exists.
func (s *Store) AddTag(assetID, name string) bool {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		s.rejected("add_tag", assetID, name, "unknown_asset")
		return false
	}
	if name == "" {
		s.rejected("add_tag", assetID, name, "empty_name")
		return false
	}
	if a.IndexOf(name) >= 0 {
		s.rejected("add_tag", assetID, name, "duplicate_name")
		return false
	}

	a.Tags = append(a.Tags, models.Tag{Name: name, Status: models.StatusToAdd})
	s.touch(a)
	return true
}

// DeleteTag toggles to_delete on a persisted tag. A tag that was never
// persisted (to_add) is removed outright instead.
func (s *Store) DeleteTag(assetID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		s.rejected("delete_tag", assetID, name, "unknown_asset")
		return false
	}
	i := a.IndexOf(name)
	if i < 0 {
		s.rejected("delete_tag", assetID, name, "unknown_tag")
		return false
	}

	status := a.Tags[i].Status
	switch {
	case status.Has(models.StatusToAdd):
		a.Tags = append(a.Tags[:i], a.Tags[i+1:]...)
	case status.Has(models.StatusToDelete):
		a.Tags[i].Status = status.Without(models.StatusToDelete)
	default:
		a.Tags[i].Status = status.With(models.StatusToDelete)
	}
	s.touch(a)
	return true
}

// ReorderTags moves the tag at oldIndex to newIndex. Equal or out of range
// indices are a no-op.
func (s *Store) ReorderTags(assetID string, oldIndex, newIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		s.rejected("reorder_tags", assetID, "", "unknown_asset")
		return false
	}
	n := len(a.Tags)
	if oldIndex == newIndex || oldIndex < 0 || newIndex < 0 || oldIndex >= n || newIndex >= n {
		return false
	}

	moved := a.Tags[oldIndex]
	tags := append(a.Tags[:oldIndex:oldIndex], a.Tags[oldIndex+1:]...)
	tags = append(tags[:newIndex], append([]models.Tag{moved}, tags[newIndex:]...)...)
	a.Tags = tags
	s.touch(a)
	return true
}

// ResetTags discards every pending edit on one asset.
func (s *Store) ResetTags(assetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		return false
	}
	s.reset(a)
	return true
}

// ResetAllTags resets every modified asset and returns how many were reset.
func (s *Store) ResetAllTags() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.order {
		a := s.assets[id]
		if !a.Modified {
			continue
		}
		s.reset(a)
		n++
	}
	return n
}

func (s *Store) reset(a *models.Asset) {
	a.Tags = make([]models.Tag, 0, len(a.BaselineTags))
	for _, name := range a.BaselineTags {
		a.Tags = append(a.Tags, models.Tag{Name: name, Status: models.StatusSaved})
	}
	a.Revision++
	a.Modified = false
	s.modified.Set(a.ID, false)
}

// CommitAsset installs snap.Payload as the asset's new baseline after a
// successful save. Edits made after the snapshot stay pending: the live tag
// list is reconciled against the new baseline rather than overwritten.
func (s *Store) CommitAsset(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[snap.AssetID]
	if !ok {
		return false
	}

	baseline := append([]string(nil), snap.Payload...)
	inBaseline := make(map[string]int, len(baseline))
	for i, name := range baseline {
		inBaseline[name] = i
	}
	unchanged := a.Revision == snap.Revision

	tags := make([]models.Tag, 0, len(a.Tags))
	present := make(map[string]struct{}, len(a.Tags))
	for _, tag := range a.Tags {
		_, persisted := inBaseline[tag.Name]
		status := tag.Status
		switch {
		case status.Has(models.StatusToDelete) && !persisted:
			continue
		case persisted:
			status = status.Without(models.StatusToAdd)
			if unchanged {
				status = status.Without(models.StatusDirty)
			}
		default:
			status = status.With(models.StatusToAdd)
		}
		tags = append(tags, models.Tag{Name: tag.Name, Status: status})
		present[tag.Name] = struct{}{}
	}

	// A tag saved by this batch but removed locally since must be deleted next time
	for i, name := range baseline {
		if _, ok := present[name]; ok {
			continue
		}
		pos := i
		if pos > len(tags) {
			pos = len(tags)
		}
		tags = append(tags[:pos], append([]models.Tag{{Name: name, Status: models.StatusToDelete}}, tags[pos:]...)...)
	}

	a.Tags = tags
	a.BaselineTags = baseline
	a.Modified = tagdiff.IsModified(*a)
	s.modified.Set(a.ID, a.Modified)

	if !unchanged {
		s.logger.Debug("commit_kept_newer_edits",
			zap.String("asset_id", logpkg.SanitizeAssetID(a.ID)),
			zap.Uint64("snapshot_revision", snap.Revision),
			zap.Uint64("live_revision", a.Revision),
		)
	}
	return true
}

// Snapshot captures one asset's save payload and revision.
func (s *Store) Snapshot(assetID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[assetID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(a), true
}

// SnapshotModified captures every modified asset in load order under one lock.
func (s *Store) SnapshotModified() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.modified.IDs()
	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.assets[id]; ok {
			snaps = append(snaps, snapshotOf(a))
		}
	}
	return snaps
}

func snapshotOf(a *models.Asset) Snapshot {
	return Snapshot{
		AssetID:  a.ID,
		Payload:  tagdiff.SavePayload(*a),
		Baseline: append([]string(nil), a.BaselineTags...),
		Revision: a.Revision,
	}
}

// Asset returns a deep copy of one asset.
func (s *Store) Asset(assetID string) (models.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[assetID]
	if !ok {
		return models.Asset{}, false
	}
	return a.Clone(), true
}

// Assets returns deep copies of all assets in load order.
func (s *Store) Assets() []models.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Asset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.assets[id].Clone())
	}
	return out
}

// IDs returns asset ids in load order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of assets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// touch records an applied mutation. Callers hold s.mu.
func (s *Store) touch(a *models.Asset) {
	a.Revision++
	a.Modified = tagdiff.IsModified(*a)
	s.modified.Set(a.ID, a.Modified)
}

func (s *Store) rejected(op, assetID, name, reason string) {
	s.logger.Debug("tag_mutation_not_applied",
		zap.String("operation", op),
		zap.String("asset_id", logpkg.SanitizeAssetID(assetID)),
		zap.String("tag", logpkg.SanitizeTag(name)),
		zap.String("reason", reason),
	)
}
