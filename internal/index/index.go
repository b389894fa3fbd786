// Package index tracks which assets carry pending edits.
package index

import (
	"sort"
	"sync"
)

// ModifiedSet is the dirty-asset view. It keeps load order so callers get a
// stable sequence for batch dispatch.
type ModifiedSet struct {
	mu       sync.RWMutex
	position map[string]int
	dirty    map[string]struct{}
}

// NewModifiedSet creates an empty set.
func NewModifiedSet() *ModifiedSet {
	return &ModifiedSet{
		position: make(map[string]int),
		dirty:    make(map[string]struct{}),
	}
}

// Reset forgets everything and records the load order of ids. All ids start clean.
func (s *ModifiedSet) Reset(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = make(map[string]int, len(ids))
	s.dirty = make(map[string]struct{})
	for i, id := range ids {
		s.position[id] = i
	}
}

// Set records the dirty membership of one asset. Unknown ids are ignored.
func (s *ModifiedSet) Set(id string, modified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.position[id]; !known {
		return
	}
	if modified {
		s.dirty[id] = struct{}{}
	} else {
		delete(s.dirty, id)
	}
}

// Has reports whether id is dirty.
func (s *ModifiedSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirty[id]
	return ok
}

// Any reports whether at least one asset is dirty.
func (s *ModifiedSet) Any() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

// Count returns the number of dirty assets.
func (s *ModifiedSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}

// IDs returns dirty ids in load order.
func (s *ModifiedSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.position[ids[i]] < s.position[ids[j]]
	})
	return ids
}

// Summary is a point-in-time count of the dirty set
type Summary struct {
	HasModified   bool `json:"has_modified"`
	ModifiedCount int  `json:"modified_count"`
	AssetCount    int  `json:"asset_count"`
}

// Summary returns counts for the UI boundary.
func (s *ModifiedSet) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		HasModified:   len(s.dirty) > 0,
		ModifiedCount: len(s.dirty),
		AssetCount:    len(s.position),
	}
}
