package store

import (
	"reflect"
	"testing"

	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/tagdiff"
)

func newTestStore(t *testing.T, assets ...models.PersistedAsset) *Store {
	t.Helper()
	s := New(nil)
	s.Replace(assets)
	return s
}

func mustAsset(t *testing.T, s *Store, id string) models.Asset {
	t.Helper()
	a, ok := s.Asset(id)
	if !ok {
		t.Fatalf("Expected asset %s to exist", id)
	}
	return a
}

func names(a models.Asset) []string {
	out := make([]string, 0, len(a.Tags))
	for _, tag := range a.Tags {
		out = append(out, tag.Name)
	}
	return out
}

func TestStore_AddTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tag       string
		wantApply bool
		wantTags  []string
	}{
		{"new tag appended", "sunset", true, []string{"sky", "tree", "sunset"}},
		{"trimmed before insert", "  sunset  ", true, []string{"sky", "tree", "sunset"}},
		{"empty rejected", "", false, []string{"sky", "tree"}},
		{"whitespace rejected", "   ", false, []string{"sky", "tree"}},
		{"duplicate rejected", "sky", false, []string{"sky", "tree"}},
		{"case differs is distinct", "Sky", true, []string{"sky", "tree", "Sky"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky", "tree"}})

			if got := s.AddTag("A1", tt.tag); got != tt.wantApply {
				t.Errorf("Expected applied=%v, got %v", tt.wantApply, got)
			}
			a := mustAsset(t, s, "A1")
			if !reflect.DeepEqual(names(a), tt.wantTags) {
				t.Errorf("Expected tags %v, got %v", tt.wantTags, names(a))
			}
			if a.Modified != tt.wantApply {
				t.Errorf("Expected modified=%v, got %v", tt.wantApply, a.Modified)
			}
			if tt.wantApply && !a.Tags[len(a.Tags)-1].Status.Has(models.StatusToAdd) {
				t.Errorf("Expected new tag to be to_add, got %v", a.Tags[len(a.Tags)-1].Status)
			}
		})
	}
}

func TestStore_AddTagTwiceKeepsOne(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1"})

	if !s.AddTag("A1", "x") {
		t.Fatal("Expected first add to apply")
	}
	if s.AddTag("A1", "x") {
		t.Error("Expected second add to report not applied")
	}
	a := mustAsset(t, s, "A1")
	if len(a.Tags) != 1 {
		t.Errorf("Expected exactly one tag, got %v", names(a))
	}
}

func TestStore_UnknownAsset(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if s.AddTag("missing", "x") || s.DeleteTag("missing", "x") || s.ReorderTags("missing", 0, 1) || s.ResetTags("missing") {
		t.Error("Expected mutations on unknown asset to report not applied")
	}
	if _, ok := s.Snapshot("missing"); ok {
		t.Error("Expected no snapshot for unknown asset")
	}
}

func TestStore_AddDeleteSymmetry(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky"}})
	before := mustAsset(t, s, "A1").Modified

	s.AddTag("A1", "x")
	if !s.DeleteTag("A1", "x") {
		t.Fatal("Expected delete of to_add tag to apply")
	}

	a := mustAsset(t, s, "A1")
	if a.IndexOf("x") != -1 {
		t.Errorf("Expected x to be removed entirely, got %v", names(a))
	}
	if a.Modified != before {
		t.Errorf("Expected modified to return to %v, got %v", before, a.Modified)
	}
	if s.Index().Has("A1") {
		t.Error("Expected asset to leave the modified set")
	}
}

func TestStore_DeleteToggleSymmetry(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky", "x", "tree"}})

	s.DeleteTag("A1", "x")
	a := mustAsset(t, s, "A1")
	if !a.Tags[1].Status.Has(models.StatusToDelete) || !a.Modified {
		t.Fatalf("Expected x flagged to_delete and asset modified, got %+v", a.Tags[1])
	}

	s.DeleteTag("A1", "x")
	a = mustAsset(t, s, "A1")
	if a.IndexOf("x") != 1 {
		t.Errorf("Expected x to stay at position 1, got %d", a.IndexOf("x"))
	}
	if !a.Tags[1].Status.IsSaved() {
		t.Errorf("Expected x restored to saved, got %v", a.Tags[1].Status)
	}
	if a.Modified {
		t.Error("Expected asset to be clean after toggling twice")
	}
}

func TestStore_DeleteUnknownTag(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky"}})

	if s.DeleteTag("A1", "nope") {
		t.Error("Expected delete of unknown tag to report not applied")
	}
}

func TestStore_ReorderTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		oldIndex  int
		newIndex  int
		wantApply bool
		wantTags  []string
	}{
		{"move first to last", 0, 2, true, []string{"b", "c", "a"}},
		{"move last to first", 2, 0, true, []string{"c", "a", "b"}},
		{"adjacent swap", 1, 0, true, []string{"b", "a", "c"}},
		{"equal indices", 1, 1, false, []string{"a", "b", "c"}},
		{"old out of range", 3, 0, false, []string{"a", "b", "c"}},
		{"new out of range", 0, 3, false, []string{"a", "b", "c"}},
		{"negative", -1, 0, false, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"a", "b", "c"}})

			if got := s.ReorderTags("A1", tt.oldIndex, tt.newIndex); got != tt.wantApply {
				t.Errorf("Expected applied=%v, got %v", tt.wantApply, got)
			}
			a := mustAsset(t, s, "A1")
			if !reflect.DeepEqual(names(a), tt.wantTags) {
				t.Errorf("Expected %v, got %v", tt.wantTags, names(a))
			}
			if a.Modified != tt.wantApply {
				t.Errorf("Expected modified=%v, got %v", tt.wantApply, a.Modified)
			}
			for _, tag := range a.Tags {
				if !tag.Status.IsSaved() {
					t.Errorf("Expected reorder to leave flags alone, %s is %v", tag.Name, tag.Status)
				}
			}
		})
	}
}

func TestStore_ReorderBackIsClean(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"a", "b"}})

	s.ReorderTags("A1", 0, 1)
	s.ReorderTags("A1", 0, 1)
	if mustAsset(t, s, "A1").Modified {
		t.Error("Expected asset to be clean once order matches baseline again")
	}
}

func TestStore_ResetIsIdempotent(t *testing.T) {
	t.Parallel()

	edits := []func(s *Store){
		func(s *Store) { s.AddTag("A1", "cat") },
		func(s *Store) { s.DeleteTag("A1", "sky") },
		func(s *Store) { s.ReorderTags("A1", 0, 1) },
		func(s *Store) { s.AddTag("A1", "dog") },
		func(s *Store) { s.DeleteTag("A1", "cat") },
		func(s *Store) { s.ReorderTags("A1", 2, 0) },
	}

	for n := 0; n <= len(edits); n++ {
		s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky", "tree", "grass"}})
		for _, edit := range edits[:n] {
			edit(s)
		}
		s.ResetTags("A1")
		s.ResetTags("A1")

		a := mustAsset(t, s, "A1")
		if !tagdiff.Equal(tagdiff.SavePayload(a), a.BaselineTags) {
			t.Errorf("after %d edits: expected payload %v, got %v", n, a.BaselineTags, tagdiff.SavePayload(a))
		}
		if a.Modified || s.Index().Has("A1") {
			t.Errorf("after %d edits: expected clean asset", n)
		}
	}
}

func TestStore_ResetAllTags(t *testing.T) {
	t.Parallel()
	s := newTestStore(t,
		models.PersistedAsset{ID: "A1", Tags: []string{"sky"}},
		models.PersistedAsset{ID: "A2", Tags: []string{"tree"}},
		models.PersistedAsset{ID: "A3", Tags: []string{"sea"}},
	)
	s.AddTag("A1", "x")
	s.DeleteTag("A3", "sea")

	if n := s.ResetAllTags(); n != 2 {
		t.Errorf("Expected 2 assets reset, got %d", n)
	}
	if s.Index().Any() {
		t.Errorf("Expected no modified assets, got %v", s.Index().IDs())
	}
}

func TestStore_CommitPayloadBecomesBaseline(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky", "tree", "sea"}})
	s.AddTag("A1", "sunset")
	s.DeleteTag("A1", "tree")
	s.ReorderTags("A1", 3, 0)

	snap, _ := s.Snapshot("A1")
	if !s.CommitAsset(snap) {
		t.Fatal("Expected commit to apply")
	}

	a := mustAsset(t, s, "A1")
	if !tagdiff.Equal(a.BaselineTags, snap.Payload) {
		t.Errorf("Expected baseline %v, got %v", snap.Payload, a.BaselineTags)
	}
	if !tagdiff.Equal(names(a), snap.Payload) {
		t.Errorf("Expected live tags %v, got %v", snap.Payload, names(a))
	}
	for _, tag := range a.Tags {
		if !tag.Status.IsSaved() {
			t.Errorf("Expected %s saved, got %v", tag.Name, tag.Status)
		}
	}
	if a.Modified {
		t.Error("Expected asset clean after commit")
	}
}

func TestStore_ConcreteScenario(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky", "tree"}})

	s.AddTag("A1", "sunset")
	a := mustAsset(t, s, "A1")
	if !reflect.DeepEqual(names(a), []string{"sky", "tree", "sunset"}) || !a.Modified {
		t.Fatalf("Unexpected state after add: %+v", a)
	}
	if !a.Tags[2].Status.Has(models.StatusToAdd) {
		t.Errorf("Expected sunset to be to_add, got %v", a.Tags[2].Status)
	}

	s.DeleteTag("A1", "tree")
	a = mustAsset(t, s, "A1")
	if !a.Tags[1].Status.Has(models.StatusToDelete) {
		t.Errorf("Expected tree to be to_delete, got %v", a.Tags[1].Status)
	}

	snap, _ := s.Snapshot("A1")
	s.CommitAsset(snap)
	a = mustAsset(t, s, "A1")
	if !reflect.DeepEqual(a.BaselineTags, []string{"sky", "sunset"}) {
		t.Errorf("Expected baseline [sky sunset], got %v", a.BaselineTags)
	}
	if a.Modified {
		t.Error("Expected asset clean after save")
	}
}

func TestStore_CommitKeepsNewerEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		afterSnap    func(s *Store)
		wantTags     []string
		wantStatus   map[string]models.TagStatus
		wantBaseline []string
		wantModified bool
	}{
		{
			name:         "tag added after snapshot stays to_add",
			afterSnap:    func(s *Store) { s.AddTag("A1", "late") },
			wantTags:     []string{"sky", "cat", "late"},
			wantStatus:   map[string]models.TagStatus{"sky": 0, "cat": 0, "late": models.StatusToAdd},
			wantBaseline: []string{"sky", "cat"},
			wantModified: true,
		},
		{
			name:         "saved tag deleted after snapshot stays to_delete",
			afterSnap:    func(s *Store) { s.DeleteTag("A1", "sky") },
			wantTags:     []string{"sky", "cat"},
			wantStatus:   map[string]models.TagStatus{"sky": models.StatusToDelete, "cat": 0},
			wantBaseline: []string{"sky", "cat"},
			wantModified: true,
		},
		{
			name:         "in-flight add removed locally becomes to_delete",
			afterSnap:    func(s *Store) { s.DeleteTag("A1", "cat") },
			wantTags:     []string{"sky", "cat"},
			wantStatus:   map[string]models.TagStatus{"sky": 0, "cat": models.StatusToDelete},
			wantBaseline: []string{"sky", "cat"},
			wantModified: true,
		},
		{
			name:         "in-flight delete undone locally becomes to_add",
			afterSnap:    func(s *Store) { s.DeleteTag("A1", "tree") },
			wantTags:     []string{"sky", "tree", "cat"},
			wantStatus:   map[string]models.TagStatus{"sky": 0, "tree": models.StatusToAdd, "cat": 0},
			wantBaseline: []string{"sky", "cat"},
			wantModified: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"sky", "tree"}})
			s.AddTag("A1", "cat")
			s.DeleteTag("A1", "tree")

			snap, _ := s.Snapshot("A1")
			tt.afterSnap(s)
			s.CommitAsset(snap)

			a := mustAsset(t, s, "A1")
			if !reflect.DeepEqual(names(a), tt.wantTags) {
				t.Errorf("Expected tags %v, got %v", tt.wantTags, names(a))
			}
			for _, tag := range a.Tags {
				if tag.Status != tt.wantStatus[tag.Name] {
					t.Errorf("Expected %s status %v, got %v", tag.Name, tt.wantStatus[tag.Name], tag.Status)
				}
			}
			if !reflect.DeepEqual(a.BaselineTags, tt.wantBaseline) {
				t.Errorf("Expected baseline %v, got %v", tt.wantBaseline, a.BaselineTags)
			}
			if a.Modified != tt.wantModified || s.Index().Has("A1") != tt.wantModified {
				t.Errorf("Expected modified=%v, got %v", tt.wantModified, a.Modified)
			}
		})
	}
}

func TestStore_SnapshotModifiedLoadOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t,
		models.PersistedAsset{ID: "A1"},
		models.PersistedAsset{ID: "A2"},
		models.PersistedAsset{ID: "A3"},
	)
	s.AddTag("A3", "x")
	s.AddTag("A1", "y")

	snaps := s.SnapshotModified()
	if len(snaps) != 2 || snaps[0].AssetID != "A1" || snaps[1].AssetID != "A3" {
		t.Fatalf("Expected snapshots for A1, A3 in order, got %+v", snaps)
	}
	if !reflect.DeepEqual(snaps[0].Payload, []string{"y"}) {
		t.Errorf("Unexpected payload %v", snaps[0].Payload)
	}
}

func TestStore_ReplaceSkipsDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t,
		models.PersistedAsset{ID: "A1", Tags: []string{"a"}},
		models.PersistedAsset{ID: "A1", Tags: []string{"b"}},
		models.PersistedAsset{ID: "A2"},
	)

	if s.Len() != 2 {
		t.Errorf("Expected 2 assets, got %d", s.Len())
	}
	if !reflect.DeepEqual(mustAsset(t, s, "A1").BaselineTags, []string{"a"}) {
		t.Error("Expected first occurrence to win")
	}
	if !reflect.DeepEqual(s.IDs(), []string{"A1", "A2"}) {
		t.Errorf("Unexpected ids %v", s.IDs())
	}
}

func TestStore_AssetIsCopy(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, models.PersistedAsset{ID: "A1", Tags: []string{"a"}})

	a := mustAsset(t, s, "A1")
	a.Tags[0].Name = "mutated"

	if mustAsset(t, s, "A1").Tags[0].Name != "a" {
		t.Error("Expected store state to be isolated from returned copies")
	}
	if len(s.Assets()) != 1 {
		t.Error("Expected one asset")
	}
}
