package models

// Asset holds one image's tag state for the editing session.
type Asset struct {
	ID           string   `json:"id"`
	Tags         []Tag    `json:"tags"`
	BaselineTags []string `json:"baseline_tags"`
	Modified     bool     `json:"modified"`
	// Revision increases on every applied mutation.
	Revision uint64 `json:"revision"`
}

// PersistedAsset is an asset as returned by the persistence boundary.
type PersistedAsset struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

// NewAsset builds a clean asset whose tags equal its baseline.
func NewAsset(id string, tags []string) Asset {
	a := Asset{
		ID:           id,
		Tags:         make([]Tag, 0, len(tags)),
		BaselineTags: make([]string, 0, len(tags)),
	}
	for _, name := range tags {
		a.Tags = append(a.Tags, Tag{Name: name, Status: StatusSaved})
		a.BaselineTags = append(a.BaselineTags, name)
	}
	return a
}

// Clone returns a deep copy of the asset.
func (a Asset) Clone() Asset {
	out := a
	out.Tags = append([]Tag(nil), a.Tags...)
	out.BaselineTags = append([]string(nil), a.BaselineTags...)
	return out
}

// IndexOf returns the position of the named tag, or -1.
func (a Asset) IndexOf(name string) int {
	for i, t := range a.Tags {
		if t.Name == name {
			return i
		}
	}
	return -1
}
