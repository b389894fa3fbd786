// Package tagdiff derives save payloads, dirty state and display status
// from an asset's tag list. Every function here is pure.
package tagdiff

import (
	"github.com/benvon/smart-tagger/internal/models"
)

// Changes summarizes how an asset's pending payload differs from its baseline
type Changes struct {
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Reordered bool     `json:"reordered"`
}

// Empty reports whether there is nothing to persist.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && !c.Reordered
}

// TagView is a tag as the UI boundary renders it
type TagView struct {
	Name     string           `json:"name"`
	Status   models.TagStatus `json:"status"`
	Display  models.TagStatus `json:"display"`
	Position int              `json:"position"`
}

// SavePayload returns the ordered tag names that exist after a successful
// save: current order with to_delete entries dropped. CommitAsset installs
// exactly this sequence as the new baseline.
func SavePayload(asset models.Asset) []string {
	payload := make([]string, 0, len(asset.Tags))
	for _, tag := range asset.Tags {
		if tag.Status.Has(models.StatusToDelete) {
			continue
		}
		payload = append(payload, tag.Name)
	}
	return payload
}

// IsModified reports whether the asset has anything pending: any non-saved
// flag, or a payload that differs from the baseline in membership or order.
func IsModified(asset models.Asset) bool {
	for _, tag := range asset.Tags {
		if !tag.Status.IsSaved() {
			return true
		}
	}
	return !Equal(SavePayload(asset), asset.BaselineTags)
}

// Equal compares two tag sequences, order included.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Diff compares the asset's save payload against its baseline.
func Diff(asset models.Asset) Changes {
	return DiffNames(asset.BaselineTags, SavePayload(asset))
}

// DiffNames compares two ordered name sequences.
func DiffNames(baseline, payload []string) Changes {
	var changes Changes
	inBaseline := toSet(baseline)
	inPayload := toSet(payload)

	for _, name := range payload {
		if _, ok := inBaseline[name]; !ok {
			changes.Added = append(changes.Added, name)
		}
	}
	for _, name := range baseline {
		if _, ok := inPayload[name]; !ok {
			changes.Removed = append(changes.Removed, name)
		}
	}

	// Order only counts among names present on both sides
	kept := filter(payload, inBaseline)
	stayed := filter(baseline, inPayload)
	changes.Reordered = !Equal(kept, stayed)
	return changes
}

// DisplayStatuses returns the render view of every tag in order.
func DisplayStatuses(asset models.Asset) []TagView {
	views := make([]TagView, 0, len(asset.Tags))
	for i, tag := range asset.Tags {
		views = append(views, TagView{
			Name:     tag.Name,
			Status:   tag.Status,
			Display:  tag.Status.Display(),
			Position: i,
		})
	}
	return views
}

// Validate checks a persisted tag sequence for empty or duplicate names.
// It returns the first offending name and false when the sequence is bad.
func Validate(tags []string) (string, bool) {
	seen := make(map[string]struct{}, len(tags))
	for _, name := range tags {
		if name == "" {
			return name, false
		}
		if _, dup := seen[name]; dup {
			return name, false
		}
		seen[name] = struct{}{}
	}
	return "", true
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func filter(names []string, keep map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := keep[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
