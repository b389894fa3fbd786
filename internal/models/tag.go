package models

import (
	"fmt"
	"strings"
)

// TagStatus is a set of pending-change flags on a tag. Flags combine; the
// zero value means the tag matches what is persisted.
type TagStatus uint8

const (
	// StatusSaved means no pending change
	StatusSaved TagStatus = 0
	// StatusToAdd marks a tag added locally and not yet persisted
	StatusToAdd TagStatus = 1 << 0
	// StatusToDelete marks a persisted tag for removal on the next save
	StatusToDelete TagStatus = 1 << 1
	// StatusDirty is reserved for in-place edits such as renames
	StatusDirty TagStatus = 1 << 2

	statusMask = StatusToAdd | StatusToDelete | StatusDirty
)

// displayOrder lists flags from most to least visually urgent.
var displayOrder = []TagStatus{StatusToDelete, StatusToAdd, StatusDirty}

var statusNames = map[TagStatus]string{
	StatusToAdd:    "to_add",
	StatusToDelete: "to_delete",
	StatusDirty:    "dirty",
}

// Has reports whether flag is set. Has(StatusSaved) is true only when no
// flag is set.
func (s TagStatus) Has(flag TagStatus) bool {
	if flag == StatusSaved {
		return s&statusMask == 0
	}
	return s&flag == flag
}

// With returns s with flag set.
func (s TagStatus) With(flag TagStatus) TagStatus {
	return (s | flag) & statusMask
}

// Without returns s with flag cleared.
func (s TagStatus) Without(flag TagStatus) TagStatus {
	return s &^ flag
}

// IsSaved reports whether the tag has no pending change.
func (s TagStatus) IsSaved() bool {
	return s.Has(StatusSaved)
}

// Display returns the single flag that wins when several are set:
// to_delete > to_add > dirty > saved.
func (s TagStatus) Display() TagStatus {
	for _, flag := range displayOrder {
		if s.Has(flag) {
			return flag
		}
	}
	return StatusSaved
}

// String renders the set as pipe-joined flag names, "saved" when empty.
func (s TagStatus) String() string {
	if s.IsSaved() {
		return "saved"
	}
	parts := make([]string, 0, len(displayOrder))
	for _, flag := range []TagStatus{StatusToAdd, StatusToDelete, StatusDirty} {
		if s.Has(flag) {
			parts = append(parts, statusNames[flag])
		}
	}
	return strings.Join(parts, "|")
}

// MarshalText implements encoding.TextMarshaler
func (s TagStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *TagStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTagStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseTagStatus parses the String form of a TagStatus.
func ParseTagStatus(value string) (TagStatus, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "saved" {
		return StatusSaved, nil
	}
	var status TagStatus
	for _, part := range strings.Split(value, "|") {
		found := false
		for flag, name := range statusNames {
			if part == name {
				status = status.With(flag)
				found = true
				break
			}
		}
		if !found {
			return StatusSaved, fmt.Errorf("invalid tag status: %q", part)
		}
	}
	return status, nil
}

// Tag is one entry in an asset's ordered tag list. Its position is its
// index in that list.
type Tag struct {
	Name   string    `json:"name"`
	Status TagStatus `json:"status"`
}
