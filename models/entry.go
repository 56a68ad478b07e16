package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxTagLength the longest tag accepted
const MaxTagLength = 32

// Entry a media record holding one or more attachments
type Entry struct {
	// ID entry ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required,len=36"`

	// Name entry name
	Name string `json:"name" gorm:"column:name;not null" validate:"required"`

	// Preview entry thumbnail
	Preview []byte `json:"preview" gorm:"column:preview;not null"`

	// CreatedAt entry creation timestamp in unix nanoseconds
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:nano"`

	// Tags the entry tags. Only meaningful once the entry details are loaded.
	Tags []string `json:"tags,omitempty" gorm:"-" validate:"dive,required,max=32"`

	// Attachments the entry attachments. Only meaningful once the entry details are loaded.
	Attachments []Attachment `json:"attachments,omitempty" gorm:"-" validate:"dive"`

	// IsPersisted whether the entry was read from storage
	IsPersisted bool `json:"-" gorm:"-"`

	loaded bool
}

/*
NewEntry define a new unsaved entry. The entry preview falls back to the preview of the
first attachment.

	@param name string - entry name
	@param preview []byte - entry thumbnail
	@param tags []string - entry tags
	@param attachments []Attachment - entry attachments
	@returns new entry
*/
func NewEntry(name string, preview []byte, tags []string, attachments []Attachment) Entry {
	if len(preview) == 0 && len(attachments) > 0 {
		preview = attachments[0].Preview
	}
	return Entry{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Preview:     preview,
		Tags:        NormalizeTags(tags),
		Attachments: attachments,
		loaded:      true,
	}
}

// IsLoaded whether the tags and attachments of this entry reflect storage
func (e Entry) IsLoaded() bool {
	return e.loaded
}

// WithDetails return a copy of the entry with its tags and attachments filled in
func (e Entry) WithDetails(tags []string, attachments []Attachment) Entry {
	e.Tags = NormalizeTags(tags)
	e.Attachments = attachments
	e.loaded = true
	return e
}

// CreatedTime entry creation time
func (e Entry) CreatedTime() time.Time {
	return time.Unix(0, e.CreatedAt)
}

// HasTag whether the entry carries a tag
func (e Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

/*
NormalizeTags trim, drop empty, and de-duplicate tags. The result is sorted.

	@param tags []string - raw tags
	@returns normalized tag set
*/
func NormalizeTags(tags []string) []string {
	seen := map[string]bool{}
	result := []string{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	sort.Strings(result)
	return result
}

/*
DiffTags compute the tags removed and added going from `current` to `desired`

	@param current []string - stored tags
	@param desired []string - wanted tags
	@returns removed tags, added tags
*/
func DiffTags(current, desired []string) (removed []string, added []string) {
	currentSet := map[string]bool{}
	for _, tag := range current {
		currentSet[tag] = true
	}
	desiredSet := map[string]bool{}
	for _, tag := range NormalizeTags(desired) {
		desiredSet[tag] = true
		if !currentSet[tag] {
			added = append(added, tag)
		}
	}
	for _, tag := range NormalizeTags(current) {
		if !desiredSet[tag] {
			removed = append(removed, tag)
		}
	}
	return removed, added
}

// Tag a tag name and the number of entries carrying it
type Tag struct {
	// Name tag name
	Name string `json:"name" gorm:"column:tag"`
	// Frequency number of entries with the tag
	Frequency int64 `json:"frequency" gorm:"column:frequency"`
}
