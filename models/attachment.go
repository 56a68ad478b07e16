package models

import (
	"fmt"
	"strings"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/google/uuid"
)

// SizeUnknown marks an attachment size which must be computed from the content
const SizeUnknown int64 = -1

// MediaKindENUMType media category ENUM
type MediaKindENUMType string

const (
	// MediaKindImage still image
	MediaKindImage MediaKindENUMType = "IMAGE"
	// MediaKindGIF animated GIF
	MediaKindGIF MediaKindENUMType = "GIF"
	// MediaKindVideo video clip
	MediaKindVideo MediaKindENUMType = "VIDEO"
)

/*
MediaKindOf classify a mime type

	@param mimeType string - the mime type
	@returns the media category
*/
func MediaKindOf(mimeType string) (MediaKindENUMType, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	switch {
	case mimeType == "image/gif":
		return MediaKindGIF, nil
	case strings.HasPrefix(mimeType, "image/") && len(mimeType) > len("image/"):
		return MediaKindImage, nil
	case strings.HasPrefix(mimeType, "video/") && len(mimeType) > len("video/"):
		return MediaKindVideo, nil
	}
	return "", fmt.Errorf("unsupported media type '%s'", mimeType)
}

// Attachment one binary asset of an entry
type Attachment struct {
	// ID attachment ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required,len=36"`

	// EntryID the parent entry
	EntryID string `json:"entry_id" gorm:"column:entry_id;not null"`

	// MimeType content mime type
	MimeType string `json:"mime_type" gorm:"column:mime_type;not null" validate:"required,media_mime"`

	// Content the attachment payload
	Content content.Source `json:"-" gorm:"-" validate:"required"`

	// Preview attachment thumbnail
	Preview []byte `json:"preview" gorm:"column:preview"`

	// Size content length in bytes
	Size int64 `json:"size" gorm:"column:size;not null;default:0" validate:"gt=0"`

	// Hashsum SHA-256 of the content
	Hashsum []byte `json:"hashsum" gorm:"column:hashsum" validate:"len=32"`

	// CreatedAt attachment creation timestamp in unix nanoseconds
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:nano"`

	// IsPersisted whether the attachment was read from storage
	IsPersisted bool `json:"-" gorm:"-"`
}

/*
NewAttachment define a new unsaved attachment. The content is read once to compute its
digest, and once more to compute its size when the size is SizeUnknown.

	@param mimeType string - content mime type
	@param src content.Source - the payload
	@param preview []byte - thumbnail
	@param size int64 - content length, or SizeUnknown
	@returns new attachment
*/
func NewAttachment(
	mimeType string, src content.Source, preview []byte, size int64,
) (Attachment, error) {
	hashsum, err := content.ComputeHash(src)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to hash attachment content [%w]", err)
	}

	if size == SizeUnknown {
		if size, err = content.ComputeSize(src); err != nil {
			return Attachment{}, fmt.Errorf("failed to size attachment content [%w]", err)
		}
	}

	return Attachment{
		ID:       uuid.NewString(),
		MimeType: mimeType,
		Content:  src,
		Preview:  preview,
		Size:     size,
		Hashsum:  hashsum,
	}, nil
}

// Kind media category of the attachment
func (a Attachment) Kind() (MediaKindENUMType, error) {
	return MediaKindOf(a.MimeType)
}
