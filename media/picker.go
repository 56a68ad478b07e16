// Package media - media file intake and preview rendering
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/gabriel-vasile/mimetype"
)

// PickedMedia a media file chosen for a new attachment
type PickedMedia struct {
	// Name file name without directory
	Name string
	// Source the file content
	Source content.Source
	// MimeType sniffed content type
	MimeType string
	// Kind media category
	Kind models.MediaKindENUMType
	// Size file size in bytes
	Size int64
}

/*
PickFile inspect a media file. The content type is sniffed from the file content rather
than trusted from its extension.

	@param path string - file path
	@returns the picked media
*/
func PickFile(path string) (PickedMedia, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PickedMedia{}, fmt.Errorf("failed to stat %s [%w]", path, err)
	}
	if info.IsDir() {
		return PickedMedia{}, fmt.Errorf("%s is a directory", path)
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return PickedMedia{}, fmt.Errorf("failed to detect content type of %s [%w]", path, err)
	}

	kind, err := models.MediaKindOf(mime.String())
	if err != nil {
		return PickedMedia{}, fmt.Errorf("%s is not a supported media file [%w]", path, err)
	}

	return PickedMedia{
		Name:     filepath.Base(path),
		Source:   content.FromFile(path),
		MimeType: mime.String(),
		Kind:     kind,
		Size:     info.Size(),
	}, nil
}

/*
ExtensionFor the file extension, with the leading dot, for a mime type

	@param mimeType string - mime type
	@returns extension, empty when unknown
*/
func ExtensionFor(mimeType string) string {
	if mime := mimetype.Lookup(mimeType); mime != nil {
		return mime.Extension()
	}
	return ""
}
