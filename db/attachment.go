package db

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/apex/log"
	"gorm.io/gorm"
)

// ======================================================================================
// Attachments

/*
DefineNewAttachment insert a new attachment, and stream its content into chunks

	@param ctx context.Context - execution context
	@param entryID string - the parent entry ID
	@param attachment models.Attachment - the attachment
	@returns the stored attachment
*/
func (d *databaseImpl) DefineNewAttachment(
	ctx context.Context, entryID string, attachment models.Attachment,
) (models.Attachment, error) {
	newEntry := attachmentEntry{Attachment: attachment}
	newEntry.EntryID = entryID

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Attachment{}, fmt.Errorf(
			"new attachment %s of entry %s is not valid [%w]", attachment.ID, entryID, err,
		)
	}

	if tmp := d.db.WithContext(ctx).Create(&newEntry); tmp.Error != nil {
		return models.Attachment{}, fmt.Errorf(
			"new attachment %s of entry %s failed insert [%w]", attachment.ID, entryID, tmp.Error,
		)
	}

	if err := d.writeContent(ctx, newEntry.Attachment); err != nil {
		return models.Attachment{}, err
	}

	log.WithFields(d.GetLogTagsForContext(ctx)).
		WithField("attachment", newEntry.ID).
		WithField("size", newEntry.Size).
		Debug("Stored attachment content")

	newEntry.IsPersisted = true
	newEntry.Content = storedContent{attachmentID: newEntry.ID, root: d.root}
	return newEntry.Attachment, nil
}

// writeContent stream the attachment content into the chunk table. The content must match
// the declared size and digest.
func (d *databaseImpl) writeContent(ctx context.Context, attachment models.Attachment) error {
	reader, err := d.openContent(ctx, attachment.Content)
	if err != nil {
		return fmt.Errorf("failed to open content of attachment %s [%w]", attachment.ID, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	digest := sha256.New()
	written, err := content.WriteChunks(
		io.TeeReader(reader, digest),
		content.MaxChunkSize,
		func(sequence int, data []byte) error {
			chunk := attachmentChunkEntry{
				AttachmentID: attachment.ID, SequenceNumber: sequence, Data: data,
			}
			return d.db.WithContext(ctx).Create(&chunk).Error
		},
	)
	if err != nil {
		return fmt.Errorf("failed to store content of attachment %s [%w]", attachment.ID, err)
	}

	if written != attachment.Size {
		return fmt.Errorf(
			"attachment %s content is %d bytes, expected %d", attachment.ID, written, attachment.Size,
		)
	}
	if !bytes.Equal(digest.Sum(nil), attachment.Hashsum) {
		return fmt.Errorf("attachment %s content does not match its hashsum", attachment.ID)
	}
	return nil
}

// openContent open content for storing. Content already stored through this connection is
// read within the current session, as the root connection is held by it.
func (d *databaseImpl) openContent(ctx context.Context, src content.Source) (io.ReadCloser, error) {
	if stored, ok := src.(storedContent); ok && stored.root == d.root {
		return content.NewChunkReader(ctx, stored.attachmentID, fetchChunk(d.db, stored.attachmentID)), nil
	}
	return src.Open()
}

// storedContent content of an attachment held in the chunk table
type storedContent struct {
	attachmentID string
	// root the connection outside any transaction
	root *gorm.DB
}

func (s storedContent) Open() (io.ReadCloser, error) {
	return content.NewChunkReader(context.Background(), s.attachmentID, fetchChunk(s.root, s.attachmentID)), nil
}

// fetchChunk chunk query against a connection or transaction
func fetchChunk(conn *gorm.DB, attachmentID string) content.ChunkFetcher {
	return func(ctx context.Context, after int) (int, []byte, error) {
		var chunks []attachmentChunkEntry
		if tmp := conn.WithContext(ctx).
			Where("attachment_id = ? AND sequence_number > ?", attachmentID, after).
			Order("sequence_number asc").
			Limit(1).
			Find(&chunks); tmp.Error != nil {
			return 0, nil, tmp.Error
		}
		if len(chunks) == 0 {
			return 0, nil, io.EOF
		}
		return chunks[0].SequenceNumber, chunks[0].Data, nil
	}
}

/*
OpenAttachmentContent open a reader over the stored content of an attachment.
The caller must close the reader.

	@param ctx context.Context - execution context
	@param attachmentID string - attachment ID
	@returns content reader
*/
func (d *databaseImpl) OpenAttachmentContent(
	ctx context.Context, attachmentID string,
) (io.ReadCloser, error) {
	return content.NewChunkReader(ctx, attachmentID, fetchChunk(d.db, attachmentID)), nil
}

/*
ListAttachments list the attachments of an entry in creation order. The content of
each attachment is read lazily from the chunk table.

	@param ctx context.Context - execution context
	@param entryID string - the parent entry ID
	@returns attachments
*/
func (d *databaseImpl) ListAttachments(
	ctx context.Context, entryID string,
) ([]models.Attachment, error) {
	var entries []attachmentEntry
	if tmp := d.db.WithContext(ctx).
		Model(&attachmentEntry{}).
		Select("id", "entry_id", "mime_type", "preview", "size", "hashsum", "created_at").
		Where("entry_id = ?", entryID).
		Order("created_at asc").
		Order("rowid asc").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list attachments of entry %s [%w]", entryID, tmp.Error)
	}

	result := []models.Attachment{}
	for _, entry := range entries {
		entry.IsPersisted = true
		entry.Content = storedContent{attachmentID: entry.ID, root: d.root}
		result = append(result, entry.Attachment)
	}

	return result, nil
}

/*
DeleteAttachments delete attachments of an entry along with their chunks

	@param ctx context.Context - execution context
	@param entryID string - the parent entry ID
	@param attachmentIDs []string - the attachments to delete
*/
func (d *databaseImpl) DeleteAttachments(
	ctx context.Context, entryID string, attachmentIDs []string,
) error {
	if len(attachmentIDs) == 0 {
		return nil
	}

	if tmp := d.db.WithContext(ctx).
		Where("entry_id = ? AND id IN ?", entryID, attachmentIDs).
		Delete(&attachmentEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete attachments of entry %s [%w]", entryID, tmp.Error)
	}
	return nil
}
