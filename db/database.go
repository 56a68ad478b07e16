// Package db - persistence layer
package db

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/TemirkhanN/intrakill/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// EntryQueryFilter entry query filter conditions
type EntryQueryFilter struct {
	CommonListEntryQueryFilter
	// Tags only entries carrying every one of these tags
	Tags []string
}

// VaultEventQueryFilter vault event query filter conditions
type VaultEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.VaultEventTypeENUMType
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// Entries

	/*
		DefineNewEntry insert a new entry row. Tags and attachments are stored separately.

			@param ctx context.Context - execution context
			@param entry models.Entry - the entry
			@returns the stored entry
	*/
	DefineNewEntry(ctx context.Context, entry models.Entry) (models.Entry, error)

	/*
		EntryExists check whether an entry is stored

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@returns whether the entry exists
	*/
	EntryExists(ctx context.Context, entryID string) (bool, error)

	/*
		GetEntry fetch an entry by ID. Tags and attachments are not loaded.

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@returns the entry
	*/
	GetEntry(ctx context.Context, entryID string) (models.Entry, error)

	/*
		ListEntries list entries, most recent first

			@param ctx context.Context - execution context
			@param filters EntryQueryFilter - entry listing filter
			@return list of entries without tags and attachments loaded
	*/
	ListEntries(ctx context.Context, filters EntryQueryFilter) ([]models.Entry, error)

	/*
		CountEntries count the entries matching a filter, ignoring limit and offset

			@param ctx context.Context - execution context
			@param filters EntryQueryFilter - entry listing filter
			@return number of matching entries
	*/
	CountEntries(ctx context.Context, filters EntryQueryFilter) (int64, error)

	/*
		UpdateEntry update the name and preview of an entry

			@param ctx context.Context - execution context
			@param entry models.Entry - the entry
	*/
	UpdateEntry(ctx context.Context, entry models.Entry) error

	/*
		DeleteEntry delete an entry along with its attachments, chunks, and tags

			@param ctx context.Context - execution context
			@param entryID string - entry ID
	*/
	DeleteEntry(ctx context.Context, entryID string) error

	// ------------------------------------------------------------------------------------
	// Attachments

	/*
		DefineNewAttachment insert a new attachment, and stream its content into chunks

			@param ctx context.Context - execution context
			@param entryID string - the parent entry ID
			@param attachment models.Attachment - the attachment
			@returns the stored attachment
	*/
	DefineNewAttachment(
		ctx context.Context, entryID string, attachment models.Attachment,
	) (models.Attachment, error)

	/*
		ListAttachments list the attachments of an entry in creation order. The content of
		each attachment is read lazily from the chunk table.

			@param ctx context.Context - execution context
			@param entryID string - the parent entry ID
			@returns attachments
	*/
	ListAttachments(ctx context.Context, entryID string) ([]models.Attachment, error)

	/*
		DeleteAttachments delete attachments of an entry along with their chunks

			@param ctx context.Context - execution context
			@param entryID string - the parent entry ID
			@param attachmentIDs []string - the attachments to delete
	*/
	DeleteAttachments(ctx context.Context, entryID string, attachmentIDs []string) error

	/*
		OpenAttachmentContent open a reader over the stored content of an attachment.
		The caller must close the reader.

			@param ctx context.Context - execution context
			@param attachmentID string - attachment ID
			@returns content reader
	*/
	OpenAttachmentContent(ctx context.Context, attachmentID string) (io.ReadCloser, error)

	// ------------------------------------------------------------------------------------
	// Tags

	/*
		ListEntryTags list the tags of an entry

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@returns sorted tags
	*/
	ListEntryTags(ctx context.Context, entryID string) ([]string, error)

	/*
		AddEntryTags associate tags with an entry

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@param tags []string - new tags
	*/
	AddEntryTags(ctx context.Context, entryID string, tags []string) error

	/*
		RemoveEntryTags drop tags from an entry

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@param tags []string - tags to remove
	*/
	RemoveEntryTags(ctx context.Context, entryID string, tags []string) error

	/*
		ListTagFrequencies count the entries of every tag, most used first

			@param ctx context.Context - execution context
			@returns tags with their frequency
	*/
	ListTagFrequencies(ctx context.Context) ([]models.Tag, error)

	// ------------------------------------------------------------------------------------
	// Vault events

	/*
		RecordVaultEvent record a vault event

			@param ctx context.Context - execution context
			@param eventType models.VaultEventTypeENUMType - event type
			@param metadata interface{} - event metadata
			@returns the event
	*/
	RecordVaultEvent(
		ctx context.Context, eventType models.VaultEventTypeENUMType, metadata interface{},
	) (models.VaultEvent, error)

	/*
		ListVaultEvents list recorded vault events, most recent first

			@param ctx context.Context - execution context
			@param filters VaultEventQueryFilter - entry listing filter
			@return list of vault events
	*/
	ListVaultEvents(ctx context.Context, filters VaultEventQueryFilter) ([]models.VaultEvent, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db *gorm.DB
	// root the connection outside any transaction; lazily read content binds to it
	root      *gorm.DB
	validator *validator.Validate
}

func newDatabase(_ context.Context, db *gorm.DB, root *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "intrakill", "module": "db", "component": "database"}

	validator, err := models.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare validator [%w]", err)
	}

	return &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        db,
		root:      root,
		validator: validator,
	}, nil
}

// applyPaging apply limit and offset to a query
func applyPaging(query *gorm.DB, filters CommonListEntryQueryFilter) *gorm.DB {
	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	} else if filters.Offset != nil {
		// Sqlite only accepts OFFSET after a LIMIT
		query = query.Limit(math.MaxInt32)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}
	return query
}
