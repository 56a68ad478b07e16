package db

import "github.com/TemirkhanN/intrakill/models"

// --------------------------------------------------------------------------------------
// Entries

// entryEntry media entry DB entry
type entryEntry struct {
	models.Entry
}

// TableName hard code table name
func (entryEntry) TableName() string {
	return "entry"
}

// --------------------------------------------------------------------------------------
// Attachments

// attachmentEntry entry attachment DB entry
type attachmentEntry struct {
	models.Attachment
}

// TableName hard code table name
func (attachmentEntry) TableName() string {
	return "attachment"
}

// attachmentChunkEntry one slice of attachment content
type attachmentChunkEntry struct {
	AttachmentID   string `gorm:"column:attachment_id;primaryKey"`
	SequenceNumber int    `gorm:"column:sequence_number;primaryKey"`
	Data           []byte `gorm:"column:data;not null"`
}

// TableName hard code table name
func (attachmentChunkEntry) TableName() string {
	return "attachment_chunk"
}

// --------------------------------------------------------------------------------------
// Tags

// tagEntry entry to tag association
type tagEntry struct {
	EntryID string `gorm:"column:entry_id;primaryKey"`
	Tag     string `gorm:"column:tag;primaryKey"`
}

// TableName hard code table name
func (tagEntry) TableName() string {
	return "tags"
}

// --------------------------------------------------------------------------------------
// Vault events

type vaultEventEntry struct {
	models.VaultEvent
}

// TableName hard code table name
func (vaultEventEntry) TableName() string {
	return "vault_events"
}
