package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// VaultEventTypeENUMType vault event type ENUM value type
type VaultEventTypeENUMType string

const (
	// VaultEventTypeEntryCreated new entry saved
	VaultEventTypeEntryCreated VaultEventTypeENUMType = "ENTRY_CREATED"

	// VaultEventTypeEntryUpdated existing entry saved
	VaultEventTypeEntryUpdated VaultEventTypeENUMType = "ENTRY_UPDATED"

	// VaultEventTypeEntryDeleted entry deleted
	VaultEventTypeEntryDeleted VaultEventTypeENUMType = "ENTRY_DELETED"

	// VaultEventTypeExported vault dump served to a peer
	VaultEventTypeExported VaultEventTypeENUMType = "VAULT_EXPORTED"

	// VaultEventTypeImported vault replaced by a dump from a peer
	VaultEventTypeImported VaultEventTypeENUMType = "VAULT_IMPORTED"
)

// VaultEvent recording of changes made to the vault
type VaultEvent struct {
	// ID event ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required"`
	// EventType vault event type
	EventType VaultEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,vault_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt event timestamp in unix nanoseconds
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:nano"`
}

// CreatedTime event time
func (e VaultEvent) CreatedTime() time.Time {
	return time.Unix(0, e.CreatedAt)
}

// ParseMetadata parse the metadata based on the event type
func (e VaultEvent) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch e.EventType {
	case VaultEventTypeEntryCreated:
		fallthrough
	case VaultEventTypeEntryUpdated:
		fallthrough
	case VaultEventTypeEntryDeleted:
		var parsed VaultEventEntryRelated
		if err := json.Unmarshal(e.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("vault event '%s' metadata parse failed [%w]", e.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	case VaultEventTypeExported:
		fallthrough
	case VaultEventTypeImported:
		var parsed VaultEventTransferRelated
		if err := json.Unmarshal(e.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("vault event '%s' metadata parse failed [%w]", e.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// VaultEventEntryRelated vault event metadata related to an entry
type VaultEventEntryRelated struct {
	// EntryID the entry ID
	EntryID string `json:"entry_id" validate:"required,len=36"`
	// EntryName the entry name
	EntryName string `json:"entry_name" validate:"required"`
	// AddedTags tags added to the entry
	AddedTags []string `json:"added_tags,omitempty"`
	// RemovedTags tags removed from the entry
	RemovedTags []string `json:"removed_tags,omitempty"`
	// AddedAttachments number of attachments added
	AddedAttachments int `json:"added_attachments,omitempty"`
	// RemovedAttachments number of attachments removed
	RemovedAttachments int `json:"removed_attachments,omitempty"`
}

// VaultEventTransferRelated vault event metadata related to a transfer
type VaultEventTransferRelated struct {
	// Bytes dump size
	Bytes int64 `json:"bytes" validate:"gte=0"`
	// Peer remote address, when known
	Peer string `json:"peer,omitempty"`
}
