package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TemirkhanN/intrakill/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
)

/*
RecordVaultEvent record a vault event

	@param ctx context.Context - execution context
	@param eventType models.VaultEventTypeENUMType - event type
	@param metadata interface{} - event metadata
	@returns the event
*/
func (d *databaseImpl) RecordVaultEvent(
	ctx context.Context, eventType models.VaultEventTypeENUMType, metadata interface{},
) (models.VaultEvent, error) {
	newEntry := vaultEventEntry{
		VaultEvent: models.VaultEvent{ID: ulid.Make().String(), EventType: eventType},
	}

	if metadata != nil {
		if err := d.validator.Struct(metadata); err != nil {
			return models.VaultEvent{}, fmt.Errorf(
				"new vault event '%s' metadata entry is not valid [%w]", eventType, err,
			)
		}

		metadataStr, err := json.Marshal(metadata)
		if err != nil {
			return models.VaultEvent{}, fmt.Errorf(
				"new vault event '%s' metadata encode failed [%w]", eventType, err,
			)
		}
		newEntry.Metadata = datatypes.JSON(metadataStr)
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.VaultEvent{}, fmt.Errorf(
			"new vault event '%s' entry is not valid [%w]", eventType, err,
		)
	}

	if tmp := d.db.WithContext(ctx).Create(&newEntry); tmp.Error != nil {
		return models.VaultEvent{}, fmt.Errorf(
			"new vault event '%s' insert failed [%w]", eventType, tmp.Error,
		)
	}

	return newEntry.VaultEvent, nil
}

/*
ListVaultEvents list recorded vault events, most recent first

	@param ctx context.Context - execution context
	@param filters VaultEventQueryFilter - entry listing filter
	@return list of vault events
*/
func (d *databaseImpl) ListVaultEvents(
	ctx context.Context, filters VaultEventQueryFilter,
) ([]models.VaultEvent, error) {
	query := d.db.WithContext(ctx).Model(&vaultEventEntry{})

	if len(filters.EventTypes) > 0 {
		query = query.Where("type in ?", filters.EventTypes)
	}

	query = applyPaging(query, filters.CommonListEntryQueryFilter)
	query = query.Order("created_at desc").Order("id desc")

	var entries []vaultEventEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list vault events [%w]", tmp.Error)
	}

	result := []models.VaultEvent{}
	for _, entry := range entries {
		result = append(result, entry.VaultEvent)
	}

	return result, nil
}
