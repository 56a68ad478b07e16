package db

import (
	"context"
	"fmt"

	"github.com/TemirkhanN/intrakill/models"
	"gorm.io/gorm"
)

// ======================================================================================
// Entries

/*
DefineNewEntry insert a new entry row. Tags and attachments are stored separately.

	@param ctx context.Context - execution context
	@param entry models.Entry - the entry
	@returns the stored entry
*/
func (d *databaseImpl) DefineNewEntry(ctx context.Context, entry models.Entry) (models.Entry, error) {
	newEntry := entryEntry{
		Entry: models.Entry{
			ID:        entry.ID,
			Name:      entry.Name,
			Preview:   entry.Preview,
			CreatedAt: entry.CreatedAt,
		},
	}
	if newEntry.Preview == nil {
		newEntry.Preview = []byte{}
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Entry{}, fmt.Errorf("new entry '%s' is not valid [%w]", entry.Name, err)
	}

	if tmp := d.db.WithContext(ctx).Create(&newEntry); tmp.Error != nil {
		return models.Entry{}, fmt.Errorf("new entry '%s' failed insert [%w]", entry.Name, tmp.Error)
	}

	newEntry.IsPersisted = true
	return newEntry.Entry, nil
}

// entryByID query for one entry
func (d *databaseImpl) entryByID(ctx context.Context, entryID string) *gorm.DB {
	return d.db.WithContext(ctx).Model(&entryEntry{}).Where("id = ?", entryID)
}

/*
EntryExists check whether an entry is stored

	@param ctx context.Context - execution context
	@param entryID string - entry ID
	@returns whether the entry exists
*/
func (d *databaseImpl) EntryExists(ctx context.Context, entryID string) (bool, error) {
	var count int64
	if tmp := d.entryByID(ctx, entryID).Count(&count); tmp.Error != nil {
		return false, fmt.Errorf("failed to check for entry %s [%w]", entryID, tmp.Error)
	}
	return count > 0, nil
}

/*
GetEntry fetch an entry by ID. Tags and attachments are not loaded.

	@param ctx context.Context - execution context
	@param entryID string - entry ID
	@returns the entry
*/
func (d *databaseImpl) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	var entries []entryEntry
	if tmp := d.entryByID(ctx, entryID).Limit(1).Find(&entries); tmp.Error != nil {
		return models.Entry{}, fmt.Errorf("failed to fetch entry %s [%w]", entryID, tmp.Error)
	}
	if len(entries) == 0 {
		return models.Entry{}, fmt.Errorf("entry %s [%w]", entryID, gorm.ErrRecordNotFound)
	}

	entries[0].IsPersisted = true
	return entries[0].Entry, nil
}

// filteredEntries query for entries carrying every requested tag
func (d *databaseImpl) filteredEntries(ctx context.Context, filters EntryQueryFilter) *gorm.DB {
	query := d.db.WithContext(ctx).Model(&entryEntry{})

	tags := models.NormalizeTags(filters.Tags)
	if len(tags) > 0 {
		matching := d.db.Model(&tagEntry{}).
			Select("entry_id").
			Where("tag IN ?", tags).
			Group("entry_id").
			Having("COUNT(DISTINCT tag) = ?", len(tags))
		query = query.Where("id IN (?)", matching)
	}

	return query
}

/*
ListEntries list entries, most recent first

	@param ctx context.Context - execution context
	@param filters EntryQueryFilter - entry listing filter
	@return list of entries without tags and attachments loaded
*/
func (d *databaseImpl) ListEntries(
	ctx context.Context, filters EntryQueryFilter,
) ([]models.Entry, error) {
	query := d.filteredEntries(ctx, filters)
	query = applyPaging(query, filters.CommonListEntryQueryFilter)
	query = query.Order("created_at desc").Order("rowid desc")

	var entries []entryEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list entries [%w]", tmp.Error)
	}

	result := []models.Entry{}
	for _, entry := range entries {
		entry.IsPersisted = true
		result = append(result, entry.Entry)
	}

	return result, nil
}

/*
CountEntries count the entries matching a filter, ignoring limit and offset

	@param ctx context.Context - execution context
	@param filters EntryQueryFilter - entry listing filter
	@return number of matching entries
*/
func (d *databaseImpl) CountEntries(ctx context.Context, filters EntryQueryFilter) (int64, error) {
	var count int64
	if tmp := d.filteredEntries(ctx, filters).Count(&count); tmp.Error != nil {
		return 0, fmt.Errorf("failed to count entries [%w]", tmp.Error)
	}
	return count, nil
}

/*
UpdateEntry update the name and preview of an entry

	@param ctx context.Context - execution context
	@param entry models.Entry - the entry
*/
func (d *databaseImpl) UpdateEntry(ctx context.Context, entry models.Entry) error {
	preview := entry.Preview
	if preview == nil {
		preview = []byte{}
	}

	tmp := d.entryByID(ctx, entry.ID).Updates(map[string]interface{}{
		"name":    entry.Name,
		"preview": preview,
	})
	if tmp.Error != nil {
		return fmt.Errorf("failed to update entry %s [%w]", entry.ID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("entry %s [%w]", entry.ID, gorm.ErrRecordNotFound)
	}
	return nil
}

/*
DeleteEntry delete an entry along with its attachments, chunks, and tags

	@param ctx context.Context - execution context
	@param entryID string - entry ID
*/
func (d *databaseImpl) DeleteEntry(ctx context.Context, entryID string) error {
	entry, err := d.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	// Dependent rows go through the ON DELETE CASCADE foreign keys
	if tmp := d.db.WithContext(ctx).Delete(&entryEntry{}, "id = ?", entryID); tmp.Error != nil {
		return fmt.Errorf("failed to delete entry %s [%w]", entryID, tmp.Error)
	}

	// Record this event
	if _, err := d.RecordVaultEvent(
		ctx,
		models.VaultEventTypeEntryDeleted,
		models.VaultEventEntryRelated{EntryID: entry.ID, EntryName: entry.Name},
	); err != nil {
		return fmt.Errorf("failed to log delete entry '%s' event [%w]", entry.Name, err)
	}

	return nil
}
