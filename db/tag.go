package db

import (
	"context"
	"fmt"

	"github.com/TemirkhanN/intrakill/models"
)

// ======================================================================================
// Tags

/*
ListEntryTags list the tags of an entry

	@param ctx context.Context - execution context
	@param entryID string - entry ID
	@returns sorted tags
*/
func (d *databaseImpl) ListEntryTags(ctx context.Context, entryID string) ([]string, error) {
	tags := []string{}
	if tmp := d.db.WithContext(ctx).
		Model(&tagEntry{}).
		Where("entry_id = ?", entryID).
		Order("tag asc").
		Pluck("tag", &tags); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list tags of entry %s [%w]", entryID, tmp.Error)
	}
	return tags, nil
}

/*
AddEntryTags associate tags with an entry

	@param ctx context.Context - execution context
	@param entryID string - entry ID
	@param tags []string - new tags
*/
func (d *databaseImpl) AddEntryTags(ctx context.Context, entryID string, tags []string) error {
	tags = models.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}

	entries := []tagEntry{}
	for _, tag := range tags {
		if err := d.validator.Var(tag, "required,max=32"); err != nil {
			return fmt.Errorf("tag '%s' of entry %s is not valid [%w]", tag, entryID, err)
		}
		entries = append(entries, tagEntry{EntryID: entryID, Tag: tag})
	}

	if tmp := d.db.WithContext(ctx).Create(&entries); tmp.Error != nil {
		return fmt.Errorf("failed to tag entry %s [%w]", entryID, tmp.Error)
	}
	return nil
}

/*
RemoveEntryTags drop tags from an entry

	@param ctx context.Context - execution context
	@param entryID string - entry ID
	@param tags []string - tags to remove
*/
func (d *databaseImpl) RemoveEntryTags(ctx context.Context, entryID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	if tmp := d.db.WithContext(ctx).
		Where("entry_id = ? AND tag IN ?", entryID, tags).
		Delete(&tagEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to untag entry %s [%w]", entryID, tmp.Error)
	}
	return nil
}

/*
ListTagFrequencies count the entries of every tag, most used first

	@param ctx context.Context - execution context
	@returns tags with their frequency
*/
func (d *databaseImpl) ListTagFrequencies(ctx context.Context) ([]models.Tag, error) {
	tags := []models.Tag{}
	if tmp := d.db.WithContext(ctx).
		Model(&tagEntry{}).
		Select("tag, COUNT(*) AS frequency").
		Group("tag").
		Order("frequency desc").
		Order("tag asc").
		Scan(&tags); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list tags [%w]", tmp.Error)
	}
	return tags, nil
}
