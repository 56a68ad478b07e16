package store

import (
	"context"
	"fmt"

	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/apex/log"
)

// ======================================================================================
// Save

func (v *mediaVault) Save(ctx context.Context, entry models.Entry) (models.Entry, error) {
	firstSave := !entry.IsPersisted
	if !firstSave && !entry.IsLoaded() {
		return models.Entry{}, fmt.Errorf("entry %s [%w]", entry.ID, ErrEntryNotLoaded)
	}
	entry.Tags = models.NormalizeTags(entry.Tags)
	if err := models.CheckEntry(v.validator, entry, firstSave); err != nil {
		return models.Entry{}, err
	}

	eventType := models.VaultEventTypeEntryUpdated
	if firstSave {
		eventType = models.VaultEventTypeEntryCreated
	}

	var saved models.Entry
	if err := v.withClient(func(client db.Client) error {
		if err := client.UseDatabaseInTransaction(
			ctx, func(ctx context.Context, dbClient db.Database) error {
				if firstSave {
					return v.insertEntry(ctx, dbClient, entry)
				}
				return v.updateEntry(ctx, dbClient, entry)
			},
		); err != nil {
			return err
		}

		// Re-read the canonical state
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			if saved, err = dbClient.GetEntry(ctx, entry.ID); err != nil {
				return err
			}
			saved, err = v.loadDetails(ctx, client, dbClient, saved)
			return err
		})
	}); err != nil {
		return models.Entry{}, fmt.Errorf("failed to save entry '%s' [%w]", entry.Name, notFound(entry.ID, err))
	}

	log.WithFields(v.GetLogTagsForContext(ctx)).
		WithField("entry", saved.ID).
		WithField("attachments", len(saved.Attachments)).
		WithField("tags", saved.Tags).
		Debug("Saved entry")

	v.notify(ChangeEvent{Type: eventType, EntryID: saved.ID})
	return saved, nil
}

// insertEntry write a new entry, its attachments, then its tags
func (v *mediaVault) insertEntry(ctx context.Context, dbClient db.Database, entry models.Entry) error {
	exists, err := dbClient.EntryExists(ctx, entry.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("entry %s [%w]", entry.ID, ErrDuplicateCreate)
	}

	if _, err := dbClient.DefineNewEntry(ctx, entry); err != nil {
		return err
	}
	for _, attachment := range entry.Attachments {
		if _, err := dbClient.DefineNewAttachment(ctx, entry.ID, attachment); err != nil {
			return err
		}
	}
	if err := dbClient.AddEntryTags(ctx, entry.ID, entry.Tags); err != nil {
		return err
	}

	if _, err := dbClient.RecordVaultEvent(
		ctx,
		models.VaultEventTypeEntryCreated,
		models.VaultEventEntryRelated{
			EntryID:          entry.ID,
			EntryName:        entry.Name,
			AddedTags:        entry.Tags,
			AddedAttachments: len(entry.Attachments),
		},
	); err != nil {
		return fmt.Errorf("failed to log create entry '%s' event [%w]", entry.Name, err)
	}
	return nil
}

// updateEntry apply the difference between the stored and the given entry. Stored
// attachments are never rewritten.
func (v *mediaVault) updateEntry(ctx context.Context, dbClient db.Database, entry models.Entry) error {
	if err := dbClient.UpdateEntry(ctx, entry); err != nil {
		return err
	}

	// Tags
	currentTags, err := dbClient.ListEntryTags(ctx, entry.ID)
	if err != nil {
		return err
	}
	removedTags, addedTags := models.DiffTags(currentTags, entry.Tags)
	if err := dbClient.RemoveEntryTags(ctx, entry.ID, removedTags); err != nil {
		return err
	}

	// Attachments
	currentAttachments, err := dbClient.ListAttachments(ctx, entry.ID)
	if err != nil {
		return err
	}
	wanted := map[string]bool{}
	for _, attachment := range entry.Attachments {
		wanted[attachment.ID] = true
	}
	removedAttachments := []string{}
	for _, attachment := range currentAttachments {
		if !wanted[attachment.ID] {
			removedAttachments = append(removedAttachments, attachment.ID)
		}
	}
	if err := dbClient.DeleteAttachments(ctx, entry.ID, removedAttachments); err != nil {
		return err
	}
	addedAttachments := 0
	for _, attachment := range entry.Attachments {
		if attachment.IsPersisted {
			continue
		}
		if _, err := dbClient.DefineNewAttachment(ctx, entry.ID, attachment); err != nil {
			return err
		}
		addedAttachments++
	}

	if err := dbClient.AddEntryTags(ctx, entry.ID, addedTags); err != nil {
		return err
	}

	if _, err := dbClient.RecordVaultEvent(
		ctx,
		models.VaultEventTypeEntryUpdated,
		models.VaultEventEntryRelated{
			EntryID:            entry.ID,
			EntryName:          entry.Name,
			AddedTags:          addedTags,
			RemovedTags:        removedTags,
			AddedAttachments:   addedAttachments,
			RemovedAttachments: len(removedAttachments),
		},
	); err != nil {
		return fmt.Errorf("failed to log update entry '%s' event [%w]", entry.Name, err)
	}
	return nil
}

// ======================================================================================
// Queries

func (v *mediaVault) FindEntries(ctx context.Context, filter EntryFilter) ([]models.Entry, error) {
	var entries []models.Entry
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			entries, err = dbClient.ListEntries(ctx, filter.query())
			return err
		})
	}); err != nil {
		return nil, fmt.Errorf("failed to find entries [%w]", err)
	}
	return entries, nil
}

func (v *mediaVault) CountEntries(ctx context.Context, filter EntryFilter) (int64, error) {
	var count int64
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			count, err = dbClient.CountEntries(ctx, filter.query())
			return err
		})
	}); err != nil {
		return 0, fmt.Errorf("failed to count entries [%w]", err)
	}
	return count, nil
}

func (v *mediaVault) FindEntriesPage(ctx context.Context, filter EntryFilter) (SearchResult, error) {
	var result SearchResult
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabaseInTransaction(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			if result.Entries, err = dbClient.ListEntries(ctx, filter.query()); err != nil {
				return err
			}
			result.OutOfTotal, err = dbClient.CountEntries(ctx, filter.query())
			return err
		})
	}); err != nil {
		return SearchResult{}, fmt.Errorf("failed to find entries [%w]", err)
	}
	return result, nil
}

func (v *mediaVault) GetByID(ctx context.Context, entryID string) (models.Entry, error) {
	var entry models.Entry
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			entry, err = dbClient.GetEntry(ctx, entryID)
			return err
		})
	}); err != nil {
		return models.Entry{}, notFound(entryID, err)
	}
	return entry, nil
}

func (v *mediaVault) LoadDetails(ctx context.Context, entry models.Entry) (models.Entry, error) {
	if !entry.IsPersisted {
		return entry, nil
	}
	var loaded models.Entry
	if err := v.withClient(func(client db.Client) error {
		var err error
		loaded, err = v.loadDetails(ctx, client, nil, entry)
		return err
	}); err != nil {
		return models.Entry{}, fmt.Errorf("failed to load details of entry %s [%w]", entry.ID, err)
	}
	return loaded, nil
}

/*
loadDetails read the tags and attachments of an entry

	@param ctx context.Context - execution context
	@param client db.Client - persistence client
	@param session db.Database - optional active session; a new transaction is used when nil
	@param entry models.Entry - the entry
	@returns the entry with details
*/
func (v *mediaVault) loadDetails(
	ctx context.Context, client db.Client, session db.Database, entry models.Entry,
) (models.Entry, error) {
	var tags []string
	var attachments []models.Attachment
	if err := db.ActiveSessionWrapper(
		ctx, session, client, func(ctx context.Context, dbClient db.Database) error {
			var err error
			if tags, err = dbClient.ListEntryTags(ctx, entry.ID); err != nil {
				return err
			}
			attachments, err = dbClient.ListAttachments(ctx, entry.ID)
			return err
		},
	); err != nil {
		return models.Entry{}, err
	}
	return entry.WithDetails(tags, attachments), nil
}

func (v *mediaVault) ListAttachments(ctx context.Context, entryID string) ([]models.Attachment, error) {
	var attachments []models.Attachment
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			attachments, err = dbClient.ListAttachments(ctx, entryID)
			return err
		})
	}); err != nil {
		return nil, err
	}
	return attachments, nil
}

func (v *mediaVault) ListEntryTags(ctx context.Context, entryID string) ([]string, error) {
	var tags []string
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			tags, err = dbClient.ListEntryTags(ctx, entryID)
			return err
		})
	}); err != nil {
		return nil, err
	}
	return tags, nil
}

// ======================================================================================
// Delete

func (v *mediaVault) DeleteByID(ctx context.Context, entryID string) error {
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabaseInTransaction(ctx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.DeleteEntry(ctx, entryID)
		})
	}); err != nil {
		return fmt.Errorf("failed to delete entry [%w]", notFound(entryID, err))
	}

	log.WithFields(v.GetLogTagsForContext(ctx)).WithField("entry", entryID).Debug("Deleted entry")

	v.notify(ChangeEvent{Type: models.VaultEventTypeEntryDeleted, EntryID: entryID})
	return nil
}

// query the DB filter of an entry search
func (f EntryFilter) query() db.EntryQueryFilter {
	return db.EntryQueryFilter{
		CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: f.Limit, Offset: f.Offset},
		Tags:                       f.Tags,
	}
}
