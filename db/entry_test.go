package db_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestVault(t *testing.T) db.Client {
	testDB := fmt.Sprintf("/tmp/intrakill_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, _, err := db.OpenVault(context.Background(), testDB, "correct-horse", logger.Error)
	assert.Nil(t, err)
	return uut
}

func newTestAttachment(t *testing.T, size int) (models.Attachment, []byte) {
	payload := make([]byte, size)
	_, err := rand.Read(payload)
	assert.Nil(t, err)
	attachment, err := models.NewAttachment(
		"image/png", content.FromBytes(payload), []byte("thumb"), models.SizeUnknown,
	)
	assert.Nil(t, err)
	return attachment, payload
}

func storeTestEntry(
	t *testing.T, uut db.Client, name string, tags []string, attachments ...models.Attachment,
) models.Entry {
	entry := models.NewEntry(name, []byte("preview"), tags, attachments)
	assert.Nil(t, uut.UseDatabaseInTransaction(
		context.Background(), func(ctx context.Context, dbClient db.Database) error {
			stored, err := dbClient.DefineNewEntry(ctx, entry)
			if err != nil {
				return err
			}
			for _, attachment := range attachments {
				if _, err := dbClient.DefineNewAttachment(ctx, stored.ID, attachment); err != nil {
					return err
				}
			}
			return dbClient.AddEntryTags(ctx, stored.ID, tags)
		},
	))
	return entry
}

func TestEntryTagIntersection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	entryA := storeTestEntry(t, uut, "only-a", []string{"A"})
	entryAB := storeTestEntry(t, uut, "both", []string{"A", "B"})
	entryB := storeTestEntry(t, uut, "only-b", []string{"B"})
	entryNone := storeTestEntry(t, uut, "none", nil)

	type testCase struct {
		tags     []string
		expected []string
	}
	testCases := []testCase{
		{tags: []string{"A"}, expected: []string{entryAB.ID, entryA.ID}},
		{tags: []string{"A", "B"}, expected: []string{entryAB.ID}},
		{tags: []string{"B", " A ", "B"}, expected: []string{entryAB.ID}},
		{tags: []string{"B"}, expected: []string{entryB.ID, entryAB.ID}},
		{tags: []string{"C"}, expected: []string{}},
		{tags: nil, expected: []string{entryNone.ID, entryB.ID, entryAB.ID, entryA.ID}},
	}

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		for idx, oneTest := range testCases {
			filter := db.EntryQueryFilter{Tags: oneTest.tags}
			entries, err := dbClient.ListEntries(ctx, filter)
			assert.Nil(err, "case %d", idx)
			ids := []string{}
			for _, entry := range entries {
				assert.True(entry.IsPersisted)
				assert.False(entry.IsLoaded())
				ids = append(ids, entry.ID)
			}
			assert.Equal(oneTest.expected, ids, "case %d", idx)

			count, err := dbClient.CountEntries(ctx, filter)
			assert.Nil(err)
			assert.Equal(int64(len(oneTest.expected)), count, "case %d", idx)
		}
		return nil
	}))
}

func TestEntryPaging(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	for itr := 0; itr < 7; itr++ {
		storeTestEntry(t, uut, fmt.Sprintf("entry-%d", itr), []string{"paged"})
	}

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		total, err := dbClient.CountEntries(ctx, db.EntryQueryFilter{})
		assert.Nil(err)
		assert.Equal(int64(7), total)

		// Walk through every page
		seen := map[string]bool{}
		limit := 3
		for offset := 0; offset < int(total); offset += limit {
			page, err := dbClient.ListEntries(ctx, db.EntryQueryFilter{
				CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{
					Limit: &limit, Offset: &offset,
				},
			})
			assert.Nil(err)
			assert.LessOrEqual(len(page), limit)
			for _, entry := range page {
				assert.False(seen[entry.ID])
				seen[entry.ID] = true
			}
		}
		assert.Len(seen, 7)

		// Offset without a limit
		offset := 5
		rest, err := dbClient.ListEntries(ctx, db.EntryQueryFilter{
			CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Offset: &offset},
		})
		assert.Nil(err)
		assert.Len(rest, 2)

		// Newest first
		all, err := dbClient.ListEntries(ctx, db.EntryQueryFilter{})
		assert.Nil(err)
		assert.Equal("entry-6", all[0].Name)
		assert.Equal("entry-0", all[6].Name)
		return nil
	}))
}

func TestEntryAttachmentContent(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	small, smallPayload := newTestAttachment(t, 100)
	large, largePayload := newTestAttachment(t, 2*content.MaxChunkSize+7)
	entry := storeTestEntry(t, uut, "media", []string{"x"}, small, large)

	var attachments []models.Attachment
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		attachments, err = dbClient.ListAttachments(ctx, entry.ID)
		return err
	}))
	assert.Len(attachments, 2)
	assert.Equal(small.ID, attachments[0].ID)
	assert.Equal(large.ID, attachments[1].ID)

	expected := [][]byte{smallPayload, largePayload}
	for idx, attachment := range attachments {
		assert.True(attachment.IsPersisted)
		assert.Equal(entry.ID, attachment.EntryID)
		assert.Equal(int64(len(expected[idx])), attachment.Size)

		stored, err := content.ReadAll(attachment.Content)
		assert.Nil(err)
		assert.True(bytes.Equal(expected[idx], stored))

		hashsum, err := content.ComputeHash(attachment.Content)
		assert.Nil(err)
		assert.Equal(attachment.Hashsum, hashsum)
	}

	// Direct content access
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		reader, err := dbClient.OpenAttachmentContent(ctx, large.ID)
		assert.Nil(err)
		stored, err := io.ReadAll(reader)
		assert.Nil(err)
		assert.Nil(reader.Close())
		assert.True(bytes.Equal(largePayload, stored))
		return nil
	}))
}

func TestEntryAttachmentIntegrity(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	entry := storeTestEntry(t, uut, "target", nil)

	// Content differs from its declared hashsum
	attachment, _ := newTestAttachment(t, 64)
	attachment.Content = content.FromBytes(bytes.Repeat([]byte{1}, 64))
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineNewAttachment(ctx, entry.ID, attachment)
			return err
		},
	))

	// Content shorter than its declared size
	attachment, _ = newTestAttachment(t, 64)
	attachment.Size = 65
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineNewAttachment(ctx, entry.ID, attachment)
			return err
		},
	))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		attachments, err := dbClient.ListAttachments(ctx, entry.ID)
		assert.Nil(err)
		assert.Empty(attachments)
		return nil
	}))
}

func TestEntryContentMissing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	attachment, _ := newTestAttachment(t, 1000)
	storeTestEntry(t, uut, "broken", nil, attachment)

	assert.Nil(uut.RunSQLInTransaction(utCtx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Exec("DELETE FROM attachment_chunk WHERE attachment_id = ?", attachment.ID).Error
	}))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		reader, err := dbClient.OpenAttachmentContent(ctx, attachment.ID)
		assert.Nil(err)
		_, err = io.ReadAll(reader)
		assert.True(errors.Is(err, content.ErrContentMissing))
		return nil
	}))
}

func TestEntryAttachmentFromStoredContent(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	original, payload := newTestAttachment(t, 2*content.MaxChunkSize+11)
	source := storeTestEntry(t, uut, "original", nil, original)

	var stored models.Attachment
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		attachments, err := dbClient.ListAttachments(ctx, source.ID)
		if err != nil {
			return err
		}
		assert.Len(attachments, 1)
		stored = attachments[0]
		return nil
	}))

	duplicate, err := models.NewAttachment(stored.MimeType, stored.Content, nil, models.SizeUnknown)
	assert.Nil(err)
	assert.Equal(original.Hashsum, duplicate.Hashsum)

	// Stored content is written from within the transaction
	done := make(chan models.Entry, 1)
	go func() {
		done <- storeTestEntry(t, uut, "duplicate", nil, duplicate)
	}()
	var copied models.Entry
	select {
	case copied = <-done:
	case <-time.After(time.Second * 30):
		assert.FailNow("saving stored content did not complete")
	}

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		attachments, err := dbClient.ListAttachments(ctx, copied.ID)
		if err != nil {
			return err
		}
		assert.Len(attachments, 1)
		assert.NotEqual(stored.ID, attachments[0].ID)
		readBack, err := content.ReadAll(attachments[0].Content)
		assert.Nil(err)
		assert.True(bytes.Equal(payload, readBack))
		return nil
	}))

	// Content removed earlier in the same transaction fails the write
	another, err := models.NewAttachment(stored.MimeType, stored.Content, nil, models.SizeUnknown)
	assert.Nil(err)
	target := storeTestEntry(t, uut, "target", nil)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		if err := dbClient.DeleteAttachments(ctx, stored.EntryID, []string{stored.ID}); err != nil {
			return err
		}
		_, err := dbClient.DefineNewAttachment(ctx, target.ID, another)
		return err
	})
	assert.True(errors.Is(err, content.ErrContentMissing))

	// Rolled back
	readBack, err := content.ReadAll(stored.Content)
	assert.Nil(err)
	assert.True(bytes.Equal(payload, readBack))
}

func TestEntryUpdateAndDelete(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	first, _ := newTestAttachment(t, content.MaxChunkSize+1)
	second, _ := newTestAttachment(t, 10)
	entry := storeTestEntry(t, uut, "doomed", []string{"a", "b"}, first, second)
	keeper := storeTestEntry(t, uut, "keeper", []string{"a"})

	countRows := func(table string) int64 {
		var count int64
		assert.Nil(uut.RunSQLInTransaction(utCtx, func(ctx context.Context, tx *gorm.DB) error {
			return tx.Raw(fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count).Error
		}))
		return count
	}
	assert.Equal(int64(2), countRows("entry"))
	assert.Equal(int64(2), countRows("attachment"))
	assert.Equal(int64(3), countRows("attachment_chunk"))
	assert.Equal(int64(3), countRows("tags"))

	// Update
	assert.Nil(uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entry.Name = "renamed"
		entry.Preview = nil
		assert.Nil(dbClient.UpdateEntry(ctx, entry))
		assert.Nil(dbClient.RemoveEntryTags(ctx, entry.ID, []string{"b"}))
		assert.Nil(dbClient.AddEntryTags(ctx, entry.ID, []string{"c", " c "}))
		assert.Nil(dbClient.DeleteAttachments(ctx, entry.ID, []string{second.ID}))
		return nil
	}))
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		stored, err := dbClient.GetEntry(ctx, entry.ID)
		assert.Nil(err)
		assert.Equal("renamed", stored.Name)
		assert.Empty(stored.Preview)

		tags, err := dbClient.ListEntryTags(ctx, entry.ID)
		assert.Nil(err)
		assert.Equal([]string{"a", "c"}, tags)

		attachments, err := dbClient.ListAttachments(ctx, entry.ID)
		assert.Nil(err)
		assert.Len(attachments, 1)
		assert.Equal(first.ID, attachments[0].ID)

		frequencies, err := dbClient.ListTagFrequencies(ctx)
		assert.Nil(err)
		assert.Equal([]models.Tag{{Name: "a", Frequency: 2}, {Name: "c", Frequency: 1}}, frequencies)
		return nil
	}))
	assert.Equal(int64(2), countRows("attachment_chunk"))

	// Unknown entry
	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		unknown := models.NewEntry("ghost", nil, nil, nil)
		err := dbClient.UpdateEntry(ctx, unknown)
		assert.True(errors.Is(err, gorm.ErrRecordNotFound))
		_, err = dbClient.GetEntry(ctx, unknown.ID)
		assert.True(errors.Is(err, gorm.ErrRecordNotFound))
		exists, err := dbClient.EntryExists(ctx, unknown.ID)
		assert.Nil(err)
		assert.False(exists)
		return nil
	}))

	// Delete cascades to every dependent row
	assert.Nil(uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteEntry(ctx, entry.ID)
	}))
	assert.Equal(int64(1), countRows("entry"))
	assert.Equal(int64(0), countRows("attachment"))
	assert.Equal(int64(0), countRows("attachment_chunk"))
	assert.Equal(int64(1), countRows("tags"))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		exists, err := dbClient.EntryExists(ctx, keeper.ID)
		assert.Nil(err)
		assert.True(exists)

		events, err := dbClient.ListVaultEvents(ctx, db.VaultEventQueryFilter{
			EventTypes: []models.VaultEventTypeENUMType{models.VaultEventTypeEntryDeleted},
		})
		assert.Nil(err)
		assert.Len(events, 1)

		validator, err := models.NewValidator()
		assert.Nil(err)
		parsed, err := events[0].ParseMetadata(validator)
		assert.Nil(err)
		metadata, ok := parsed.(models.VaultEventEntryRelated)
		assert.True(ok)
		assert.Equal(entry.ID, metadata.EntryID)
		assert.Equal("renamed", metadata.EntryName)
		return nil
	}))
}

func TestVaultEventListing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := openTestVault(t)
	defer func() {
		assert.Nil(uut.Close())
	}()

	assert.Nil(uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordVaultEvent(
			ctx, models.VaultEventTypeExported, models.VaultEventTransferRelated{Bytes: 10, Peer: "192.168.1.2"},
		)
		assert.Nil(err)
		_, err = dbClient.RecordVaultEvent(
			ctx, models.VaultEventTypeImported, models.VaultEventTransferRelated{Bytes: 20, Peer: "192.168.1.3"},
		)
		assert.Nil(err)

		// Invalid metadata
		_, err = dbClient.RecordVaultEvent(
			ctx, models.VaultEventTypeImported, models.VaultEventTransferRelated{Bytes: -1},
		)
		assert.NotNil(err)

		// Unknown type
		_, err = dbClient.RecordVaultEvent(ctx, "SOMETHING", nil)
		assert.NotNil(err)
		return nil
	}))

	assert.Nil(uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListVaultEvents(ctx, db.VaultEventQueryFilter{})
		assert.Nil(err)
		assert.Len(events, 2)
		assert.Equal(models.VaultEventTypeImported, events[0].EventType)

		limit := 1
		events, err = dbClient.ListVaultEvents(ctx, db.VaultEventQueryFilter{
			CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &limit},
			EventTypes:                 []models.VaultEventTypeENUMType{models.VaultEventTypeExported},
		})
		assert.Nil(err)
		assert.Len(events, 1)
		assert.Equal(models.VaultEventTypeExported, events[0].EventType)
		return nil
	}))
}
