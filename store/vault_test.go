package store_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func newTestVault(t *testing.T, tempDir string) store.MediaVault {
	testDB := fmt.Sprintf("/tmp/intrakill_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := store.NewMediaVault(store.MediaVaultParams{
		DBFile: testDB, TempDir: tempDir, SQLLogLevel: logger.Error,
	})
	assert.Nil(t, err)
	return uut
}

func newTestAttachment(t *testing.T, size int) models.Attachment {
	payload := make([]byte, size)
	_, err := rand.Read(payload)
	assert.Nil(t, err)
	attachment, err := models.NewAttachment(
		"image/jpeg", content.FromBytes(payload), []byte("thumb"), models.SizeUnknown,
	)
	assert.Nil(t, err)
	return attachment
}

func TestVaultLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestVault(t, t.TempDir())
	assert.False(uut.IsOpen())

	// Closed vault refuses work
	_, err := uut.FindEntries(utCtx, store.EntryFilter{})
	assert.True(errors.Is(err, store.ErrVaultClosed))

	// Password too short
	err = uut.Open(utCtx, "abc")
	assert.True(errors.Is(err, store.ErrUnlockFailed))
	assert.False(uut.IsOpen())

	assert.Nil(uut.Open(utCtx, "correct-horse"))
	assert.True(uut.IsOpen())

	// Re-open while open
	assert.Nil(uut.Open(utCtx, "correct-horse"))
	assert.True(uut.IsOpen())

	// Wrong password leaves the vault closed
	err = uut.Open(utCtx, "wrong-horse")
	assert.True(errors.Is(err, store.ErrUnlockFailed))
	assert.False(uut.IsOpen())

	assert.Nil(uut.Open(utCtx, "correct-horse"))
	assert.Nil(uut.Close())
	assert.Nil(uut.Close())
	assert.False(uut.IsOpen())
}

func TestVaultSaveAndQuery(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestVault(t, t.TempDir())
	assert.Nil(uut.Open(utCtx, "correct-horse"))
	defer func() {
		assert.Nil(uut.Close())
	}()

	changes := []store.ChangeEvent{}
	uut.Subscribe(func(event store.ChangeEvent) {
		changes = append(changes, event)
	})

	// Case 0: no attachment
	{
		_, err := uut.Save(utCtx, models.NewEntry("empty", nil, []string{"a"}, nil))
		var violations *models.ViolationError
		assert.True(errors.As(err, &violations))
		assert.Contains(violations.Violations, models.MsgAttachmentRequired)
	}

	// Case 1: new entry
	first := newTestAttachment(t, content.MaxChunkSize+1)
	draft := models.NewEntry(
		"cat.jpg", nil, []string{"animals", "cute"}, []models.Attachment{first},
	)
	saved, err := uut.Save(utCtx, draft)
	assert.Nil(err)
	assert.True(saved.IsPersisted)
	assert.True(saved.IsLoaded())
	assert.Equal(draft.ID, saved.ID)
	assert.Equal([]byte("thumb"), saved.Preview)
	assert.NotZero(saved.CreatedAt)
	assert.Equal([]string{"animals", "cute"}, saved.Tags)
	assert.Len(saved.Attachments, 1)
	assert.Equal(first.Hashsum, saved.Attachments[0].Hashsum)

	// Case 2: saving the unpersisted draft again
	{
		_, err := uut.Save(utCtx, draft)
		assert.True(errors.Is(err, store.ErrDuplicateCreate))
	}

	// Case 3: stored entry without details
	fetched, err := uut.GetByID(utCtx, saved.ID)
	assert.Nil(err)
	assert.False(fetched.IsLoaded())
	{
		_, err := uut.Save(utCtx, fetched)
		assert.True(errors.Is(err, store.ErrEntryNotLoaded))
	}

	// Case 4: diff update
	loaded, err := uut.LoadDetails(utCtx, fetched)
	assert.Nil(err)
	assert.True(loaded.IsLoaded())
	second := newTestAttachment(t, 10)
	third := newTestAttachment(t, 20)
	loaded.Name = "cat.gif"
	loaded.Tags = []string{"animals", "funny"}
	loaded.Attachments = []models.Attachment{second, third}
	updated, err := uut.Save(utCtx, loaded)
	assert.Nil(err)
	assert.Equal("cat.gif", updated.Name)
	assert.Equal([]string{"animals", "funny"}, updated.Tags)
	assert.Len(updated.Attachments, 2)
	assert.Equal(second.ID, updated.Attachments[0].ID)
	assert.Equal(third.ID, updated.Attachments[1].ID)
	assert.Equal(saved.CreatedAt, updated.CreatedAt)

	// Case 5: persisted attachments are kept untouched
	kept, err := uut.Save(utCtx, updated)
	assert.Nil(err)
	assert.Len(kept.Attachments, 2)

	// More entries for the searches
	other, err := uut.Save(utCtx, models.NewEntry(
		"dog.jpg", nil, []string{"animals"}, []models.Attachment{newTestAttachment(t, 5)},
	))
	assert.Nil(err)

	found, err := uut.FindEntries(utCtx, store.EntryFilter{Tags: []string{"animals"}})
	assert.Nil(err)
	assert.Len(found, 2)
	assert.Equal(other.ID, found[0].ID)

	found, err = uut.FindEntries(utCtx, store.EntryFilter{Tags: []string{"dogs"}})
	assert.Nil(err)
	assert.Empty(found)

	limit := 1
	page, err := uut.FindEntriesPage(utCtx, store.EntryFilter{Limit: &limit, Tags: []string{"animals"}})
	assert.Nil(err)
	assert.Len(page.Entries, 1)
	assert.Equal(int64(2), page.OutOfTotal)

	count, err := uut.CountEntries(utCtx, store.EntryFilter{Tags: []string{"animals", "funny"}})
	assert.Nil(err)
	assert.Equal(int64(1), count)

	tags, err := uut.ListTags(utCtx)
	assert.Nil(err)
	assert.Equal([]models.Tag{{Name: "animals", Frequency: 2}, {Name: "funny", Frequency: 1}}, tags)

	// Tag counts follow deletes
	assert.Nil(uut.DeleteByID(utCtx, other.ID))
	tags, err = uut.ListTags(utCtx)
	assert.Nil(err)
	assert.Equal([]models.Tag{{Name: "animals", Frequency: 1}, {Name: "funny", Frequency: 1}}, tags)

	_, err = uut.GetByID(utCtx, other.ID)
	assert.True(errors.Is(err, store.ErrEntryNotFound))
	err = uut.DeleteByID(utCtx, other.ID)
	assert.True(errors.Is(err, store.ErrEntryNotFound))

	// Attachment and tag access
	attachments, err := uut.ListAttachments(utCtx, saved.ID)
	assert.Nil(err)
	assert.Len(attachments, 2)
	entryTags, err := uut.ListEntryTags(utCtx, saved.ID)
	assert.Nil(err)
	assert.Equal([]string{"animals", "funny"}, entryTags)

	assert.Equal([]store.ChangeEvent{
		{Type: models.VaultEventTypeEntryCreated, EntryID: saved.ID},
		{Type: models.VaultEventTypeEntryUpdated, EntryID: saved.ID},
		{Type: models.VaultEventTypeEntryUpdated, EntryID: saved.ID},
		{Type: models.VaultEventTypeEntryCreated, EntryID: other.ID},
		{Type: models.VaultEventTypeEntryDeleted, EntryID: other.ID},
	}, changes)

	events, err := uut.ListEvents(utCtx, db.VaultEventQueryFilter{})
	assert.Nil(err)
	assert.Len(events, 5)
}

func TestVaultDumpAndRestore(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	stagingDir := t.TempDir()
	source := newTestVault(t, stagingDir)
	assert.Nil(source.Open(utCtx, "correct-horse"))
	defer func() {
		assert.Nil(source.Close())
	}()

	attachment := newTestAttachment(t, 3*content.MaxChunkSize)
	saved, err := source.Save(utCtx, models.NewEntry(
		"clip", nil, []string{"video"}, []models.Attachment{attachment},
	))
	assert.Nil(err)

	var dump bytes.Buffer
	written, err := source.Dump(utCtx, &dump, "192.168.1.20")
	assert.Nil(err)
	assert.Equal(int64(dump.Len()), written)

	// No plaintext left behind
	staged, err := os.ReadDir(stagingDir)
	assert.Nil(err)
	assert.Empty(staged)

	exported, err := source.ListEvents(utCtx, db.VaultEventQueryFilter{
		EventTypes: []models.VaultEventTypeENUMType{models.VaultEventTypeExported},
	})
	assert.Nil(err)
	assert.Len(exported, 1)

	// Restore into another vault, opened with another password
	target := newTestVault(t, t.TempDir())
	assert.Nil(target.Open(utCtx, "other-horse"))
	_, err = target.Save(utCtx, models.NewEntry(
		"replaced", nil, []string{"gone"}, []models.Attachment{newTestAttachment(t, 3)},
	))
	assert.Nil(err)

	restoreEvents := 0
	target.Subscribe(func(event store.ChangeEvent) {
		if event.Type == models.VaultEventTypeImported {
			restoreEvents++
		}
	})

	// Broken dump leaves the vault as it was
	err = target.Restore(utCtx, bytes.NewReader([]byte("not a dump")), "correct-horse", "192.168.1.10")
	assert.True(errors.Is(err, db.ErrInvalidDump))
	assert.True(target.IsOpen())
	count, err := target.CountEntries(utCtx, store.EntryFilter{})
	assert.Nil(err)
	assert.Equal(int64(1), count)

	assert.Nil(target.Restore(utCtx, bytes.NewReader(dump.Bytes()), "correct-horse", "192.168.1.10"))
	defer func() {
		assert.Nil(target.Close())
	}()
	assert.True(target.IsOpen())
	assert.Equal(1, restoreEvents)

	entries, err := target.FindEntries(utCtx, store.EntryFilter{})
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Equal(saved.ID, entries[0].ID)

	restored, err := target.LoadDetails(utCtx, entries[0])
	assert.Nil(err)
	assert.Equal([]string{"video"}, restored.Tags)
	assert.Len(restored.Attachments, 1)
	hashsum, err := content.ComputeHash(restored.Attachments[0].Content)
	assert.Nil(err)
	assert.Equal(attachment.Hashsum, hashsum)

	tags, err := target.ListTags(utCtx)
	assert.Nil(err)
	assert.Equal([]models.Tag{{Name: "video", Frequency: 1}}, tags)

	imported, err := target.ListEvents(utCtx, db.VaultEventQueryFilter{
		EventTypes: []models.VaultEventTypeENUMType{models.VaultEventTypeImported},
	})
	assert.Nil(err)
	assert.Len(imported, 1)

	// The vault now answers to the imported password
	assert.Nil(target.Close())
	err = target.Open(utCtx, "other-horse")
	assert.True(errors.Is(err, store.ErrUnlockFailed))
	assert.Nil(target.Open(utCtx, "correct-horse"))
}

func TestVaultSaveFromStoredAttachment(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := newTestVault(t, t.TempDir())
	assert.Nil(uut.Open(utCtx, "correct-horse"))
	defer func() {
		assert.Nil(uut.Close())
	}()

	saved, err := uut.Save(utCtx, models.NewEntry(
		"original", nil, []string{"a"}, []models.Attachment{newTestAttachment(t, content.MaxChunkSize+5)},
	))
	assert.Nil(err)
	stored := saved.Attachments[0]

	duplicate, err := models.NewAttachment(stored.MimeType, stored.Content, nil, models.SizeUnknown)
	assert.Nil(err)

	type saveResult struct {
		entry models.Entry
		err   error
	}
	done := make(chan saveResult, 1)
	go func() {
		entry, err := uut.Save(utCtx, models.NewEntry(
			"duplicate", nil, []string{"b"}, []models.Attachment{duplicate},
		))
		done <- saveResult{entry: entry, err: err}
	}()

	var result saveResult
	select {
	case result = <-done:
	case <-time.After(time.Second * 30):
		assert.FailNow("save of stored attachment content did not complete")
	}
	assert.Nil(result.err)
	assert.Len(result.entry.Attachments, 1)
	assert.Equal(stored.Hashsum, result.entry.Attachments[0].Hashsum)

	original, err := content.ReadAll(stored.Content)
	assert.Nil(err)
	copied, err := content.ReadAll(result.entry.Attachments[0].Content)
	assert.Nil(err)
	assert.True(bytes.Equal(original, copied))
}

// failingWriter accepts a number of bytes, then fails
type failingWriter struct {
	remaining int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(p) > w.remaining {
		written := w.remaining
		w.remaining = 0
		return written, errors.New("peer went away")
	}
	w.remaining -= len(p)
	return len(p), nil
}

func TestVaultDumpIntoFailingWriter(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	stagingDir := t.TempDir()
	uut := newTestVault(t, stagingDir)
	assert.Nil(uut.Open(utCtx, "correct-horse"))
	defer func() {
		assert.Nil(uut.Close())
	}()

	_, err := uut.Save(utCtx, models.NewEntry(
		"clip", nil, []string{"video"}, []models.Attachment{newTestAttachment(t, 2*content.MaxChunkSize)},
	))
	assert.Nil(err)

	_, err = uut.Dump(utCtx, &failingWriter{remaining: 1000}, "192.168.1.20")
	assert.NotNil(err)

	// The staged dump is removed
	staged, err := os.ReadDir(stagingDir)
	assert.Nil(err)
	assert.Empty(staged)

	// Only completed dumps are recorded
	exported, err := uut.ListEvents(utCtx, db.VaultEventQueryFilter{
		EventTypes: []models.VaultEventTypeENUMType{models.VaultEventTypeExported},
	})
	assert.Nil(err)
	assert.Empty(exported)

	// The vault keeps working
	assert.True(uut.IsOpen())
	var dump bytes.Buffer
	_, err = uut.Dump(utCtx, &dump, "192.168.1.20")
	assert.Nil(err)
}
