// Package store - media vault controllers
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrVaultClosed the vault is not open
	ErrVaultClosed = errors.New("vault is not open")
	// ErrUnlockFailed the vault could not be opened with the password
	ErrUnlockFailed = errors.New("unable to unlock vault")
	// ErrDuplicateCreate a new entry carries the ID of a stored entry
	ErrDuplicateCreate = errors.New("entry is already stored")
	// ErrEntryNotFound no entry with the ID
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryNotLoaded a stored entry was saved without its tags and attachments loaded
	ErrEntryNotLoaded = errors.New("entry details not loaded")
)

// EntryFilter entry search parameters
type EntryFilter struct {
	// Limit max number of entries returned
	Limit *int
	// Offset number of matching entries skipped
	Offset *int
	// Tags only entries carrying every one of these tags
	Tags []string
}

// SearchResult one page of entries and the number of entries matching in total
type SearchResult struct {
	Entries    []models.Entry
	OutOfTotal int64
}

// ChangeEvent notification of a committed change to the vault
type ChangeEvent struct {
	// Type the kind of change
	Type models.VaultEventTypeENUMType
	// EntryID the affected entry, when the change is about one entry
	EntryID string
}

// MediaVault the encrypted media vault
type MediaVault interface {
	// ------------------------------------------------------------------------------------
	// Lifecycle

	/*
		Open open, or create, the vault with a password and bring its schema up to date.
		An open vault is closed first.

			@param ctx context.Context - execution context
			@param password string - vault password
	*/
	Open(ctx context.Context, password string) error

	// IsOpen whether the vault is open
	IsOpen() bool

	// Close close the vault. Closing a closed vault does nothing.
	Close() error

	// ------------------------------------------------------------------------------------
	// Entries

	/*
		Save store a new entry, or apply the changes made to a stored entry

			@param ctx context.Context - execution context
			@param entry models.Entry - the entry
			@returns the entry as stored, with its details loaded
	*/
	Save(ctx context.Context, entry models.Entry) (models.Entry, error)

	/*
		FindEntries list entries carrying every filter tag, most recent first

			@param ctx context.Context - execution context
			@param filter EntryFilter - search parameters
			@returns entries without their details loaded
	*/
	FindEntries(ctx context.Context, filter EntryFilter) ([]models.Entry, error)

	/*
		FindEntriesPage list one page of entries along with the total number of matches

			@param ctx context.Context - execution context
			@param filter EntryFilter - search parameters
			@returns the page
	*/
	FindEntriesPage(ctx context.Context, filter EntryFilter) (SearchResult, error)

	/*
		CountEntries count the entries carrying every filter tag. Limit and offset are ignored.

			@param ctx context.Context - execution context
			@param filter EntryFilter - search parameters
			@returns number of matching entries
	*/
	CountEntries(ctx context.Context, filter EntryFilter) (int64, error)

	/*
		GetByID fetch one entry

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@returns the entry without its details loaded
	*/
	GetByID(ctx context.Context, entryID string) (models.Entry, error)

	/*
		LoadDetails fill in the tags and attachments of a stored entry

			@param ctx context.Context - execution context
			@param entry models.Entry - the entry
			@returns the entry with details loaded
	*/
	LoadDetails(ctx context.Context, entry models.Entry) (models.Entry, error)

	/*
		ListAttachments list the attachments of an entry

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@returns attachments with lazily read content
	*/
	ListAttachments(ctx context.Context, entryID string) ([]models.Attachment, error)

	/*
		ListEntryTags list the tags of an entry

			@param ctx context.Context - execution context
			@param entryID string - entry ID
			@returns sorted tags
	*/
	ListEntryTags(ctx context.Context, entryID string) ([]string, error)

	/*
		DeleteByID delete an entry with its attachments and tags

			@param ctx context.Context - execution context
			@param entryID string - entry ID
	*/
	DeleteByID(ctx context.Context, entryID string) error

	// ------------------------------------------------------------------------------------
	// Tags and events

	/*
		ListTags list every tag with the number of entries carrying it, most used first

			@param ctx context.Context - execution context
			@returns tags
	*/
	ListTags(ctx context.Context) ([]models.Tag, error)

	/*
		ListEvents list recorded vault events, most recent first

			@param ctx context.Context - execution context
			@param filter db.VaultEventQueryFilter - event filter
			@returns events
	*/
	ListEvents(ctx context.Context, filter db.VaultEventQueryFilter) ([]models.VaultEvent, error)

	/*
		Subscribe register a callback run after every committed change

			@param callback func(ChangeEvent) - the callback
	*/
	Subscribe(callback func(ChangeEvent))

	// ------------------------------------------------------------------------------------
	// Transfer

	/*
		Dump write a plaintext SQL dump of the whole vault

			@param ctx context.Context - execution context
			@param output io.Writer - dump destination
			@param peer string - who receives the dump, for the event log
			@returns number of bytes written
	*/
	Dump(ctx context.Context, output io.Writer, peer string) (int64, error)

	/*
		Restore replace the vault with the content of a dump, encrypted under the password,
		then open it

			@param ctx context.Context - execution context
			@param dump io.Reader - the dump
			@param password string - vault password
			@param peer string - where the dump came from, for the event log
	*/
	Restore(ctx context.Context, dump io.Reader, password string, peer string) error
}

// mediaVault implements MediaVault
type mediaVault struct {
	goutils.Component

	dbFile      string
	tempDir     string
	sqlLogLevel logger.LogLevel
	validator   *validator.Validate

	lock   *sync.RWMutex
	client db.Client

	tagCacheLock *sync.RWMutex
	tagCache     []models.Tag
	tagCacheGen  uint64

	subscriberLock *sync.Mutex
	subscribers    []func(ChangeEvent)
}

// MediaVaultParams media vault init parameters
type MediaVaultParams struct {
	// DBFile the encrypted vault DB file
	DBFile string `validate:"required"`
	// TempDir where plaintext dumps are staged
	TempDir string `validate:"required,dir"`
	// SQLLogLevel SQL statement log level
	SQLLogLevel logger.LogLevel `validate:"gte=1,lte=4"`
}

/*
NewMediaVault define new media vault. The vault starts closed.

	@param params MediaVaultParams - vault parameters
	@returns vault instance
*/
func NewMediaVault(params MediaVaultParams) (MediaVault, error) {
	validate, err := models.NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid vault init parameters [%w]", err)
	}

	logTags := log.Fields{"package": "intrakill", "module": "store", "component": "media-vault"}

	return &mediaVault{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		dbFile:         params.DBFile,
		tempDir:        params.TempDir,
		sqlLogLevel:    params.SQLLogLevel,
		validator:      validate,
		lock:           &sync.RWMutex{},
		tagCacheLock:   &sync.RWMutex{},
		subscriberLock: &sync.Mutex{},
	}, nil
}

// ======================================================================================
// Lifecycle

func (v *mediaVault) Open(ctx context.Context, password string) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.open(ctx, password)
}

// open open the vault. The caller holds the write lock.
func (v *mediaVault) open(ctx context.Context, password string) error {
	logTags := v.GetLogTagsForContext(ctx)

	if err := v.closeClient(); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Failed to close previous vault connection")
	}
	v.invalidateTagCache()

	if err := models.CheckPassword(password); err != nil {
		return fmt.Errorf("%s [%w]", err.Error(), ErrUnlockFailed)
	}

	client, applied, err := db.OpenVault(ctx, v.dbFile, password, v.sqlLogLevel)
	if err != nil {
		log.WithError(err).WithFields(logTags).WithField("db", v.dbFile).Debug("Vault unlock failed")
		return fmt.Errorf("%s [%w]", err.Error(), ErrUnlockFailed)
	}
	v.client = client

	log.WithFields(logTags).
		WithField("db", v.dbFile).
		WithField("migrations", len(applied)).
		Info("Vault opened")
	return nil
}

func (v *mediaVault) IsOpen() bool {
	v.lock.RLock()
	defer v.lock.RUnlock()
	return v.client != nil
}

func (v *mediaVault) Close() error {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.invalidateTagCache()
	return v.closeClient()
}

// closeClient drop the connection. The caller holds the write lock.
func (v *mediaVault) closeClient() error {
	if v.client == nil {
		return nil
	}
	err := v.client.Close()
	v.client = nil
	return err
}

// withClient run logic against the open vault
func (v *mediaVault) withClient(coreLogic func(client db.Client) error) error {
	v.lock.RLock()
	defer v.lock.RUnlock()
	if v.client == nil {
		return ErrVaultClosed
	}
	return coreLogic(v.client)
}

// ======================================================================================
// Change notification

func (v *mediaVault) Subscribe(callback func(ChangeEvent)) {
	v.subscriberLock.Lock()
	defer v.subscriberLock.Unlock()
	v.subscribers = append(v.subscribers, callback)
}

// notify run the subscribers on a committed change
func (v *mediaVault) notify(event ChangeEvent) {
	v.invalidateTagCache()

	v.subscriberLock.Lock()
	subscribers := append([]func(ChangeEvent){}, v.subscribers...)
	v.subscriberLock.Unlock()

	for _, callback := range subscribers {
		callback(event)
	}
}

// ======================================================================================
// Tags

func (v *mediaVault) ListTags(ctx context.Context) ([]models.Tag, error) {
	cached, generation, ok := v.cachedTags()
	if ok {
		return cached, nil
	}

	var tags []models.Tag
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			tags, err = dbClient.ListTagFrequencies(ctx)
			return err
		})
	}); err != nil {
		return nil, fmt.Errorf("failed to list tags [%w]", err)
	}

	v.tagCacheLock.Lock()
	defer v.tagCacheLock.Unlock()
	// A change committed while counting makes this result stale
	if v.tagCacheGen == generation {
		v.tagCache = tags
	}
	return append([]models.Tag{}, tags...), nil
}

// cachedTags the tag frequencies computed since the last change
func (v *mediaVault) cachedTags() ([]models.Tag, uint64, bool) {
	v.tagCacheLock.RLock()
	defer v.tagCacheLock.RUnlock()
	if v.tagCache == nil {
		return nil, v.tagCacheGen, false
	}
	return append([]models.Tag{}, v.tagCache...), v.tagCacheGen, true
}

func (v *mediaVault) invalidateTagCache() {
	v.tagCacheLock.Lock()
	defer v.tagCacheLock.Unlock()
	v.tagCache = nil
	v.tagCacheGen++
}

func (v *mediaVault) ListEvents(
	ctx context.Context, filter db.VaultEventQueryFilter,
) ([]models.VaultEvent, error) {
	var events []models.VaultEvent
	if err := v.withClient(func(client db.Client) error {
		return client.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			events, err = dbClient.ListVaultEvents(ctx, filter)
			return err
		})
	}); err != nil {
		return nil, fmt.Errorf("failed to list vault events [%w]", err)
	}
	return events, nil
}

// notFound map a missing row onto ErrEntryNotFound
func notFound(entryID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("entry %s [%w]", entryID, ErrEntryNotFound)
	}
	return err
}
