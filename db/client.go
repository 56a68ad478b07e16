package db

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/TemirkhanN/intrakill/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// SQLite build and the encrypting VFS
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/ncruces/go-sqlite3/vfs/adiantum"
)

/*
GetEncryptedDialector define the GORM dialector for an encrypted Sqlite DB file.

Every page of the file is encrypted with a key derived from the password. A wrong password
is only detected once the first page is read.

	@param dbFile string - Sqlite DB file
	@param password string - vault password
	@return GORM sqlite dialector
*/
func GetEncryptedDialector(dbFile string, password string) gorm.Dialector {
	params := url.Values{}
	params.Set("vfs", "adiantum")
	params.Set("textkey", password)
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	// SQLite URIs do not decode '+' as a space
	query := strings.ReplaceAll(params.Encode(), "+", "%20")
	dsn := url.URL{Scheme: "file", OmitHost: true, Path: dbFile, RawQuery: query}
	return gormlite.Open(dsn.String())
}

// Client manages connections and transactions with a DB
type Client interface {
	/*
		RunSQLInTransaction execute SQL calls within a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
	*/
	RunSQLInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
	) error

	/*
		UseDatabase utilize a `Database` instance

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabase(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		UseDatabaseInTransaction utilize a `Database` instance in a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabaseInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		Ping force a read of the schema, which fails when the DB key is wrong

			@param ctx context.Context - execution context
	*/
	Ping(ctx context.Context) error

	/*
		Migrate bring the schema up to the newest version known to the migrator

			@param ctx context.Context - execution context
			@param migrator *Migrator - the migrator
			@returns versions applied by this call
	*/
	Migrate(ctx context.Context, migrator *Migrator) ([]models.Version, error)

	/*
		DumpSQL write the full schema and content of the DB as SQL text

			@param ctx context.Context - execution context
			@param output io.Writer - dump destination
	*/
	DumpSQL(ctx context.Context, output io.Writer) error

	/*
		RestoreSQL execute a dump produced by DumpSQL against this (empty) DB

			@param ctx context.Context - execution context
			@param dump io.Reader - the dump
	*/
	RestoreSQL(ctx context.Context, dump io.Reader) error

	// Close release the DB connection
	Close() error
}

// clientImpl implements Client
type clientImpl struct {
	goutils.Component
	db *gorm.DB
}

/*
NewConnection define a new SQL client. The client holds a single connection.

	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@return new client
*/
func NewConnection(dbDialector gorm.Dialector, dbLogLevel logger.LogLevel) (Client, error) {
	logTags := log.Fields{"package": "intrakill", "module": "db", "component": "sql-client"}

	db, err := gorm.Open(dbDialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(dbLogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect with DB [%w]", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access DB connection pool [%w]", err)
	}
	sqlDB.SetMaxOpenConns(1)

	instance := &clientImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db: db,
	}

	return instance, nil
}

/*
RunSQLInTransaction execute SQL calls within a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
*/
func (c *clientImpl) RunSQLInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return coreLogic(ctx, tx)
	})
}

/*
UseDatabase utilize a `Database` instance

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabase(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	dbClient, err := newDatabase(ctx, c.db.WithContext(ctx), c.db)
	if err != nil {
		return fmt.Errorf("failed to define `Database` instance: [%w]", err)
	}
	return coreLogic(ctx, dbClient)
}

/*
UseDatabaseInTransaction utilize a `Database` instance in a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabaseInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	return c.RunSQLInTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		dbClient, err := newDatabase(ctx, tx, c.db)
		if err != nil {
			return fmt.Errorf("failed to define `Database` instance: [%w]", err)
		}
		return coreLogic(ctx, dbClient)
	})
}

/*
Ping force a read of the schema, which fails when the DB key is wrong

	@param ctx context.Context - execution context
*/
func (c *clientImpl) Ping(ctx context.Context) error {
	var count int64
	if tmp := c.db.WithContext(ctx).Raw("SELECT count(*) FROM sqlite_master").Scan(&count); tmp.Error != nil {
		return fmt.Errorf("unable to read DB schema [%w]", tmp.Error)
	}
	return nil
}

/*
Migrate bring the schema up to the newest version known to the migrator

	@param ctx context.Context - execution context
	@param migrator *Migrator - the migrator
	@returns versions applied by this call
*/
func (c *clientImpl) Migrate(ctx context.Context, migrator *Migrator) ([]models.Version, error) {
	applied, err := migrator.Migrate(ctx, &gormAdapter{db: c.db})
	if err != nil {
		return nil, err
	}

	if len(applied) > 0 {
		versions := []string{}
		for _, version := range applied {
			versions = append(versions, version.String())
		}
		log.WithFields(c.GetLogTagsForContext(ctx)).
			WithField("applied", versions).
			Info("Schema migrated")
	}
	return applied, nil
}

// Close release the DB connection
func (c *clientImpl) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access DB connection pool [%w]", err)
	}
	return sqlDB.Close()
}

/*
ActiveSessionWrapper helper function for deciding whether to start a new transition
or use an existing one.

	@param ctx context.Context - execution context
	@param activeDBClient Database - existing database transaction
	@param persistence Client - persistence client
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func ActiveSessionWrapper(
	ctx context.Context,
	activeDBClient Database,
	persistence Client,
	coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	if activeDBClient == nil {
		return persistence.UseDatabaseInTransaction(ctx, coreLogic)
	}
	return coreLogic(ctx, activeDBClient)
}
