package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/TemirkhanN/intrakill/models"
	"github.com/apex/log"
	"gorm.io/gorm"
)

// ErrDuplicateMigrationVersion two migrations were registered under the same version
var ErrDuplicateMigrationVersion = errors.New("duplicate migration version")

// Migration one versioned schema / data change
type Migration struct {
	// Version the schema version reached once this migration is applied
	Version models.Version
	// Description short summary
	Description string
	// Statements SQL statements executed in order
	Statements []string
}

// SQLAdapter the minimal SQL execution support the migrator needs
type SQLAdapter interface {
	/*
		Exec run one SQL statement

			@param ctx context.Context - execution context
			@param statement string - the SQL
			@param args ...interface{} - statement arguments
	*/
	Exec(ctx context.Context, statement string, args ...interface{}) error

	/*
		QueryString read the first column of the first row returned by a query

			@param ctx context.Context - execution context
			@param query string - the SQL
			@returns the value, and whether a row was returned
	*/
	QueryString(ctx context.Context, query string) (string, bool, error)

	/*
		InTransaction run the callback against an adapter bound to a single transaction.
		The transaction commits only when the callback returns nil.

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, tx SQLAdapter) error - the callback
	*/
	InTransaction(ctx context.Context, coreLogic func(ctx context.Context, tx SQLAdapter) error) error
}

// Migrator applies registered migrations in ascending version order
type Migrator struct {
	migrations []Migration
}

/*
NewMigrator define a migrator. Registration order does not matter; versions must be unique.

	@param migrations ...Migration - the known migrations
	@returns migrator
*/
func NewMigrator(migrations ...Migration) (*Migrator, error) {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version.Compare(sorted[j].Version) < 0
	})

	for idx, migration := range sorted {
		if err := migration.Version.Validate(); err != nil {
			return nil, fmt.Errorf("migration '%s' has invalid version [%w]", migration.Description, err)
		}
		if idx > 0 && sorted[idx-1].Version.Compare(migration.Version) == 0 {
			return nil, fmt.Errorf(
				"version %s registered by '%s' and '%s' [%w]",
				migration.Version,
				sorted[idx-1].Description,
				migration.Description,
				ErrDuplicateMigrationVersion,
			)
		}
	}

	return &Migrator{migrations: sorted}, nil
}

// Latest the newest registered version
func (m *Migrator) Latest() models.Version {
	if len(m.migrations) == 0 {
		return models.VersionNone
	}
	return m.migrations[len(m.migrations)-1].Version
}

/*
CurrentVersion read the version stored in the application metadata

	@param ctx context.Context - execution context
	@param adapter SQLAdapter - SQL execution support
	@returns the stored version
*/
func (m *Migrator) CurrentVersion(ctx context.Context, adapter SQLAdapter) (models.Version, error) {
	raw, found, err := adapter.QueryString(ctx, "SELECT version FROM application_metadata LIMIT 1")
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to read schema version [%w]", err)
	}
	if !found {
		return models.Version{}, fmt.Errorf("schema version marker is missing")
	}
	return models.ParseVersion(raw)
}

/*
Migrate apply every migration newer than the stored version. Each migration and its version
update commit together. Storage is reclaimed when anything was applied.

	@param ctx context.Context - execution context
	@param adapter SQLAdapter - SQL execution support
	@returns the versions applied by this call
*/
func (m *Migrator) Migrate(ctx context.Context, adapter SQLAdapter) ([]models.Version, error) {
	logTags := log.Fields{"package": "intrakill", "module": "db", "component": "migrator"}

	if err := m.ensureMetadata(ctx, adapter); err != nil {
		return nil, err
	}

	current, err := m.CurrentVersion(ctx, adapter)
	if err != nil {
		return nil, err
	}

	applied := []models.Version{}
	for _, migration := range m.migrations {
		if migration.Version.Compare(current) <= 0 {
			continue
		}

		log.WithFields(logTags).
			WithField("version", migration.Version.String()).
			Debugf("Applying migration '%s'", migration.Description)

		if err := adapter.InTransaction(
			ctx, func(ctx context.Context, tx SQLAdapter) error {
				for idx, statement := range migration.Statements {
					if err := tx.Exec(ctx, statement); err != nil {
						return fmt.Errorf("statement %d failed [%w]", idx, err)
					}
				}
				return tx.Exec(
					ctx, "UPDATE application_metadata SET version = ?", migration.Version.String(),
				)
			},
		); err != nil {
			return applied, fmt.Errorf(
				"apply migration %s (%s) [%w]", migration.Version, migration.Description, err,
			)
		}

		applied = append(applied, migration.Version)
		current = migration.Version
	}

	if len(applied) > 0 {
		if err := adapter.Exec(ctx, "VACUUM"); err != nil {
			return applied, fmt.Errorf("failed to reclaim storage after migration [%w]", err)
		}
	}

	return applied, nil
}

// ensureMetadata create and seed the version marker when absent
func (m *Migrator) ensureMetadata(ctx context.Context, adapter SQLAdapter) error {
	if err := adapter.Exec(
		ctx, "CREATE TABLE IF NOT EXISTS application_metadata (version TEXT NOT NULL)",
	); err != nil {
		return fmt.Errorf("failed to define application metadata [%w]", err)
	}

	_, found, err := adapter.QueryString(ctx, "SELECT version FROM application_metadata LIMIT 1")
	if err != nil {
		return fmt.Errorf("failed to read application metadata [%w]", err)
	}
	if found {
		return nil
	}

	if err := adapter.Exec(
		ctx, "INSERT INTO application_metadata (version) VALUES (?)", models.VersionNone.String(),
	); err != nil {
		return fmt.Errorf("failed to seed application metadata [%w]", err)
	}
	return nil
}

// ======================================================================================
// GORM backed adapter

type gormAdapter struct {
	db *gorm.DB
}

func (a *gormAdapter) Exec(ctx context.Context, statement string, args ...interface{}) error {
	return a.db.WithContext(ctx).Exec(statement, args...).Error
}

func (a *gormAdapter) QueryString(ctx context.Context, query string) (string, bool, error) {
	var values []string
	if tmp := a.db.WithContext(ctx).Raw(query).Scan(&values); tmp.Error != nil {
		return "", false, tmp.Error
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

func (a *gormAdapter) InTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, tx SQLAdapter) error,
) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return coreLogic(ctx, &gormAdapter{db: tx})
	})
}
