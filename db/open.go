package db

import (
	"context"
	"fmt"

	"github.com/TemirkhanN/intrakill/models"
	"gorm.io/gorm/logger"
)

/*
OpenVault open (or create) an encrypted vault DB, confirm the password can read it, and
bring its schema up to date.

	@param ctx context.Context - execution context
	@param dbFile string - Sqlite DB file
	@param password string - vault password
	@param dbLogLevel logger.LogLevel - SQL log level
	@returns the client and the schema versions applied
*/
func OpenVault(
	ctx context.Context, dbFile string, password string, dbLogLevel logger.LogLevel,
) (Client, []models.Version, error) {
	migrator, err := NewVaultMigrator()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to define schema migrator [%w]", err)
	}

	client, err := NewConnection(GetEncryptedDialector(dbFile, password), dbLogLevel)
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	applied, err := client.Migrate(ctx, migrator)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to migrate vault schema [%w]", err)
	}

	return client, applied, nil
}
