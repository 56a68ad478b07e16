// Package intrakill - encrypted media vault with local network transfer
package intrakill

import (
	"context"
	"fmt"

	"github.com/TemirkhanN/intrakill/encryption"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/TemirkhanN/intrakill/transfer"
	"gorm.io/gorm/logger"
)

/*
OpenMediaVault initialize a media vault instance, and unlock it.

The vault is a single SQLite file encrypted page by page under the password. A new file
is created when none exists.

	@param ctx context.Context - execution context
	@param dbFile string - the vault DB file
	@param tempDir string - where plaintext dumps are staged
	@param dbLogLevel logger.LogLevel - SQL log level
	@param password string - vault password
	@returns the open vault
*/
func OpenMediaVault(
	ctx context.Context,
	dbFile string,
	tempDir string,
	dbLogLevel logger.LogLevel,
	password string,
) (store.MediaVault, error) {
	vault, err := store.NewMediaVault(store.MediaVaultParams{
		DBFile: dbFile, TempDir: tempDir, SQLLogLevel: dbLogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media vault [%w]", err)
	}

	if err := vault.Open(ctx, password); err != nil {
		return nil, fmt.Errorf("failed to unlock media vault [%w]", err)
	}

	return vault, nil
}

/*
NewExporter initialize an exporter serving a vault to peers

	@param ctx context.Context - execution context
	@param vault store.MediaVault - the vault
	@param params transfer.ExporterParams - exporter parameters
	@returns new exporter
*/
func NewExporter(
	ctx context.Context, vault store.MediaVault, params transfer.ExporterParams,
) (transfer.Exporter, error) {
	credentials, err := encryption.NewCredentialEngine(ctx, encryption.CredentialEngineParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential engine [%w]", err)
	}

	exporter, err := transfer.NewExporter(vault, credentials, params)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exporter [%w]", err)
	}
	return exporter, nil
}

/*
NewImporter initialize an importer replacing a vault with the vault of a peer

	@param ctx context.Context - execution context
	@param vault store.MediaVault - the vault
	@param params transfer.ImporterParams - importer parameters
	@returns new importer
*/
func NewImporter(
	ctx context.Context, vault store.MediaVault, params transfer.ImporterParams,
) (transfer.Importer, error) {
	credentials, err := encryption.NewCredentialEngine(ctx, encryption.CredentialEngineParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential engine [%w]", err)
	}

	importer, err := transfer.NewImporter(vault, credentials, params)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize importer [%w]", err)
	}
	return importer, nil
}
