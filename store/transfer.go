package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm/logger"
)

// DumpCopyBufferSize buffer used when streaming a staged dump to its destination
const DumpCopyBufferSize = 8 * 1024

/*
Dump write a plaintext SQL dump of the whole vault.

The dump is staged in a temporary file under TempDir which is removed before returning,
whether or not the dump succeeded.

	@param ctx context.Context - execution context
	@param output io.Writer - dump destination
	@param peer string - who receives the dump, for the event log
	@returns number of bytes written
*/
func (v *mediaVault) Dump(ctx context.Context, output io.Writer, peer string) (int64, error) {
	logTags := v.GetLogTagsForContext(ctx)

	staged, err := os.CreateTemp(v.tempDir, "intrakill-dump-*.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to stage vault dump [%w]", err)
	}
	defer func() {
		_ = staged.Close()
		if err := os.Remove(staged.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithFields(logTags).
				WithField("file", staged.Name()).
				Error("Failed to remove staged plaintext dump")
		}
	}()
	if err := staged.Chmod(0o600); err != nil {
		return 0, fmt.Errorf("failed to restrict staged dump [%w]", err)
	}

	var written int64
	if err := v.withClient(func(client db.Client) error {
		if err := client.DumpSQL(ctx, staged); err != nil {
			return err
		}
		if _, err := staged.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind staged dump [%w]", err)
		}
		var err error
		written, err = io.CopyBuffer(output, staged, make([]byte, DumpCopyBufferSize))
		if err != nil {
			return fmt.Errorf("failed to stream vault dump [%w]", err)
		}

		return client.UseDatabaseInTransaction(ctx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordVaultEvent(
				ctx,
				models.VaultEventTypeExported,
				models.VaultEventTransferRelated{Bytes: written, Peer: peer},
			)
			return err
		})
	}); err != nil {
		return written, fmt.Errorf("vault dump failed [%w]", err)
	}

	log.WithFields(logTags).WithField("bytes", written).WithField("peer", peer).Info("Vault dumped")
	return written, nil
}

/*
Restore replace the vault with the content of a dump, encrypted under the password, then
open it.

The dump is restored into a sibling file which is moved over the vault file only once the
whole dump applied. The current vault is left untouched when the dump can not be applied.

	@param ctx context.Context - execution context
	@param dump io.Reader - the dump
	@param password string - vault password
	@param peer string - where the dump came from, for the event log
*/
func (v *mediaVault) Restore(ctx context.Context, dump io.Reader, password string, peer string) error {
	logTags := v.GetLogTagsForContext(ctx)

	if err := models.CheckPassword(password); err != nil {
		return err
	}

	v.lock.Lock()
	defer v.lock.Unlock()

	sibling := filepath.Join(
		filepath.Dir(v.dbFile),
		fmt.Sprintf(".%s.import-%s", filepath.Base(v.dbFile), ulid.Make().String()),
	)
	defer func() {
		if err := os.Remove(sibling); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithFields(logTags).WithField("file", sibling).Error("Failed to remove import file")
		}
	}()

	counted := &countingReader{reader: dump}
	if err := restoreInto(ctx, sibling, password, v.sqlLogLevel, counted); err != nil {
		return fmt.Errorf("failed to rebuild vault from dump [%w]", err)
	}

	if err := v.closeClient(); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Failed to close vault before replacing it")
	}
	if err := os.Rename(sibling, v.dbFile); err != nil {
		return fmt.Errorf("failed to replace vault file [%w]", err)
	}

	if err := v.open(ctx, password); err != nil {
		return err
	}

	if err := v.client.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordVaultEvent(
				ctx,
				models.VaultEventTypeImported,
				models.VaultEventTransferRelated{Bytes: counted.count, Peer: peer},
			)
			return err
		},
	); err != nil {
		return fmt.Errorf("failed to log vault import event [%w]", err)
	}

	log.WithFields(logTags).WithField("bytes", counted.count).WithField("peer", peer).Info("Vault restored")

	v.notify(ChangeEvent{Type: models.VaultEventTypeImported})
	return nil
}

// restoreInto apply a dump to a new encrypted DB file
func restoreInto(
	ctx context.Context, dbFile string, password string, sqlLogLevel logger.LogLevel, dump io.Reader,
) error {
	client, err := db.NewConnection(db.GetEncryptedDialector(dbFile, password), sqlLogLevel)
	if err != nil {
		return err
	}
	if err := client.RestoreSQL(ctx, dump); err != nil {
		_ = client.Close()
		return err
	}
	return client.Close()
}

// countingReader counts the bytes read through it
type countingReader struct {
	reader io.Reader
	count  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.count += int64(n)
	return n, err
}
