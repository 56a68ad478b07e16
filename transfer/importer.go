package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/TemirkhanN/intrakill/encryption"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
)

// ImportCopyBufferSize buffer used when writing a downloaded dump to disk
const ImportCopyBufferSize = 32 * 1024

// Importer replaces the local vault with the vault of a peer
type Importer interface {
	/*
		ImportDatabase download the dump of a peer vault, and replace the local vault with it.
		The local vault is encrypted with the same password afterwards.

			@param ctx context.Context - execution context
			@param ip string - peer IPv4 address
			@param port int - peer port
			@param password string - the peer vault password
	*/
	ImportDatabase(ctx context.Context, ip string, port int, password string) error
}

// ImporterParams importer init parameters
type ImporterParams struct {
	// ConnectTimeout bound on establishing the connection
	ConnectTimeout time.Duration `validate:"gt=0"`
	// ReadTimeout bound on the whole download
	ReadTimeout time.Duration `validate:"gt=0"`
	// TempDir where the downloaded dump is staged
	TempDir string `validate:"required,dir"`
}

// importerImpl implements Importer
type importerImpl struct {
	goutils.Component

	vault       store.MediaVault
	credentials encryption.CredentialEngine
	validator   *validator.Validate
	tempDir     string
	client      *resty.Client
}

/*
NewImporter define new vault importer

	@param vault store.MediaVault - the vault to replace
	@param credentials encryption.CredentialEngine - transfer token derivation
	@param params ImporterParams - importer parameters
	@returns importer instance
*/
func NewImporter(
	vault store.MediaVault, credentials encryption.CredentialEngine, params ImporterParams,
) (Importer, error) {
	validate, err := models.NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid importer init parameters [%w]", err)
	}

	logTags := log.Fields{"package": "intrakill", "module": "transfer", "component": "importer"}

	dialer := &net.Dialer{Timeout: params.ConnectTimeout}
	client := resty.New().
		SetTransport(&http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: params.ReadTimeout,
		}).
		SetTimeout(params.ReadTimeout)

	return &importerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		vault:       vault,
		credentials: credentials,
		validator:   validate,
		tempDir:     params.TempDir,
		client:      client,
	}, nil
}

/*
ImportDatabase download the dump of a peer vault, and replace the local vault with it.
The local vault is encrypted with the same password afterwards.

	@param ctx context.Context - execution context
	@param ip string - peer IPv4 address
	@param port int - peer port
	@param password string - the peer vault password
*/
func (i *importerImpl) ImportDatabase(ctx context.Context, ip string, port int, password string) error {
	logTags := i.GetLogTagsForContext(ctx)

	if err := models.CheckImportTarget(i.validator, ip, password); err != nil {
		return err
	}

	token, err := i.credentials.TransferToken(ctx, password)
	if err != nil {
		return err
	}

	staged, err := os.CreateTemp(i.tempDir, "intrakill-import-*.sql")
	if err != nil {
		return fmt.Errorf("failed to stage downloaded dump [%w]", err)
	}
	defer func() {
		_ = staged.Close()
		if err := os.Remove(staged.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithFields(logTags).
				WithField("file", staged.Name()).
				Error("Failed to remove downloaded plaintext dump")
		}
	}()

	peer := net.JoinHostPort(ip, strconv.Itoa(port))
	size, err := i.download(ctx, peer, token, staged)
	if err != nil {
		return err
	}
	log.WithFields(logTags).WithField("peer", peer).WithField("bytes", size).Info("Downloaded vault dump")

	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind downloaded dump [%w]", err)
	}
	if err := i.vault.Restore(ctx, staged, password, ip); err != nil {
		return fmt.Errorf("failed to import vault from %s [%w]", peer, err)
	}
	return nil
}

// download stream the peer dump into a file
func (i *importerImpl) download(
	ctx context.Context, peer string, token string, output io.Writer,
) (int64, error) {
	resp, err := i.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetDoNotParseResponse(true).
		Get(fmt.Sprintf("http://%s%s", peer, DumpRoute))
	if err != nil {
		return 0, &TransferError{Err: err}
	}
	body := resp.RawBody()
	defer func() {
		_ = body.Close()
	}()

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusForbidden:
		return 0, fmt.Errorf("peer %s refused the password [%w]", peer, ErrIncorrectPassword)
	default:
		return 0, &TransferError{StatusCode: resp.StatusCode()}
	}

	written, err := io.CopyBuffer(output, body, make([]byte, ImportCopyBufferSize))
	if err != nil {
		return written, &TransferError{StatusCode: resp.StatusCode(), Err: err}
	}
	return written, nil
}
