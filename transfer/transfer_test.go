package transfer_test

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/TemirkhanN/intrakill/content"
	"github.com/TemirkhanN/intrakill/db"
	"github.com/TemirkhanN/intrakill/encryption"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/TemirkhanN/intrakill/transfer"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"
)

func newTestVault(t *testing.T) store.MediaVault {
	return newTestVaultIn(t, t.TempDir())
}

func newTestVaultIn(t *testing.T, tempDir string) store.MediaVault {
	testDB := fmt.Sprintf("/tmp/intrakill_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := store.NewMediaVault(store.MediaVaultParams{
		DBFile: testDB, TempDir: tempDir, SQLLogLevel: logger.Error,
	})
	assert.Nil(t, err)
	return uut
}

// dirEntries names of the files left in a directory
func dirEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	assert.Nil(t, err)
	names := []string{}
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// signalRecorder collects export signals from the serving goroutines
type signalRecorder struct {
	lock    sync.Mutex
	signals []transfer.ExportSignalENUMType
	peers   []string
}

func (r *signalRecorder) record(signal transfer.ExportSignal) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.signals = append(r.signals, signal.Type)
	r.peers = append(r.peers, signal.Peer)
}

func (r *signalRecorder) getPeers() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string{}, r.peers...)
}

func (r *signalRecorder) get() []transfer.ExportSignalENUMType {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]transfer.ExportSignalENUMType{}, r.signals...)
}

func TestVaultTransfer(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	credentials, err := encryption.NewCredentialEngine(
		utCtx, encryption.CredentialEngineParams{BcryptCost: bcrypt.MinCost},
	)
	assert.Nil(err)

	// Source vault
	source := newTestVault(t)
	assert.Nil(source.Open(utCtx, "correct-horse"))
	payload := make([]byte, 2*content.MaxChunkSize+3)
	_, err = rand.Read(payload)
	assert.Nil(err)
	attachment, err := models.NewAttachment(
		"video/mp4", content.FromBytes(payload), []byte("thumb"), int64(len(payload)),
	)
	assert.Nil(err)
	saved, err := source.Save(utCtx, models.NewEntry(
		"clip.mp4", nil, []string{"holiday"}, []models.Attachment{attachment},
	))
	assert.Nil(err)

	exporter, err := transfer.NewExporter(source, credentials, transfer.ExporterParams{
		GracePeriod:           time.Second,
		ShutdownTimeout:       time.Second * 5,
		AuthAttemptsPerSecond: 100,
		AuthAttemptBurst:      100,
	})
	assert.Nil(err)
	assert.Equal(transfer.ExporterStateDisabled, exporter.State())

	recorder := &signalRecorder{}

	// Case 0: wrong password
	err = exporter.Start(utCtx, "wrong-horse", 0, recorder.record)
	assert.True(errors.Is(err, transfer.ErrIncorrectPassword))
	assert.Equal(transfer.ExporterStateDisabled, exporter.State())

	// Case 1: start
	assert.Nil(exporter.Start(utCtx, "correct-horse", 0, recorder.record))
	assert.Equal(transfer.ExporterStateEnabled, exporter.State())
	err = exporter.Start(utCtx, "correct-horse", 0, recorder.record)
	assert.True(errors.Is(err, transfer.ErrExporterEnabled))

	_, portStr, err := net.SplitHostPort(exporter.Addr())
	assert.Nil(err)
	port, err := strconv.Atoi(portStr)
	assert.Nil(err)

	// Case 2: request without a token
	{
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, transfer.DumpRoute))
		assert.Nil(err)
		body, err := io.ReadAll(resp.Body)
		assert.Nil(err)
		assert.Nil(resp.Body.Close())
		assert.Equal(http.StatusForbidden, resp.StatusCode)
		assert.Empty(body)
	}

	// Target vault
	target := newTestVault(t)
	assert.Nil(target.Open(utCtx, "target-pass"))
	defer func() {
		assert.Nil(target.Close())
	}()
	importDir := t.TempDir()
	importer, err := transfer.NewImporter(target, credentials, transfer.ImporterParams{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Minute,
		TempDir:        importDir,
	})
	assert.Nil(err)

	// Case 3: invalid target
	{
		err := importer.ImportDatabase(utCtx, "10.0.0.1", port, "abc")
		var violations *models.ViolationError
		assert.True(errors.As(err, &violations))
		assert.Equal(
			[]string{models.MsgInvalidImportIP, models.MsgPasswordTooShort}, violations.Violations,
		)
	}

	// Case 4: wrong password
	{
		err := importer.ImportDatabase(utCtx, "127.0.0.1", port, "wrong-horse")
		assert.True(errors.Is(err, transfer.ErrIncorrectPassword))
		assert.Empty(recorder.get())
		assert.Empty(dirEntries(t, importDir))
		count, err := target.CountEntries(utCtx, store.EntryFilter{})
		assert.Nil(err)
		assert.Equal(int64(0), count)
	}

	// Case 5: import
	assert.Nil(importer.ImportDatabase(utCtx, "127.0.0.1", port, "correct-horse"))
	assert.Eventually(func() bool {
		return len(recorder.get()) == 2
	}, time.Second*5, time.Millisecond*50)
	assert.Equal(
		[]transfer.ExportSignalENUMType{transfer.ExportSignalBegun, transfer.ExportSignalEnd},
		recorder.get(),
	)
	assert.Empty(dirEntries(t, importDir))

	imported, err := target.GetByID(utCtx, saved.ID)
	assert.Nil(err)
	imported, err = target.LoadDetails(utCtx, imported)
	assert.Nil(err)
	assert.Equal([]string{"holiday"}, imported.Tags)
	assert.Len(imported.Attachments, 1)
	stored, err := content.ReadAll(imported.Attachments[0].Content)
	assert.Nil(err)
	assert.Equal(payload, stored)

	// Target now answers to the imported password
	assert.Nil(target.Close())
	assert.NotNil(target.Open(utCtx, "target-pass"))
	assert.Nil(target.Open(utCtx, "correct-horse"))

	// Case 6: stop
	assert.Nil(exporter.Stop(utCtx))
	assert.Nil(exporter.Stop(utCtx))
	assert.Equal(transfer.ExporterStateDisabled, exporter.State())
	assert.Empty(exporter.Addr())
	{
		err := importer.ImportDatabase(utCtx, "127.0.0.1", port, "correct-horse")
		var transferErr *transfer.TransferError
		assert.True(errors.As(err, &transferErr))
		assert.Equal(0, transferErr.StatusCode)
		assert.Empty(dirEntries(t, importDir))
	}

	assert.Nil(source.Close())
}

func TestExporterRateLimit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	credentials, err := encryption.NewCredentialEngine(
		utCtx, encryption.CredentialEngineParams{BcryptCost: bcrypt.MinCost},
	)
	assert.Nil(err)

	source := newTestVault(t)
	defer func() {
		assert.Nil(source.Close())
	}()

	exporter, err := transfer.NewExporter(source, credentials, transfer.ExporterParams{
		GracePeriod:           time.Millisecond * 100,
		ShutdownTimeout:       time.Second,
		AuthAttemptsPerSecond: 0.001,
		AuthAttemptBurst:      1,
	})
	assert.Nil(err)
	assert.Nil(exporter.Start(utCtx, "correct-horse", 0, nil))
	defer func() {
		assert.Nil(exporter.Stop(utCtx))
	}()

	_, portStr, err := net.SplitHostPort(exporter.Addr())
	assert.Nil(err)
	url := fmt.Sprintf("http://127.0.0.1:%s%s", portStr, transfer.DumpRoute)

	statuses := []int{}
	for itr := 0; itr < 2; itr++ {
		resp, err := http.Get(url)
		assert.Nil(err)
		assert.Nil(resp.Body.Close())
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal([]int{http.StatusForbidden, http.StatusTooManyRequests}, statuses)
}

func TestExporterDumpBrokenOff(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	credentials, err := encryption.NewCredentialEngine(
		utCtx, encryption.CredentialEngineParams{BcryptCost: bcrypt.MinCost},
	)
	assert.Nil(err)

	// The dump must be far larger than the socket buffers
	dumpDir := t.TempDir()
	source := newTestVaultIn(t, dumpDir)
	assert.Nil(source.Open(utCtx, "correct-horse"))
	defer func() {
		assert.Nil(source.Close())
	}()
	payload := make([]byte, 12*content.MaxChunkSize)
	_, err = rand.Read(payload)
	assert.Nil(err)
	attachment, err := models.NewAttachment(
		"video/mp4", content.FromBytes(payload), nil, int64(len(payload)),
	)
	assert.Nil(err)
	_, err = source.Save(utCtx, models.NewEntry(
		"long.mp4", nil, []string{"holiday"}, []models.Attachment{attachment},
	))
	assert.Nil(err)

	exporter, err := transfer.NewExporter(source, credentials, transfer.ExporterParams{
		GracePeriod:           time.Second,
		ShutdownTimeout:       time.Second * 5,
		AuthAttemptsPerSecond: 100,
		AuthAttemptBurst:      100,
	})
	assert.Nil(err)
	recorder := &signalRecorder{}
	assert.Nil(exporter.Start(utCtx, "correct-horse", 0, recorder.record))
	defer func() {
		assert.Nil(exporter.Stop(utCtx))
	}()
	_, portStr, err := net.SplitHostPort(exporter.Addr())
	assert.Nil(err)

	token, err := credentials.TransferToken(utCtx, "correct-horse")
	assert.Nil(err)

	// Read the start of the dump, then hang up
	{
		req, err := http.NewRequest(
			http.MethodGet, fmt.Sprintf("http://127.0.0.1:%s%s", portStr, transfer.DumpRoute), nil,
		)
		assert.Nil(err)
		req.Header.Set("Authorization", token)
		req.Header.Set("X-Forwarded-For", "10.66.66.66")
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := client.Do(req)
		assert.Nil(err)
		assert.Equal(http.StatusOK, resp.StatusCode)
		_, err = io.ReadFull(resp.Body, make([]byte, 1024))
		assert.Nil(err)
		assert.Nil(resp.Body.Close())
	}

	assert.Eventually(func() bool {
		return len(recorder.get()) == 2
	}, time.Second*10, time.Millisecond*50)
	assert.Equal(
		[]transfer.ExportSignalENUMType{transfer.ExportSignalBegun, transfer.ExportSignalFailed},
		recorder.get(),
	)

	// The recorded peer is the connecting address, not the forwarding header
	assert.Equal([]string{"127.0.0.1", "127.0.0.1"}, recorder.getPeers())

	// The staged plaintext dump is gone
	assert.Empty(dirEntries(t, dumpDir))

	// A broken off dump is not logged as an export
	events, err := source.ListEvents(utCtx, db.VaultEventQueryFilter{
		EventTypes: []models.VaultEventTypeENUMType{models.VaultEventTypeExported},
	})
	assert.Nil(err)
	assert.Empty(events)
}
