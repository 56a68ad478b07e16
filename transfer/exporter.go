package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/TemirkhanN/intrakill/encryption"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

// Exporter serves the vault dump to peers proving knowledge of the vault password
type Exporter interface {
	/*
		Start unlock the vault with the password and begin serving dumps on a port

			@param ctx context.Context - execution context
			@param password string - vault password
			@param port int - TCP port, zero picks a free one
			@param onSignal func(ExportSignal) - export lifecycle callback, may be nil
	*/
	Start(ctx context.Context, password string, port int, onSignal func(ExportSignal)) error

	/*
		Stop stop serving. Stopping a stopped exporter does nothing.

			@param ctx context.Context - execution context
	*/
	Stop(ctx context.Context) error

	// State current exporter state
	State() ExporterStateENUMType

	// Addr the address being served, empty when disabled
	Addr() string
}

// ExporterParams exporter init parameters
type ExporterParams struct {
	// GracePeriod how long in-flight dumps get to finish on stop
	GracePeriod time.Duration `validate:"gte=0"`
	// ShutdownTimeout how long to wait for the server to wind down after the grace period
	ShutdownTimeout time.Duration `validate:"gt=0"`
	// AuthAttemptsPerSecond sustained rate of dump requests accepted
	AuthAttemptsPerSecond float64 `validate:"gt=0"`
	// AuthAttemptBurst dump requests accepted in a burst
	AuthAttemptBurst int `validate:"gte=1"`
}

// exporterImpl implements Exporter
type exporterImpl struct {
	goutils.Component

	vault       store.MediaVault
	credentials encryption.CredentialEngine
	params      ExporterParams

	lock     *sync.Mutex
	state    ExporterStateENUMType
	password string
	onSignal func(ExportSignal)
	server   *http.Server
	addr     string
	served   chan struct{}

	limiter  *rate.Limiter
	dumpLock *sync.Mutex
}

/*
NewExporter define new vault exporter. The exporter starts disabled.

	@param vault store.MediaVault - the vault to export
	@param credentials encryption.CredentialEngine - transfer token checks
	@param params ExporterParams - exporter parameters
	@returns exporter instance
*/
func NewExporter(
	vault store.MediaVault, credentials encryption.CredentialEngine, params ExporterParams,
) (Exporter, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid exporter init parameters [%w]", err)
	}

	logTags := log.Fields{"package": "intrakill", "module": "transfer", "component": "exporter"}

	return &exporterImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		vault:       vault,
		credentials: credentials,
		params:      params,
		lock:        &sync.Mutex{},
		state:       ExporterStateDisabled,
		limiter:     rate.NewLimiter(rate.Limit(params.AuthAttemptsPerSecond), params.AuthAttemptBurst),
		dumpLock:    &sync.Mutex{},
	}, nil
}

func (e *exporterImpl) State() ExporterStateENUMType {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.state
}

func (e *exporterImpl) Addr() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.addr
}

/*
Start unlock the vault with the password and begin serving dumps on a port

	@param ctx context.Context - execution context
	@param password string - vault password
	@param port int - TCP port, zero picks a free one
	@param onSignal func(ExportSignal) - export lifecycle callback, may be nil
*/
func (e *exporterImpl) Start(
	ctx context.Context, password string, port int, onSignal func(ExportSignal),
) error {
	logTags := e.GetLogTagsForContext(ctx)

	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.state.ValidateNextState(ExporterStateEnabled) {
		return ErrExporterEnabled
	}

	if err := e.vault.Open(ctx, password); err != nil {
		return fmt.Errorf("%s [%w]", err.Error(), ErrIncorrectPassword)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d [%w]", port, err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Peers connect directly; forwarding headers are not trusted
	if err := router.SetTrustedProxies(nil); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to configure trusted proxies [%w]", err)
	}
	// GET /dump	-> Streams the full vault dump
	router.GET(DumpRoute, e.serveDump)

	e.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	e.addr = listener.Addr().String()
	e.password = password
	e.onSignal = onSignal
	e.served = make(chan struct{})

	go func(server *http.Server, served chan struct{}) {
		defer close(served)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithFields(logTags).Error("Export server failed")
		}
	}(e.server, e.served)

	e.state = ExporterStateEnabled
	log.WithFields(logTags).WithField("addr", e.addr).Info("Exporter enabled")
	return nil
}

/*
Stop stop serving. In-flight dumps get the grace period to finish before their
connections are closed. Stopping a stopped exporter does nothing.

	@param ctx context.Context - execution context
*/
func (e *exporterImpl) Stop(ctx context.Context) error {
	logTags := e.GetLogTagsForContext(ctx)

	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.state.ValidateNextState(ExporterStateDisabled) {
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, e.params.GracePeriod)
	defer cancel()
	if err := e.server.Shutdown(graceCtx); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Grace period over, closing remaining connections")
		if err := e.server.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to close export server")
		}
	}

	var stopErr error
	select {
	case <-e.served:
	case <-time.After(e.params.ShutdownTimeout):
		stopErr = fmt.Errorf("export server did not stop within %s", e.params.ShutdownTimeout)
	}

	e.server = nil
	e.addr = ""
	e.password = ""
	e.onSignal = nil
	e.state = ExporterStateDisabled
	log.WithFields(logTags).Info("Exporter disabled")
	return stopErr
}

// emit deliver an export signal
func (e *exporterImpl) emit(onSignal func(ExportSignal), signal ExportSignal) {
	if onSignal != nil {
		onSignal(signal)
	}
}

// serveDump GET /dump handler
func (e *exporterImpl) serveDump(c *gin.Context) {
	ctx := c.Request.Context()
	logTags := e.GetLogTagsForContext(ctx)
	peer := c.ClientIP()

	if !e.limiter.Allow() {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	e.lock.Lock()
	password := e.password
	onSignal := e.onSignal
	e.lock.Unlock()

	if err := e.credentials.VerifyTransferToken(ctx, password, c.GetHeader("Authorization")); err != nil {
		log.WithError(err).WithFields(logTags).WithField("peer", peer).Warn("Dump request refused")
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	if !e.dumpLock.TryLock() {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	defer e.dumpLock.Unlock()

	e.emit(onSignal, ExportSignal{Type: ExportSignalBegun, Peer: peer})

	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	written, err := e.vault.Dump(ctx, c.Writer, peer)
	if err != nil {
		log.WithError(err).WithFields(logTags).WithField("peer", peer).Error("Dump failed")
		if !c.Writer.Written() {
			c.AbortWithStatus(http.StatusInternalServerError)
		}
		e.emit(onSignal, ExportSignal{Type: ExportSignalFailed, Peer: peer, Bytes: written, Err: err})
		return
	}

	e.emit(onSignal, ExportSignal{Type: ExportSignalEnd, Peer: peer, Bytes: written})
}
