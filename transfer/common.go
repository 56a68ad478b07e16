// Package transfer - move a whole vault between two instances on a local network
package transfer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/TemirkhanN/intrakill/encryption"
)

// DumpRoute the single route served by an exporter
const DumpRoute = "/dump"

var (
	// ErrIncorrectPassword the peer rejected the password
	ErrIncorrectPassword = encryption.ErrIncorrectPassword
	// ErrExporterEnabled the exporter is already serving
	ErrExporterEnabled = errors.New("exporter already enabled")
)

// TransferError a transfer failed with an unexpected response or a network error
type TransferError struct {
	// StatusCode HTTP status of the peer response, zero when no response arrived
	StatusCode int
	// Err the underlying failure, when there is one
	Err error
}

func (e *TransferError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transfer failed: %v", e.Err)
	}
	return fmt.Sprintf("transfer failed: peer responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ExporterStateENUMType exporter state ENUM
type ExporterStateENUMType string

const (
	// ExporterStateDisabled exporter is not serving
	ExporterStateDisabled ExporterStateENUMType = "DISABLED"
	// ExporterStateEnabled exporter is serving dumps
	ExporterStateEnabled ExporterStateENUMType = "ENABLED"
)

// exporterStateTransitions allowed exporter state transitions
var exporterStateTransitions = map[ExporterStateENUMType][]ExporterStateENUMType{
	ExporterStateDisabled: {ExporterStateEnabled},
	ExporterStateEnabled:  {ExporterStateDisabled},
}

// ValidateNextState whether the exporter can move from one state to another
func (s ExporterStateENUMType) ValidateNextState(next ExporterStateENUMType) bool {
	for _, allowed := range exporterStateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExportSignalENUMType export lifecycle signal ENUM
type ExportSignalENUMType string

const (
	// ExportSignalBegun an authenticated peer started receiving a dump
	ExportSignalBegun ExportSignalENUMType = "BEGUN"
	// ExportSignalEnd the dump was fully sent
	ExportSignalEnd ExportSignalENUMType = "END"
	// ExportSignalFailed the dump broke off
	ExportSignalFailed ExportSignalENUMType = "FAILED"
)

// ExportSignal one export lifecycle notification
type ExportSignal struct {
	// Type signal type
	Type ExportSignalENUMType
	// Peer remote address of the receiving peer
	Peer string
	// Bytes dump bytes sent, set on End and Failed
	Bytes int64
	// Err cause of a Failed signal
	Err error
}
