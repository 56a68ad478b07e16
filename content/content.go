// Package content - re-readable binary payloads and their streaming helpers
package content

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// HashBufferSize read buffer size used when streaming content through a digest
const HashBufferSize = 64 * 1024

// Source is a source of bytes which can be read more than once.
//
// Every call to Open must resolve a new underlying stream; the caller is
// responsible for closing what it opens.
type Source interface {
	// Open resolve a fresh reader over the full content
	Open() (io.ReadCloser, error)
}

// SourceFunc adapts a function into a Source
type SourceFunc func() (io.ReadCloser, error)

// Open calls f()
func (f SourceFunc) Open() (io.ReadCloser, error) {
	return f()
}

/*
FromBytes define a Source over an in-memory byte slice

	@param data []byte - the content
	@returns content source
*/
func FromBytes(data []byte) Source {
	return SourceFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

/*
FromFile define a Source which opens a file on every read

	@param path string - file path
	@returns content source
*/
func FromFile(path string) Source {
	return SourceFunc(func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

/*
ComputeHash compute the SHA-256 digest of the content by streaming it once

	@param src Source - the content
	@returns the 32 byte digest
*/
func ComputeHash(src Source) ([]byte, error) {
	reader, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open content for hashing [%w]", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	digest := sha256.New()
	buffer := make([]byte, HashBufferSize)
	if _, err := io.CopyBuffer(digest, onlyReader{reader}, buffer); err != nil {
		return nil, fmt.Errorf("failed to hash content [%w]", err)
	}

	return digest.Sum(nil), nil
}

/*
ComputeSize count the content length by streaming it once

	@param src Source - the content
	@returns number of bytes
*/
func ComputeSize(src Source) (int64, error) {
	reader, err := src.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open content for sizing [%w]", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	var total int64
	buffer := make([]byte, HashBufferSize)
	for {
		n, err := reader.Read(buffer)
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to size content [%w]", err)
		}
	}
}

/*
ReadAll materialize the full content in memory. Only meant for content known to be small.

	@param src Source - the content
	@returns content bytes
*/
func ReadAll(src Source) ([]byte, error) {
	reader, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open content [%w]", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	return io.ReadAll(reader)
}

// onlyReader hides any WriterTo so io.CopyBuffer honours the bounded buffer
type onlyReader struct {
	io.Reader
}
