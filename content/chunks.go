package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxChunkSize the largest slice of content stored in a single chunk row
const MaxChunkSize = 1024 * 1024

// ErrContentMissing an attachment has no stored chunks at all
var ErrContentMissing = errors.New("content missing")

// ChunkSink persist one chunk of content
type ChunkSink func(sequence int, data []byte) error

/*
WriteChunks split a stream into sequential chunks, passing each to the sink as soon as
it is read. At most one chunk is held in memory.

	@param reader io.Reader - the content stream
	@param chunkSize int - max chunk size; MaxChunkSize when not positive
	@param sink ChunkSink - chunk persistence callback
	@returns total number of bytes written
*/
func WriteChunks(reader io.Reader, chunkSize int, sink ChunkSink) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = MaxChunkSize
	}

	buffer := make([]byte, chunkSize)
	var total int64
	for sequence := 0; ; sequence++ {
		n, err := io.ReadFull(reader, buffer)
		if n > 0 {
			// The sink may keep the slice, so hand it a copy
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			if sinkErr := sink(sequence, chunk); sinkErr != nil {
				return total, fmt.Errorf("failed to store chunk %d [%w]", sequence, sinkErr)
			}
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("failed to read chunk %d [%w]", sequence, err)
		}
	}
}

/*
ChunkFetcher fetch the first stored chunk with a sequence number greater than `after`.
Returns io.EOF when no such chunk exists.
*/
type ChunkFetcher func(ctx context.Context, after int) (sequence int, data []byte, err error)

// chunkReader lazily concatenates the chunks of one attachment
type chunkReader struct {
	ctx          context.Context
	attachmentID string
	fetch        ChunkFetcher
	lastSequence int
	pending      []byte
	started      bool
	exhausted    bool
	closed       bool
	// err a failed read repeats on every later read
	err error
}

/*
NewChunkReader define a reader which pulls chunks in ascending sequence order on demand.

The reader must be closed by the caller; reads after Close fail.

	@param ctx context.Context - execution context for the chunk queries
	@param attachmentID string - the attachment whose content is read
	@param fetch ChunkFetcher - chunk query
	@returns the content reader
*/
func NewChunkReader(ctx context.Context, attachmentID string, fetch ChunkFetcher) io.ReadCloser {
	return &chunkReader{ctx: ctx, attachmentID: attachmentID, fetch: fetch, lastSequence: -1}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	if r.err != nil {
		return 0, r.err
	}
	for len(r.pending) == 0 {
		if r.exhausted {
			return 0, io.EOF
		}
		sequence, data, err := r.fetch(r.ctx, r.lastSequence)
		if err == io.EOF {
			r.exhausted = true
			if !r.started {
				r.err = fmt.Errorf(
					"attachment %s has no stored chunks [%w]", r.attachmentID, ErrContentMissing,
				)
				return 0, r.err
			}
			return 0, io.EOF
		}
		if err != nil {
			r.err = fmt.Errorf(
				"failed to read chunk after %d of attachment %s [%w]", r.lastSequence, r.attachmentID, err,
			)
			return 0, r.err
		}
		r.started = true
		r.lastSequence = sequence
		r.pending = data
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	r.pending = nil
	r.fetch = nil
	return nil
}
