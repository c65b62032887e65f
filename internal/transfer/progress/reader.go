package progress

import (
	"context"
	"io"
)

// DefaultChunkSize bounds a single read when no chunk size is configured.
const DefaultChunkSize = 32 * 1024

// Reader wraps an io.Reader, splitting it into chunks and reporting each chunk
// as an increment. The context is checked at every chunk boundary.
type Reader struct {
	ctx       context.Context
	reader    io.Reader
	chunkSize int
	onChunk   func(increment int64)
}

func NewReader(ctx context.Context, r io.Reader, chunkSize int, onChunk func(increment int64)) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Reader{
		ctx:       ctx,
		reader:    r,
		chunkSize: chunkSize,
		onChunk:   onChunk,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	if len(p) > pr.chunkSize {
		p = p[:pr.chunkSize]
	}

	n, err := pr.reader.Read(p)
	if n > 0 && pr.onChunk != nil {
		pr.onChunk(int64(n))
	}

	return n, err
}
