// Package memory keeps attachments in process memory. It backs local development
// and tests, and can pace reads and inject failures.
package memory

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/transfer"
)

const defaultChunkSize = 32 * 1024

type Option func(*Store)

// WithChunkSize caps the bytes handed out by a single read of a received stream.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithUnknownLength makes Receive report -1 as the attachment length.
func WithUnknownLength() Option {
	return func(s *Store) {
		s.hideLength = true
	}
}

// Store is an in-memory transfer.Transport.
type Store struct {
	chunkSize  int
	hideLength bool

	mu      sync.RWMutex
	objects map[transfer.Attachment][]byte
	faults  map[transfer.Attachment]error
}

func New(opts ...Option) *Store {
	s := &Store{
		chunkSize: defaultChunkSize,
		objects:   make(map[transfer.Attachment][]byte),
		faults:    make(map[transfer.Attachment]error),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Put stores data for an attachment without going through a transfer.
func (s *Store) Put(a transfer.Attachment, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[a] = bytes.Clone(data)
}

// Get returns a copy of the stored attachment.
func (s *Store) Get(a transfer.Attachment) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[a]

	return bytes.Clone(data), ok
}

// Fail makes the next Send or Receive for the attachment return err.
func (s *Store) Fail(a transfer.Attachment, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults[a] = err
}

func (s *Store) takeFault(a transfer.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err, ok := s.faults[a]
	if ok {
		delete(s.faults, a)
	}

	return err
}

func (s *Store) Send(ctx context.Context, a transfer.Attachment, body io.Reader, size int64) error {
	logger := logctx.LoggerFromContext(ctx).With("attachment", a.String())

	if err := s.takeFault(a); err != nil {
		return err
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}

	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}

	s.Put(a, buf.Bytes())

	logger.DebugContext(ctx, "attachment stored in memory", "size", buf.Len())

	return nil
}

func (s *Store) Receive(ctx context.Context, a transfer.Attachment) (io.ReadCloser, int64, error) {
	if err := s.takeFault(a); err != nil {
		return nil, 0, err
	}

	data, ok := s.Get(a)
	if !ok {
		return nil, 0, &transfer.TransportError{
			Operation:  "receive",
			Kind:       transfer.Permanent,
			StatusCode: http.StatusNotFound,
			Message:    "attachment not found",
		}
	}

	length := int64(len(data))
	if s.hideLength {
		length = -1
	}

	return io.NopCloser(&chunkReader{r: bytes.NewReader(data), size: s.chunkSize}), length, nil
}

type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}

	return c.r.Read(p)
}
