package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/italolelis/attachment_transfer/internal/transfer"
)

// Memory keeps committed blobs in memory.
type Memory struct {
	mu    sync.RWMutex
	blobs map[transfer.Attachment][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[transfer.Attachment][]byte)}
}

func (m *Memory) Create(_ context.Context, a transfer.Attachment) (transfer.BlobWriter, error) {
	if _, err := segments(a); err != nil {
		return nil, err
	}

	return &memoryBlob{store: m, attachment: a}, nil
}

func (m *Memory) Open(_ context.Context, a transfer.Attachment) (io.ReadCloser, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[a]
	if !ok {
		return nil, 0, ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type memoryBlob struct {
	store      *Memory
	attachment transfer.Attachment
	buf        bytes.Buffer
}

func (b *memoryBlob) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

func (b *memoryBlob) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	b.store.blobs[b.attachment] = bytes.Clone(b.buf.Bytes())

	return nil
}

func (b *memoryBlob) Abort() error {
	b.buf.Reset()

	return nil
}
