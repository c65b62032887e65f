package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/transfer"
)

const dirPerm = 0755

// FS stores blobs as files under <root>/<bucket>/<object>/<attribute>.
// A blob becomes visible only once it is committed.
type FS struct {
	root string
}

func NewFS(root string) *FS {
	return &FS{root: root}
}

func (s *FS) path(a transfer.Attachment) (string, error) {
	parts, err := segments(a)
	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{s.root}, parts...)...), nil
}

// Create opens a temporary file next to the target path.
func (s *FS) Create(ctx context.Context, a transfer.Attachment) (transfer.BlobWriter, error) {
	logger := logctx.LoggerFromContext(ctx).With("attachment", a.String())

	target, err := s.path(a)
	if err != nil {
		return nil, err
	}

	if err := ensureTargetDir(target, logger); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &fileBlob{file: tmp, target: target, logger: logger}, nil
}

// Open returns the committed blob and its size.
func (s *FS) Open(_ context.Context, a transfer.Attachment) (io.ReadCloser, int64, error) {
	target, err := s.path(a)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, ErrNotFound
	}

	if err != nil {
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}

	return f, info.Size(), nil
}

func ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}

type fileBlob struct {
	file    *os.File
	target  string
	written int64
	logger  *slog.Logger
}

func (b *fileBlob) Write(p []byte) (int, error) {
	n, err := b.file.Write(p)
	b.written += int64(n)

	return n, err
}

// Commit syncs the temporary file and renames it over the target.
func (b *fileBlob) Commit() error {
	if err := b.file.Sync(); err != nil {
		_ = b.discard()

		return fmt.Errorf("failed to sync blob: %w", err)
	}

	if err := b.file.Close(); err != nil {
		_ = os.Remove(b.file.Name())

		return fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(b.file.Name(), b.target); err != nil {
		_ = os.Remove(b.file.Name())

		return fmt.Errorf("failed to move blob into place: %w", err)
	}

	b.logger.Info("blob saved", "target", b.target, "size", humanize.Bytes(uint64(b.written)))

	return nil
}

// Abort removes the temporary file. The previous blob, if any, is left untouched.
func (b *fileBlob) Abort() error {
	return b.discard()
}

func (b *fileBlob) discard() error {
	_ = b.file.Close()

	if err := os.Remove(b.file.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove partial blob: %w", err)
	}

	return nil
}
