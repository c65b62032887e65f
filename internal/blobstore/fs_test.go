package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/attachment_transfer/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var photo = transfer.Attachment{Bucket: "notes", Object: "42", Attribute: "photo"}

func TestFS_CommitMakesBlobVisible(t *testing.T) {
	root := t.TempDir()
	store := NewFS(root)
	ctx := context.Background()

	w, err := store.Create(ctx, photo)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	_, _, err = store.Open(ctx, photo)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Commit())

	body, size, err := store.Open(ctx, photo)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, int64(11), size)

	entries, err := os.ReadDir(filepath.Join(root, "notes", "42"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "photo", entries[0].Name())
}

func TestFS_AbortKeepsPreviousBlob(t *testing.T) {
	root := t.TempDir()
	store := NewFS(root)
	ctx := context.Background()

	w, err := store.Create(ctx, photo)
	require.NoError(t, err)
	_, _ = w.Write([]byte("v1"))
	require.NoError(t, w.Commit())

	w, err = store.Create(ctx, photo)
	require.NoError(t, err)
	_, _ = w.Write([]byte("partial"))
	require.NoError(t, w.Abort())

	body, _, err := store.Open(ctx, photo)
	require.NoError(t, err)
	defer body.Close()

	data, _ := io.ReadAll(body)
	assert.Equal(t, "v1", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "notes", "42"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFS_RejectsEscapingSegments(t *testing.T) {
	store := NewFS(t.TempDir())

	tests := []transfer.Attachment{
		{Bucket: "..", Object: "42", Attribute: "photo"},
		{Bucket: "notes", Object: "a/b", Attribute: "photo"},
		{Bucket: "notes", Object: "42", Attribute: ""},
		{Bucket: "/etc", Object: "42", Attribute: "photo"},
	}

	for _, a := range tests {
		t.Run(a.String(), func(t *testing.T) {
			_, err := store.Create(context.Background(), a)
			assert.ErrorIs(t, err, ErrInvalidPath)

			_, _, err = store.Open(context.Background(), a)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestMemory_CommitAndAbort(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	w, err := store.Create(ctx, photo)
	require.NoError(t, err)
	_, _ = w.Write([]byte("abc"))
	require.NoError(t, w.Abort())

	_, _, err = store.Open(ctx, photo)
	require.ErrorIs(t, err, ErrNotFound)

	w, err = store.Create(ctx, photo)
	require.NoError(t, err)
	_, _ = w.Write([]byte("abc"))
	require.NoError(t, w.Commit())

	body, size, err := store.Open(ctx, photo)
	require.NoError(t, err)

	data, _ := io.ReadAll(body)
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, int64(3), size)
}
