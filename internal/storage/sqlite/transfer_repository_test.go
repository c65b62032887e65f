package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/attachment_transfer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *InstrumentedTransferRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "transfers.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	// nil telemetry leaves the repository uninstrumented
	return NewInstrumentedTransferRepository(db, nil)
}

func record(id, object, status string, completedAt time.Time) storage.TransferRecord {
	return storage.TransferRecord{
		ID:                id,
		Bucket:            "notes",
		Object:            object,
		Attribute:         "photo",
		Direction:         "upload",
		ExpectedLength:    2048,
		TransferredLength: 2048,
		Status:            status,
		ClientID:          "client-1",
		CompletedAt:       completedAt,
	}
}

func TestTransferRepository_RecordAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	failed := record("t1", "42", "failed", now)
	failed.Classification = "transient"
	failed.Error = "connection reset"

	require.NoError(t, repo.RecordTransfer(ctx, failed))

	got, err := repo.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, failed, got)

	_, err = repo.GetTransfer(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransferRepository_RecordIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.RecordTransfer(ctx, record("t1", "42", "failed", now)))
	require.NoError(t, repo.RecordTransfer(ctx, record("t1", "42", "succeeded", now)))

	all, err := repo.GetTransfers(ctx, storage.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "succeeded", all[0].Status)
	assert.Empty(t, all[0].Error)
}

func TestTransferRepository_GetTransfersFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.RecordTransfer(ctx, record("t1", "42", "succeeded", now.Add(-2*time.Minute))))
	require.NoError(t, repo.RecordTransfer(ctx, record("t2", "42", "failed", now.Add(-time.Minute))))
	require.NoError(t, repo.RecordTransfer(ctx, record("t3", "43", "succeeded", now)))

	tests := []struct {
		name    string
		filter  storage.HistoryFilter
		wantIDs []string
	}{
		{name: "everything newest first", filter: storage.HistoryFilter{}, wantIDs: []string{"t3", "t2", "t1"}},
		{name: "by object", filter: storage.HistoryFilter{Object: "42"}, wantIDs: []string{"t2", "t1"}},
		{name: "by status", filter: storage.HistoryFilter{Status: "succeeded"}, wantIDs: []string{"t3", "t1"}},
		{name: "by bucket with limit", filter: storage.HistoryFilter{Bucket: "notes", Limit: 1}, wantIDs: []string{"t3"}},
		{name: "no match", filter: storage.HistoryFilter{Bucket: "tasks"}, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := repo.GetTransfers(ctx, tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, r := range records {
				ids = append(ids, r.ID)
			}

			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestTransferRepository_DeleteTransfersBefore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.RecordTransfer(ctx, record("old", "1", "succeeded", now.Add(-48*time.Hour))))
	require.NoError(t, repo.RecordTransfer(ctx, record("new", "2", "succeeded", now)))

	deleted, err := repo.DeleteTransfersBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetTransfer(ctx, "old")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.GetTransfer(ctx, "new")
	require.NoError(t, err)
}
