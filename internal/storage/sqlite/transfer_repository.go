package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/italolelis/attachment_transfer/internal/storage"
)

// TransferRepository implements storage.TransferRepository on SQLite.
type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{db: dbConn}
}

func (r *TransferRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (
			id, bucket, object_key, attribute, direction,
			expected_length, transferred_length, status,
			classification, error, client_id, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transferred_length = excluded.transferred_length,
			status = excluded.status,
			classification = excluded.classification,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		rec.ID, rec.Bucket, rec.Object, rec.Attribute, rec.Direction,
		rec.ExpectedLength, rec.TransferredLength, rec.Status,
		nullString(rec.Classification), nullString(rec.Error), rec.ClientID,
		formatTime(rec.CompletedAt),
	)

	return err
}

func (r *TransferRepository) GetTransfers(ctx context.Context, filter storage.HistoryFilter) ([]storage.TransferRecord, error) {
	query := `SELECT
			id, bucket, object_key, attribute, direction,
			expected_length, transferred_length, status,
			classification, error, client_id, completed_at
		FROM transfers`

	var (
		where []string
		args  []any
	)

	if filter.Bucket != "" {
		where = append(where, "bucket = ?")
		args = append(args, filter.Bucket)
	}

	if filter.Object != "" {
		where = append(where, "object_key = ?")
		args = append(args, filter.Object)
	}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY completed_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.TransferRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *TransferRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT
			id, bucket, object_key, attribute, direction,
			expected_length, transferred_length, status,
			classification, error, client_id, completed_at
		FROM transfers WHERE id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TransferRecord{}, storage.ErrNotFound
	}

	return record, err
}

// DeleteTransfersBefore removes records completed before cutoff and returns how many were removed.
func (r *TransferRepository) DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transfers WHERE completed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.TransferRecord, error) {
	var (
		record         storage.TransferRecord
		classification sql.NullString
		errMsg         sql.NullString
		clientID       sql.NullString
		completedAt    string
	)

	err := s.Scan(
		&record.ID, &record.Bucket, &record.Object, &record.Attribute, &record.Direction,
		&record.ExpectedLength, &record.TransferredLength, &record.Status,
		&classification, &errMsg, &clientID, &completedAt,
	)
	if err != nil {
		return storage.TransferRecord{}, err
	}

	record.Classification = classification.String
	record.Error = errMsg.String
	record.ClientID = clientID.String

	record.CompletedAt, err = time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return storage.TransferRecord{}, err
	}

	return record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
