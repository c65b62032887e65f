package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/attachment_transfer/internal/storage"
	"github.com/italolelis/attachment_transfer/internal/telemetry"
)

// InstrumentedTransferRepository wraps TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo      *TransferRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransferRepository creates a new instrumented transfer repository.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		repo:      NewTransferRepository(dbConn),
		telemetry: tel,
	}
}

// RecordTransfer stores a transfer outcome with telemetry.
func (r *InstrumentedTransferRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_transfer", func(ctx context.Context) error {
		return r.repo.RecordTransfer(ctx, rec)
	})
}

// GetTransfers retrieves transfer history with telemetry.
func (r *InstrumentedTransferRepository) GetTransfers(ctx context.Context, filter storage.HistoryFilter) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		result, err = r.repo.GetTransfers(ctx, filter)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetTransfer retrieves one transfer record with telemetry.
func (r *InstrumentedTransferRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	var result storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfer", func(ctx context.Context) error {
		result, err = r.repo.GetTransfer(ctx, id)

		return err
	})

	if instrumentedErr != nil {
		return storage.TransferRecord{}, instrumentedErr
	}

	return result, nil
}

// DeleteTransfersBefore purges old records with telemetry.
func (r *InstrumentedTransferRepository) DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "delete_transfers_before", func(ctx context.Context) error {
		deleted, err = r.repo.DeleteTransfersBefore(ctx, cutoff)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return deleted, nil
}
