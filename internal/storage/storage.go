package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no history record matches.
var ErrNotFound = errors.New("transfer record not found")

// TransferRecord is the persisted outcome of one finished transfer.
type TransferRecord struct {
	ID                string    `json:"id"`
	Bucket            string    `json:"bucket"`
	Object            string    `json:"object"`
	Attribute         string    `json:"attribute"`
	Direction         string    `json:"direction"`
	ExpectedLength    int64     `json:"expected_length"`
	TransferredLength int64     `json:"transferred_length"`
	Status            string    `json:"status"`
	Classification    string    `json:"classification,omitempty"`
	Error             string    `json:"error,omitempty"`
	ClientID          string    `json:"client_id"`
	CompletedAt       time.Time `json:"completed_at"`
}

// HistoryFilter narrows a history query. Zero values match everything.
type HistoryFilter struct {
	Bucket string
	Object string
	Status string
	Limit  int
}

type TransferReadRepository interface {
	GetTransfers(ctx context.Context, filter HistoryFilter) ([]TransferRecord, error)
	GetTransfer(ctx context.Context, id string) (TransferRecord, error)
}

type TransferWriteRepository interface {
	RecordTransfer(ctx context.Context, rec TransferRecord) error
	DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}
