// Package history records the outcome of finished transfers.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/italolelis/attachment_transfer/internal/storage"
	"github.com/italolelis/attachment_transfer/internal/transfer"
)

const writeTimeout = 5 * time.Second

// Observer writes successful and failed transfers to a repository.
// Cancelled transfers produce no event and are not recorded.
type Observer struct {
	transfer.NopObserver

	repo   storage.TransferWriteRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewObserver(repo storage.TransferWriteRepository, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Observer{repo: repo, logger: logger, now: time.Now}
}

func (o *Observer) UploadSuccessful(info transfer.Info)   { o.record(info, nil) }
func (o *Observer) DownloadSuccessful(info transfer.Info) { o.record(info, nil) }

func (o *Observer) UploadFailed(info transfer.Info, err error) {
	o.record(info, err)
}

func (o *Observer) DownloadFailed(info transfer.Info, err error) {
	o.record(info, err)
}

func (o *Observer) record(info transfer.Info, failure error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	rec := FromInfo(info, failure)
	rec.CompletedAt = o.now()

	if err := o.repo.RecordTransfer(ctx, rec); err != nil {
		o.logger.Error("failed to record transfer outcome", "transfer_id", info.ID, "err", err)
	}
}

// FromInfo converts a terminal transfer snapshot into a history record.
func FromInfo(info transfer.Info, failure error) storage.TransferRecord {
	rec := storage.TransferRecord{
		ID:                info.ID,
		Bucket:            info.Key.Bucket,
		Object:            info.Key.Object,
		Attribute:         info.Key.Attribute,
		Direction:         info.Key.Direction.String(),
		ExpectedLength:    info.ExpectedLength,
		TransferredLength: info.TransferredLength,
		Status:            info.State.String(),
		ClientID:          info.ClientID,
	}

	if failure != nil {
		rec.Status = transfer.StateFailed.String()
		rec.Classification = transfer.Classify(failure).String()
		rec.Error = failure.Error()
	}

	return rec
}
