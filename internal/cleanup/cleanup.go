package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/storage"
)

// DeleteExpiredTransfers deletes history records older than keepDuration.
func DeleteExpiredTransfers(ctx context.Context, repo storage.TransferWriteRepository, keepDuration time.Duration) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if keepDuration <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-keepDuration)

	deleted, err := repo.DeleteTransfersBefore(ctx, cutoff)
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete expired transfer records", "cutoff", cutoff, "err", err)

		return 0, fmt.Errorf("failed to delete expired transfer records: %w", err)
	}

	if deleted > 0 {
		logger.InfoContext(ctx, "deleted expired transfer records", "count", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}
