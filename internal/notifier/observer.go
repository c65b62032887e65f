package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/attachment_transfer/internal/transfer"
)

const (
	queueSize    = 64
	drainTimeout = 5 * time.Second
)

// Observer queues a message for every failed transfer, and for successful ones when
// enabled. Messages are delivered by Run so slow webhooks never hold up a transfer.
type Observer struct {
	transfer.NopObserver

	notifier      Notifier
	notifySuccess bool
	logger        *slog.Logger
	queue         chan string
}

func NewObserver(n Notifier, notifySuccess bool, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Observer{
		notifier:      n,
		notifySuccess: notifySuccess,
		logger:        logger,
		queue:         make(chan string, queueSize),
	}
}

// Run delivers queued messages until ctx is done, then flushes what is left
// within drainTimeout.
func (o *Observer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.drain()

			return nil
		case msg := <-o.queue:
			o.send(ctx, msg)
		}
	}
}

func (o *Observer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case msg := <-o.queue:
			o.send(ctx, msg)
		default:
			return
		}

		if ctx.Err() != nil {
			o.logger.Warn("notification drain timed out", "dropped", len(o.queue))

			return
		}
	}
}

func (o *Observer) send(ctx context.Context, msg string) {
	if err := o.notifier.Notify(ctx, msg); err != nil {
		o.logger.WarnContext(ctx, "failed to send notification", "err", err)
	}
}

func (o *Observer) UploadSuccessful(info transfer.Info)   { o.successful(info) }
func (o *Observer) DownloadSuccessful(info transfer.Info) { o.successful(info) }

func (o *Observer) UploadFailed(info transfer.Info, err error) {
	o.failed(info, err)
}

func (o *Observer) DownloadFailed(info transfer.Info, err error) {
	o.failed(info, err)
}

func (o *Observer) successful(info transfer.Info) {
	if !o.notifySuccess {
		return
	}

	o.enqueue(fmt.Sprintf("✅ %s of `%s` completed (%s)",
		info.Key.Direction, info.Key.Attachment, humanize.Bytes(uint64(info.TransferredLength))))
}

func (o *Observer) failed(info transfer.Info, err error) {
	o.enqueue(fmt.Sprintf("❌ %s of `%s` failed after %s: %s error: %v",
		info.Key.Direction, info.Key.Attachment,
		humanize.Bytes(uint64(info.TransferredLength)), transfer.Classify(err), err))
}

func (o *Observer) enqueue(msg string) {
	select {
	case o.queue <- msg:
	default:
		o.logger.Warn("notification queue full, dropping message")
	}
}
