package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/attachment_transfer/internal/transfer/progress"
)

// worker executes exactly one record. It holds the record only while running.
type worker struct {
	m      *Manager
	rec    *record
	logger *slog.Logger
}

func newWorker(m *Manager, rec *record) *worker {
	return &worker{
		m:   m,
		rec: rec,
		logger: m.logger.With(
			"transfer_id", rec.id,
			"direction", rec.key.Direction.String(),
			"bucket", rec.key.Bucket,
			"object", rec.key.Object,
			"attribute", rec.key.Attribute,
		),
	}
}

func (w *worker) run(ctx context.Context) {
	var err error

	// finish runs for every exit path, panics included, so no record stays in progress.
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "transfer worker panic", "panic", r, "stack", string(debug.Stack()))

			err = &TransportError{
				Operation: w.operation(),
				Kind:      Permanent,
				Message:   fmt.Sprintf("panic: %v", r),
			}
		}

		w.m.finish(w.rec, err)
	}()

	info, ok := w.m.begin(w.rec)
	if !ok {
		return
	}

	w.logger.InfoContext(ctx, "transfer started", "expected_size", humanize.Bytes(uint64(info.ExpectedLength)))

	w.m.registry.Notify(Event{Kind: EventStarted, Info: info})

	err = w.m.cfg.Telemetry.InstrumentTransfer(ctx, w.rec.key.Direction.String(), func(ctx context.Context) error {
		if w.rec.key.Direction == Upload {
			return w.upload(ctx)
		}

		return w.download(ctx)
	})

	switch {
	case !w.m.inProgress(w.rec):
		w.logger.InfoContext(ctx, "transfer stopped after cancellation")
	case err != nil:
		w.logger.ErrorContext(ctx, "transfer failed", "classification", Classify(err).String(), "err", err)
	default:
		w.logger.InfoContext(ctx, "transfer completed", "size", humanize.Bytes(uint64(w.m.transferred(w.rec))))
	}
}

func (w *worker) operation() string {
	if w.rec.key.Direction == Upload {
		return "send"
	}

	return "receive"
}

func (w *worker) onChunk(increment int64) {
	w.m.advance(w.rec, increment)
}

func (w *worker) upload(ctx context.Context) error {
	data := w.rec.data
	body := progress.NewReader(ctx, bytes.NewReader(data), w.m.cfg.ChunkSize, w.onChunk)

	if err := w.m.transport.Send(ctx, w.rec.key.Attachment, body, int64(len(data))); err != nil {
		return AsTransportError("send", err)
	}

	return w.verify(-1)
}

func (w *worker) download(ctx context.Context) error {
	src, length, err := w.m.transport.Receive(ctx, w.rec.key.Attachment)
	if err != nil {
		return AsTransportError("receive", err)
	}
	defer src.Close()

	if length > 0 {
		w.m.reportLength(w.rec, length)
	}

	dst, err := w.m.sink.Create(ctx, w.rec.key.Attachment)
	if err != nil {
		return sinkError("create_blob", err)
	}

	body := progress.NewReader(ctx, src, w.m.cfg.ChunkSize, w.onChunk)

	if _, err := io.Copy(dst, body); err != nil {
		w.abort(dst)

		return AsTransportError("receive", err)
	}

	if err := w.verify(length); err != nil {
		w.abort(dst)

		return err
	}

	if !w.m.beginCommit(w.rec) {
		w.abort(dst)

		return nil
	}

	if err := dst.Commit(); err != nil {
		return sinkError("commit_blob", err)
	}

	return nil
}

// sinkError reports a local storage failure as a permanent transport error.
func sinkError(operation string, err error) error {
	return &TransportError{
		Operation: operation,
		Kind:      Permanent,
		Message:   err.Error(),
		Err:       err,
	}
}

// verify rejects a transfer whose length differs from the requested length or from
// the length the transport reported.
func (w *worker) verify(reported int64) error {
	transferred := w.m.transferred(w.rec)

	expected := w.rec.requested
	if expected <= 0 {
		expected = reported
	}

	if expected > 0 && transferred != expected {
		return &CorruptionError{Key: w.rec.key, Expected: expected, Transferred: transferred}
	}

	return nil
}

func (w *worker) abort(dst BlobWriter) {
	if err := dst.Abort(); err != nil {
		w.logger.Warn("failed to discard partial blob", "err", err)
	}
}
