package transfer

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// LoggingObserver writes terminal events to a logger. Progress is logged at debug level.
type LoggingObserver struct {
	logger *slog.Logger
}

func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) UploadStarted(info Info)      { o.started(info) }
func (o *LoggingObserver) DownloadStarted(info Info)    { o.started(info) }
func (o *LoggingObserver) UploadSuccessful(info Info)   { o.successful(info) }
func (o *LoggingObserver) DownloadSuccessful(info Info) { o.successful(info) }

func (o *LoggingObserver) UploadProgress(info Info, increment int64) {
	o.progress(info, increment)
}

func (o *LoggingObserver) DownloadProgress(info Info, increment int64) {
	o.progress(info, increment)
}

func (o *LoggingObserver) UploadFailed(info Info, err error) {
	o.failed(info, err)
}

func (o *LoggingObserver) DownloadFailed(info Info, err error) {
	o.failed(info, err)
}

func (o *LoggingObserver) with(info Info) *slog.Logger {
	return o.logger.With(
		"transfer_id", info.ID,
		"transfer_key", info.Key.String(),
		"client_id", info.ClientID,
	)
}

func (o *LoggingObserver) started(info Info) {
	o.with(info).Debug("transfer event", "event", EventStarted.String())
}

func (o *LoggingObserver) progress(info Info, increment int64) {
	attrs := []any{
		"event", EventProgress.String(),
		"increment", humanize.Bytes(uint64(increment)),
		"transferred", humanize.Bytes(uint64(info.TransferredLength)),
	}

	if ratio, ok := info.Ratio(); ok {
		attrs = append(attrs, "percent", humanize.FtoaWithDigits(ratio*100, 1))
	}

	o.with(info).Debug("transfer event", attrs...)
}

func (o *LoggingObserver) successful(info Info) {
	o.with(info).Info("transfer event",
		"event", EventSuccessful.String(),
		"size", humanize.Bytes(uint64(info.TransferredLength)))
}

func (o *LoggingObserver) failed(info Info, err error) {
	o.with(info).Warn("transfer event",
		"event", EventFailed.String(),
		"classification", Classify(err).String(),
		"transferred", humanize.Bytes(uint64(info.TransferredLength)),
		"err", err)
}
