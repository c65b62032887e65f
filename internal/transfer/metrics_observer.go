package transfer

import "github.com/italolelis/attachment_transfer/internal/telemetry"

// MetricsObserver turns progress increments into byte counters.
// Transfer counts and durations are recorded by the worker.
type MetricsObserver struct {
	NopObserver

	telemetry *telemetry.Telemetry
}

func NewMetricsObserver(tel *telemetry.Telemetry) *MetricsObserver {
	return &MetricsObserver{telemetry: tel}
}

func (o *MetricsObserver) UploadProgress(_ Info, increment int64) {
	o.telemetry.RecordTransferredBytes(Upload.String(), increment)
}

func (o *MetricsObserver) DownloadProgress(_ Info, increment int64) {
	o.telemetry.RecordTransferredBytes(Download.String(), increment)
}

func (o *MetricsObserver) UploadFailed(_ Info, err error) {
	o.telemetry.RecordSystemError("transfer", Classify(err).String())
}

func (o *MetricsObserver) DownloadFailed(_ Info, err error) {
	o.telemetry.RecordSystemError("transfer", Classify(err).String())
}
