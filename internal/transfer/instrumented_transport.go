package transfer

import (
	"context"
	"io"

	"github.com/italolelis/attachment_transfer/internal/telemetry"
)

// InstrumentedTransport wraps Transport with telemetry.
type InstrumentedTransport struct {
	transport     Transport
	telemetry     *telemetry.Telemetry
	transportType string
}

// NewInstrumentedTransport creates a new instrumented transport.
func NewInstrumentedTransport(transport Transport, tel *telemetry.Telemetry, transportType string) *InstrumentedTransport {
	return &InstrumentedTransport{
		transport:     transport,
		telemetry:     tel,
		transportType: transportType,
	}
}

// Send uploads an attachment with telemetry.
func (t *InstrumentedTransport) Send(ctx context.Context, a Attachment, body io.Reader, size int64) error {
	return t.telemetry.InstrumentTransportOperation(ctx, t.transportType, "send", func(ctx context.Context) error {
		return t.transport.Send(ctx, a, body, size)
	})
}

// Receive opens an attachment stream with telemetry. Only opening the stream is measured.
func (t *InstrumentedTransport) Receive(ctx context.Context, a Attachment) (io.ReadCloser, int64, error) {
	var (
		body   io.ReadCloser
		length int64
	)

	err := t.telemetry.InstrumentTransportOperation(ctx, t.transportType, "receive", func(ctx context.Context) error {
		var err error

		body, length, err = t.transport.Receive(ctx, a)

		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return body, length, nil
}
