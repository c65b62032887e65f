package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var photoKey = Key{Attachment: Attachment{Bucket: "notes", Object: "42", Attribute: "photo"}, Direction: Upload}

// TestTransportError_Error verifies error message formatting
func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *TransportError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &TransportError{
				Operation:  "send",
				Kind:       Transient,
				StatusCode: 503,
				Message:    "service unavailable",
			},
			wantFormat: "transient transport error during send (HTTP 503): service unavailable",
		},
		{
			name: "without HTTP status code",
			err: &TransportError{
				Operation: "receive",
				Message:   "access denied",
			},
			wantFormat: "permanent transport error during receive: access denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

func TestDuplicateTransferError_Error(t *testing.T) {
	err := &DuplicateTransferError{Key: photoKey, ExistingID: "abc"}

	assert.Equal(t, "transfer upload:notes/42/photo already in progress (abc)", err.Error())
}

func TestCancelledError_Error(t *testing.T) {
	assert.Equal(t, "transfer upload:notes/42/photo cancelled", (&CancelledError{Key: photoKey}).Error())
	assert.Equal(t, "transfer upload:notes/42/photo superseded by a newer request",
		(&CancelledError{Key: photoKey, Superseded: true}).Error())
}

func TestCorruptionError_Error(t *testing.T) {
	err := &CorruptionError{Key: photoKey, Expected: 2048, Transferred: 1024}

	assert.Equal(t, "transfer upload:notes/42/photo length mismatch: expected 2048 bytes, transferred 1024", err.Error())
}

// TestTransportError_Unwrap verifies error chain traversal
func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{
		Operation:  "send",
		StatusCode: 500,
		Message:    "internal server error",
		Err:        cause,
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}

	var target *TransportError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, 500, target.StatusCode)
}

func TestTransportError_NilUnwrap(t *testing.T) {
	err := &TransportError{Operation: "send", Message: "error"}

	assert.NoError(t, errors.Unwrap(err))
	assert.NotEmpty(t, err.Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{name: "nil", err: nil, want: ClassUnknown},
		{name: "plain error", err: errors.New("boom"), want: ClassUnknown},
		{name: "transient", err: &TransportError{Kind: Transient}, want: ClassTransient},
		{name: "permanent", err: &TransportError{Kind: Permanent}, want: ClassPermanent},
		{name: "wrapped transient", err: fmt.Errorf("send: %w", &TransportError{Kind: Transient}), want: ClassTransient},
		{name: "corruption", err: &CorruptionError{Key: photoKey}, want: ClassCorruption},
		{name: "cancelled", err: &CancelledError{Key: photoKey}, want: ClassCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TransportError{Kind: Transient}))
	assert.False(t, IsTransient(&TransportError{Kind: Permanent}))
	assert.False(t, IsTransient(nil))
}

func TestAsTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: Transient},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: Transient},
		{name: "truncated stream", err: io.ErrUnexpectedEOF, want: Transient},
		{name: "anything else", err: errors.New("forbidden"), want: Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AsTransportError("receive", tt.err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.want, te.Kind)
			assert.Equal(t, "receive", te.Operation)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("keeps existing transport error", func(t *testing.T) {
		original := &TransportError{Operation: "put_object", Kind: Transient}

		assert.Same(t, original, AsTransportError("send", original))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, AsTransportError("send", nil))
	})
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{status: 400, want: Permanent},
		{status: 401, want: Permanent},
		{status: 403, want: Permanent},
		{status: 404, want: Permanent},
		{status: 408, want: Transient},
		{status: 413, want: Permanent},
		{status: 429, want: Transient},
		{status: 500, want: Transient},
		{status: 501, want: Permanent},
		{status: 503, want: Transient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.status))
		})
	}
}
