package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrManagerClosed is returned by request methods once the manager has been closed.
var ErrManagerClosed = errors.New("transfer manager closed")

// DuplicateTransferError is returned when an in-progress transfer already owns the identity key.
type DuplicateTransferError struct {
	Key        Key    // Identity key of the rejected request
	ExistingID string // ID of the transfer holding the key
}

func (e *DuplicateTransferError) Error() string {
	return fmt.Sprintf("transfer %s already in progress (%s)", e.Key, e.ExistingID)
}

// ErrorKind separates failures worth retrying from the rest.
type ErrorKind int

const (
	Permanent ErrorKind = iota
	Transient
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}

	return "permanent"
}

// TransportError represents a failure of the underlying network or storage operation.
type TransportError struct {
	Operation  string    // The operation that failed (e.g., "send", "receive", "put_object")
	Kind       ErrorKind // Transient for connection resets and timeouts, permanent otherwise
	StatusCode int       // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string    // Error message from the remote service or network layer
	Err        error     // Underlying error, if any
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s transport error during %s (HTTP %d): %s", e.Kind, e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s transport error during %s: %s", e.Kind, e.Operation, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CancelledError is surfaced to the handle of a cancelled or superseded transfer.
// It is never delivered to observers.
type CancelledError struct {
	Key        Key
	Superseded bool // Replaced by a newer request before it started
}

func (e *CancelledError) Error() string {
	if e.Superseded {
		return fmt.Sprintf("transfer %s superseded by a newer request", e.Key)
	}

	return fmt.Sprintf("transfer %s cancelled", e.Key)
}

// CorruptionError reports a transferred length that does not match the expected length.
type CorruptionError struct {
	Key         Key
	Expected    int64
	Transferred int64
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("transfer %s length mismatch: expected %d bytes, transferred %d", e.Key, e.Expected, e.Transferred)
}

type Classification int

const (
	ClassUnknown Classification = iota
	ClassTransient
	ClassPermanent
	ClassCorruption
	ClassCancelled
)

func (c Classification) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCorruption:
		return "corruption"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an error to the classification carried by failed events.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}

	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return ClassCancelled
	}

	var corruption *CorruptionError
	if errors.As(err, &corruption) {
		return ClassCorruption
	}

	var te *TransportError
	if errors.As(err, &te) {
		if te.Kind == Transient {
			return ClassTransient
		}

		return ClassPermanent
	}

	return ClassUnknown
}

// IsTransient reports whether a caller-level retry might succeed.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// AsTransportError wraps err in a TransportError unless it already carries one.
// Timeouts, connection resets and truncated streams are transient; everything else is permanent.
func AsTransportError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		return err
	}

	kind := Permanent

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = Transient
	}

	return &TransportError{
		Operation: operation,
		Kind:      kind,
		Message:   err.Error(),
		Err:       err,
	}
}

// KindForStatus classifies an HTTP status returned by a remote store.
// Throttling, timeouts and server errors are transient; everything else is permanent.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests:
		return Transient
	case status >= http.StatusInternalServerError && status != http.StatusNotImplemented:
		return Transient
	default:
		return Permanent
	}
}
