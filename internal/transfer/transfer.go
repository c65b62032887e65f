package transfer

import (
	"context"
	"fmt"
	"io"
)

// Transport moves attachment bytes to and from the remote store.
type Transport interface {
	// Send uploads size bytes read from body. The body must be consumed until EOF.
	Send(ctx context.Context, a Attachment, body io.Reader, size int64) error
	// Receive opens a stream for the attachment. The returned length is -1 when unknown.
	Receive(ctx context.Context, a Attachment) (io.ReadCloser, int64, error)
}

// Sink persists downloaded attachment bytes.
type Sink interface {
	Create(ctx context.Context, a Attachment) (BlobWriter, error)
}

// BlobWriter receives the bytes of one download. Exactly one of Commit or Abort is called.
type BlobWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

type State int

const (
	StatePending State = iota
	StateInProgress
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// IsActive reports whether the state occupies the identity key.
func (s State) IsActive() bool {
	return s == StatePending || s == StateInProgress
}

// Attachment identifies the binary attribute of a synchronized record.
type Attachment struct {
	Bucket    string
	Object    string
	Attribute string
}

func (a Attachment) String() string {
	return a.Bucket + "/" + a.Object + "/" + a.Attribute
}

// Key is the identity of a transfer. At most one active record exists per key.
type Key struct {
	Attachment
	Direction Direction
}

func (k Key) String() string {
	return k.Direction.String() + ":" + k.Attachment.String()
}

// Info is the snapshot of a transfer handed to observers and API callers.
type Info struct {
	ID                string
	Key               Key
	ClientID          string
	ExpectedLength    int64 // 0 when unknown
	TransferredLength int64
	State             State
}

// Ratio returns the completion ratio when the expected length is known.
func (i Info) Ratio() (float64, bool) {
	if i.ExpectedLength <= 0 {
		return 0, false
	}

	return float64(i.TransferredLength) / float64(i.ExpectedLength), true
}
