package transfer

import (
	"context"
	"sync"
)

// Handle refers to one accepted transfer request.
type Handle struct {
	m   *Manager
	rec *record

	once sync.Once
	done chan struct{}
	err  error
}

func newHandle(m *Manager, rec *record) *Handle {
	return &Handle{m: m, rec: rec, done: make(chan struct{})}
}

func (h *Handle) ID() string {
	return h.rec.id
}

func (h *Handle) Key() Key {
	return h.rec.key
}

// Info returns a snapshot of the transfer.
func (h *Handle) Info() Info {
	return h.m.snapshot(h.rec)
}

// Done is closed once the transfer reached a terminal state and observers were notified.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the outcome once Done is closed: nil on success, a *CancelledError when
// cancelled or superseded, the failure otherwise.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the transfer is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel is shorthand for Manager.Cancel.
func (h *Handle) Cancel() {
	h.m.Cancel(h)
}

func (h *Handle) resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}
