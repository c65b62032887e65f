package transfer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/telemetry"
	"github.com/italolelis/attachment_transfer/internal/transfer/progress"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxParallel = 4

// ErrInvalidAttachment is returned when a request misses part of the attachment identity.
var ErrInvalidAttachment = errors.New("bucket, object and attribute are required")

type Config struct {
	MaxParallel int    // Maximum number of transfers in progress at once
	ChunkSize   int    // Bytes per chunk; cancellation is checked between chunks
	ClientID    string // Owning synchronization client, reported in every event
	Telemetry   *telemetry.Telemetry
}

// Manager owns the set of active transfers. It bounds how many run at once,
// keeps the rest queued in FIFO order and relays lifecycle events to observers.
type Manager struct {
	transport Transport
	sink      Sink
	registry  *Registry
	cfg       Config
	logger    *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	group  errgroup.Group
	closed chan struct{}

	mu      sync.Mutex
	closing bool
	seq     uint64
	active  map[Key]*record
	byID    map[string]*record
	queue   []*record
	running int
}

type record struct {
	id         string
	seq        uint64
	key        Key
	data       []byte
	requested  int64 // expected length known when the request was accepted
	tracker    *progress.Tracker
	state      State
	committing bool // download is being committed and can no longer be cancelled
	cancel     context.CancelFunc
	handle     *Handle
}

// NewManager creates a manager whose workers live until ctx is done or Close is called.
func NewManager(ctx context.Context, transport Transport, sink Sink, cfg Config) *Manager {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = progress.DefaultChunkSize
	}

	if cfg.ClientID == "" {
		cfg.ClientID = GenerateClientID()
	}

	logger := logctx.LoggerFromContext(ctx)
	ctx, stop := context.WithCancel(ctx)

	return &Manager{
		transport: transport,
		sink:      sink,
		registry:  NewRegistry(logger),
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		stop:      stop,
		closed:    make(chan struct{}),
		active:    make(map[Key]*record),
		byID:      make(map[string]*record),
	}
}

// AddObserver registers an observer. The returned function unregisters it.
// Use Weak to register an observer without keeping it alive.
func (m *Manager) AddObserver(o Observer) (remove func()) {
	return m.registry.Add(o)
}

func (m *Manager) RemoveObserver(o Observer) {
	m.registry.Remove(o)
}

// RequestUpload schedules an upload of a copy of data for the attachment.
func (m *Manager) RequestUpload(ctx context.Context, bucket, object, attribute string, data []byte) (*Handle, error) {
	key := Key{Attachment: Attachment{Bucket: bucket, Object: object, Attribute: attribute}, Direction: Upload}

	return m.request(ctx, key, bytes.Clone(data), int64(len(data)))
}

// RequestDownload schedules a download of the attachment into the sink.
// An expected length of zero means the length is unknown until the transport reports it.
func (m *Manager) RequestDownload(ctx context.Context, bucket, object, attribute string, expectedLength int64) (*Handle, error) {
	key := Key{Attachment: Attachment{Bucket: bucket, Object: object, Attribute: attribute}, Direction: Download}

	if expectedLength < 0 {
		expectedLength = 0
	}

	return m.request(ctx, key, nil, expectedLength)
}

func (m *Manager) request(ctx context.Context, key Key, data []byte, expected int64) (*Handle, error) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_key", key.String())

	if key.Bucket == "" || key.Object == "" || key.Attribute == "" {
		return nil, ErrInvalidAttachment
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing || m.ctx.Err() != nil {
		return nil, ErrManagerClosed
	}

	if existing, ok := m.active[key]; ok && existing.state.IsActive() {
		if existing.state == StateInProgress {
			logger.Debug("rejecting duplicate transfer", "existing_id", existing.id)

			return nil, &DuplicateTransferError{Key: key, ExistingID: existing.id}
		}

		logger.Info("superseding pending transfer", "superseded_id", existing.id)

		m.dequeueLocked(existing)
		existing.state = StateCancelled
		m.forgetLocked(existing)
		existing.handle.resolve(&CancelledError{Key: key, Superseded: true})
	}

	m.seq++

	rec := &record{
		id:        uuid.NewString(),
		seq:       m.seq,
		key:       key,
		data:      data,
		requested: expected,
		tracker:   progress.NewTracker(expected),
		state:     StatePending,
	}
	rec.handle = newHandle(m, rec)

	m.active[key] = rec
	m.byID[rec.id] = rec
	m.queue = append(m.queue, rec)

	logger.Debug("transfer queued", "transfer_id", rec.id, "queued", len(m.queue), "running", m.running)

	m.dispatchLocked()

	return rec.handle, nil
}

// Cancel stops a transfer. Cancelling a terminal transfer is a no-op.
// A pending transfer is dropped at once; an in-progress one stops at its next chunk boundary.
func (m *Manager) Cancel(h *Handle) {
	if h == nil || h.m != m {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked(h.rec)
}

// CancelByID cancels the active transfer with the given ID and reports whether it was found.
func (m *Manager) CancelByID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return false
	}

	m.cancelLocked(rec)

	return true
}

// Lookup returns the handle of an active transfer.
func (m *Manager) Lookup(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, false
	}

	return rec.handle, true
}

// Active lists pending and in-progress transfers in request order.
func (m *Manager) Active() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := make([]*record, 0, len(m.byID))
	for _, rec := range m.byID {
		recs = append(recs, rec)
	}

	slices.SortFunc(recs, func(a, b *record) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, m.snapshotLocked(rec))
	}

	return infos
}

// Close rejects new requests, cancels every active transfer and waits for the workers
// to exit or ctx to be done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()

	if !m.closing {
		m.closing = true

		for _, rec := range m.active {
			m.cancelLocked(rec)
		}

		go func() {
			_ = m.group.Wait()

			m.stop()
			close(m.closed)
		}()
	}

	m.mu.Unlock()

	select {
	case <-m.closed:
		m.logger.Info("transfer manager closed")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) cancelLocked(rec *record) {
	switch rec.state {
	case StatePending:
		m.dequeueLocked(rec)
		rec.state = StateCancelled
		m.forgetLocked(rec)
		rec.handle.resolve(&CancelledError{Key: rec.key})

		m.logger.Info("pending transfer cancelled", "transfer_id", rec.id, "transfer_key", rec.key.String())
	case StateInProgress:
		if rec.committing {
			m.logger.Info("transfer already committing, cancel ignored", "transfer_id", rec.id, "transfer_key", rec.key.String())

			return
		}

		rec.state = StateCancelled
		rec.cancel()

		m.logger.Info("in-progress transfer cancelled", "transfer_id", rec.id, "transfer_key", rec.key.String())
	}
}

// dispatchLocked starts queued transfers while slots are free. Once the manager
// context has ended the queue is cancelled instead of started.
func (m *Manager) dispatchLocked() {
	if m.ctx.Err() != nil {
		for len(m.queue) > 0 {
			m.cancelLocked(m.queue[0])
		}

		return
	}

	for m.running < m.cfg.MaxParallel && len(m.queue) > 0 {
		rec := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]

		ctx, cancel := context.WithCancel(m.ctx)
		rec.cancel = cancel
		rec.state = StateInProgress
		m.running++

		w := newWorker(m, rec)

		m.group.Go(func() error {
			w.run(ctx)

			return nil
		})
	}
}

func (m *Manager) dequeueLocked(rec *record) {
	if i := slices.Index(m.queue, rec); i >= 0 {
		m.queue = slices.Delete(m.queue, i, i+1)
	}
}

func (m *Manager) forgetLocked(rec *record) {
	if m.active[rec.key] == rec {
		delete(m.active, rec.key)
	}

	delete(m.byID, rec.id)
}

func (m *Manager) snapshotLocked(rec *record) Info {
	return Info{
		ID:                rec.id,
		Key:               rec.key,
		ClientID:          m.cfg.ClientID,
		ExpectedLength:    rec.tracker.Expected(),
		TransferredLength: rec.tracker.Transferred(),
		State:             rec.state,
	}
}

func (m *Manager) snapshot(rec *record) Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked(rec)
}

// begin reports whether the worker may start; a transfer cancelled right after
// dispatch never emits a started event.
func (m *Manager) begin(rec *record) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.state == StateInProgress && m.ctx.Err() != nil {
		rec.state = StateCancelled
	}

	if rec.state != StateInProgress {
		return Info{}, false
	}

	return m.snapshotLocked(rec), true
}

// advance records a chunk and relays it as a progress event.
func (m *Manager) advance(rec *record, increment int64) {
	m.mu.Lock()

	if rec.state != StateInProgress {
		m.mu.Unlock()

		return
	}

	corrected := rec.tracker.Add(increment)
	info := m.snapshotLocked(rec)

	m.mu.Unlock()

	if corrected {
		m.logger.Warn("transferred length exceeds expected length",
			"transfer_id", rec.id,
			"transfer_key", rec.key.String(),
			"requested_length", rec.requested,
			"transferred_length", info.TransferredLength)
	}

	m.registry.Notify(Event{Kind: EventProgress, Info: info, Increment: increment})
}

// reportLength fills in a length reported by the transport when none was known.
func (m *Manager) reportLength(rec *record, length int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.tracker.SetExpected(length)
}

func (m *Manager) transferred(rec *record) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return rec.tracker.Transferred()
}

// beginCommit reports whether the download may be committed. From then on the
// transfer can no longer be cancelled.
func (m *Manager) beginCommit(rec *record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.state != StateInProgress {
		return false
	}

	rec.committing = true

	return true
}

func (m *Manager) inProgress(rec *record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return rec.state == StateInProgress
}

// finish moves the record to its terminal state, notifies observers, then frees the slot.
func (m *Manager) finish(rec *record, err error) {
	m.mu.Lock()

	rec.cancel()

	switch {
	case rec.state == StateCancelled:
	case err != nil && m.ctx.Err() != nil:
		// the manager context ended underneath the worker
		rec.state = StateCancelled
	case err != nil:
		rec.state = StateFailed
	default:
		rec.state = StateSucceeded
	}

	info := m.snapshotLocked(rec)

	m.mu.Unlock()

	switch info.State {
	case StateSucceeded:
		m.registry.Notify(Event{Kind: EventSuccessful, Info: info})
	case StateFailed:
		m.registry.Notify(Event{Kind: EventFailed, Info: info, Err: err})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.forgetLocked(rec)
	m.running--

	switch info.State {
	case StateCancelled:
		rec.handle.resolve(&CancelledError{Key: rec.key})
	case StateFailed:
		rec.handle.resolve(err)
	default:
		rec.handle.resolve(nil)
	}

	rec.data = nil

	m.dispatchLocked()
}
