package transfer

import (
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"weak"
)

// Observer receives transfer lifecycle events. Embed NopObserver to implement only
// the callbacks of interest. Progress callbacks carry the bytes moved since the
// previous progress event, never a cumulative total.
type Observer interface {
	UploadStarted(info Info)
	UploadProgress(info Info, increment int64)
	UploadSuccessful(info Info)
	UploadFailed(info Info, err error)

	DownloadStarted(info Info)
	DownloadProgress(info Info, increment int64)
	DownloadSuccessful(info Info)
	DownloadFailed(info Info, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) UploadStarted(Info)           {}
func (NopObserver) UploadProgress(Info, int64)   {}
func (NopObserver) UploadSuccessful(Info)        {}
func (NopObserver) UploadFailed(Info, error)     {}
func (NopObserver) DownloadStarted(Info)         {}
func (NopObserver) DownloadProgress(Info, int64) {}
func (NopObserver) DownloadSuccessful(Info)      {}
func (NopObserver) DownloadFailed(Info, error)   {}

type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventSuccessful
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventSuccessful:
		return "successful"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one notification. Increment is set for progress events, Err for failed ones.
type Event struct {
	Kind      EventKind
	Info      Info
	Increment int64
	Err       error
}

// Weak wraps an observer so the registry does not keep it alive. Once the target has
// been garbage collected it is skipped and dropped from the registry.
func Weak[T any, PT interface {
	*T
	Observer
}](o PT) Observer {
	return &weakObserver[T, PT]{ptr: weak.Make((*T)(o))}
}

type resolver interface {
	resolve() (Observer, bool)
}

type weakObserver[T any, PT interface {
	*T
	Observer
}] struct {
	ptr weak.Pointer[T]
}

func (w *weakObserver[T, PT]) resolve() (Observer, bool) {
	v := w.ptr.Value()
	if v == nil {
		return nil, false
	}

	return PT(v), true
}

func (w *weakObserver[T, PT]) with(fn func(Observer)) {
	if o, ok := w.resolve(); ok {
		fn(o)
	}
}

func (w *weakObserver[T, PT]) UploadStarted(i Info) {
	w.with(func(o Observer) { o.UploadStarted(i) })
}

func (w *weakObserver[T, PT]) UploadProgress(i Info, n int64) {
	w.with(func(o Observer) { o.UploadProgress(i, n) })
}

func (w *weakObserver[T, PT]) UploadSuccessful(i Info) {
	w.with(func(o Observer) { o.UploadSuccessful(i) })
}

func (w *weakObserver[T, PT]) UploadFailed(i Info, err error) {
	w.with(func(o Observer) { o.UploadFailed(i, err) })
}

func (w *weakObserver[T, PT]) DownloadStarted(i Info) {
	w.with(func(o Observer) { o.DownloadStarted(i) })
}

func (w *weakObserver[T, PT]) DownloadProgress(i Info, n int64) {
	w.with(func(o Observer) { o.DownloadProgress(i, n) })
}

func (w *weakObserver[T, PT]) DownloadSuccessful(i Info) {
	w.with(func(o Observer) { o.DownloadSuccessful(i) })
}

func (w *weakObserver[T, PT]) DownloadFailed(i Info, err error) {
	w.with(func(o Observer) { o.DownloadFailed(i, err) })
}

type registration struct {
	id       uint64
	observer Observer
}

// Registry fans events out to observers in registration order.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	entries []registration
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{logger: logger}
}

// Add registers an observer and returns a function that unregisters it.
func (r *Registry) Add(o Observer) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, registration{id: id, observer: o})

	return func() { r.removeID(id) }
}

// Remove unregisters every registration of o, including weak registrations pointing at it.
func (r *Registry) Remove(o Observer) {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]

	for _, e := range r.entries {
		if sameObserver(e.observer, o) {
			continue
		}

		kept = append(kept, e)
	}

	clear(r.entries[len(kept):])
	r.entries = kept
}

// Len returns the number of registrations, live or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Notify dispatches the event on the calling goroutine. Unreachable weak observers
// are skipped and pruned; a panicking observer is logged and skipped.
func (r *Registry) Notify(ev Event) {
	r.mu.Lock()
	snapshot := make([]registration, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	var dead []uint64

	for _, e := range snapshot {
		target := e.observer

		if res, ok := target.(resolver); ok {
			live, alive := res.resolve()
			if !alive {
				dead = append(dead, e.id)

				continue
			}

			target = live
		}

		r.dispatch(target, ev)
	}

	for _, id := range dead {
		r.removeID(id)
	}
}

func (r *Registry) dispatch(o Observer, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("transfer observer panic",
				"event", ev.Kind.String(),
				"transfer_id", ev.Info.ID,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	upload := ev.Info.Key.Direction == Upload

	switch ev.Kind {
	case EventStarted:
		if upload {
			o.UploadStarted(ev.Info)
		} else {
			o.DownloadStarted(ev.Info)
		}
	case EventProgress:
		if upload {
			o.UploadProgress(ev.Info, ev.Increment)
		} else {
			o.DownloadProgress(ev.Info, ev.Increment)
		}
	case EventSuccessful:
		if upload {
			o.UploadSuccessful(ev.Info)
		} else {
			o.DownloadSuccessful(ev.Info)
		}
	case EventFailed:
		if upload {
			o.UploadFailed(ev.Info, ev.Err)
		} else {
			o.DownloadFailed(ev.Info, ev.Err)
		}
	}
}

func (r *Registry) removeID(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)

			return
		}
	}
}

func sameObserver(registered, o Observer) bool {
	if reflect.TypeOf(registered).Comparable() && registered == o {
		return true
	}

	if res, ok := registered.(resolver); ok {
		if live, alive := res.resolve(); alive && reflect.TypeOf(live) == reflect.TypeOf(o) {
			return live == o
		}
	}

	return false
}
