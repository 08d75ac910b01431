package state

import (
	"context"
	"errors"
	"sync"
)

// ErrWatcherClosed is returned by Watcher.Next after the watcher or
// its model has been closed.
var ErrWatcherClosed = errors.New("watcher closed")

// Delta is a set of changed field values keyed by path. Values must
// already be normalized (registry validation or codec decoding).
type Delta map[Field]any

// Clone returns an independent copy of the delta.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for f, v := range d {
		out[f] = v
	}
	return out
}

// Change is one versioned delta observed through a Watcher.
type Change struct {
	// Version is the model version after the delta was applied. When
	// a watcher coalesces several deltas this is the latest of them.
	Version uint64

	// Fields maps changed paths to their new values.
	Fields Delta
}

// Snapshot is an immutable copy of the model at one version. Callers
// must not mutate Fields.
type Snapshot struct {
	// Version is the model version the snapshot was taken at.
	Version uint64

	// Kind is the hardware kind, KindUnknown before the first poll.
	Kind Kind

	// Fields holds every known field value.
	Fields map[Field]any
}

// Lookup returns a field value and whether it is known yet.
func (s Snapshot) Lookup(f Field) (any, bool) {
	v, ok := s.Fields[f]
	return v, ok
}

// Known reports whether the field has been established by a poll or
// an acknowledged command.
func (s Snapshot) Known(f Field) bool {
	_, ok := s.Fields[f]
	return ok
}

// Model is the versioned store for one device. It is written only by
// the owning device session; any goroutine may take snapshots or
// watch for changes.
type Model struct {
	mu       sync.RWMutex
	version  uint64
	fields   map[Field]any
	watchers map[uint64]*Watcher
	nextID   uint64
	closed   bool
}

// NewModel returns an empty model at version 0 with every field
// unknown.
func NewModel() *Model {
	return &Model{
		fields:   make(map[Field]any),
		watchers: make(map[uint64]*Watcher),
	}
}

// Version returns the current version without copying the fields.
func (m *Model) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Snapshot returns an immutable copy of the current state.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields := make(map[Field]any, len(m.fields))
	for f, v := range m.fields {
		fields[f] = v
	}
	return Snapshot{Version: m.version, Kind: m.kindLocked(), Fields: fields}
}

// Kind returns the hardware kind established by the first poll.
func (m *Model) Kind() Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kindLocked()
}

func (m *Model) kindLocked() Kind {
	if s, ok := m.fields[FieldKind].(string); ok {
		return ParseKind(s)
	}
	return KindUnknown
}

// Apply merges a delta into the model. Fields whose value already
// matches are ignored; if anything actually changed the version is
// bumped exactly once and watchers are notified. Apply returns the
// version after the call. Only the owning device session may call
// Apply.
func (m *Model) Apply(d Delta) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.version
	}

	var changed Delta
	for f, v := range d {
		if old, ok := m.fields[f]; ok && ValuesEqual(old, v) {
			continue
		}
		if changed == nil {
			changed = make(Delta)
		}
		changed[f] = v
	}
	if changed == nil {
		return m.version
	}

	for f, v := range changed {
		m.fields[f] = v
	}
	m.version++

	for _, w := range m.watchers {
		w.push(m.version, changed)
	}
	return m.version
}

// Watch registers a watcher for future deltas. The caller must
// Close the watcher (or the model) to release it.
func (m *Model) Watch() *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &Watcher{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if m.closed {
		w.markClosed()
		return w
	}
	m.nextID++
	w.id = m.nextID
	w.model = m
	m.watchers[w.id] = w
	return w
}

// Close terminates every watcher. Further Apply calls are ignored.
// A model is closed when its device is removed for good; during the
// reconnect grace period the model stays open so versions remain
// monotonic across sessions.
func (m *Model) Close() {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[uint64]*Watcher)
	m.closed = true
	m.mu.Unlock()

	for _, w := range watchers {
		w.markClosed()
	}
}

func (m *Model) removeWatcher(id uint64) {
	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
}

// Watcher observes deltas applied to a model. Pending deltas are
// merged per watcher: the writer never blocks and memory stays
// bounded by the field space, at the cost of a slow consumer seeing
// intermediate versions collapsed into one change.
type Watcher struct {
	id    uint64
	model *Model

	mu      sync.Mutex
	pending Delta
	version uint64
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

// push merges a delta into the pending set. Called by the model with
// its lock held; must not block.
func (w *Watcher) push(version uint64, d Delta) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.pending == nil {
		w.pending = make(Delta, len(d))
	}
	for f, v := range d {
		w.pending[f] = v
	}
	w.version = version
	w.mu.Unlock()

	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Next blocks until a change is available, the context is cancelled,
// or the watcher is closed. Closing drains: a change applied before
// the close is still delivered first.
func (w *Watcher) Next(ctx context.Context) (Change, error) {
	for {
		if c, ok := w.take(); ok {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return Change{}, ctx.Err()
		case <-w.ready:
		case <-w.done:
			if c, ok := w.take(); ok {
				return c, nil
			}
			return Change{}, ErrWatcherClosed
		}
	}
}

// take removes and returns the pending change, if any.
func (w *Watcher) take() (Change, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return Change{}, false
	}
	c := Change{Version: w.version, Fields: w.pending}
	w.pending = nil
	return c, true
}

// Close detaches the watcher from its model. Safe to call more than
// once and concurrently with Next.
func (w *Watcher) Close() {
	if w.model != nil {
		w.model.removeWatcher(w.id)
	}
	w.markClosed()
}

func (w *Watcher) markClosed() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
}
