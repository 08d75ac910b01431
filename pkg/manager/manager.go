package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/profile"
	"github.com/mixdeck-audio/mixdeck-go/pkg/reconcile"
	"github.com/mixdeck-audio/mixdeck-go/pkg/session"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
)

// Manager errors.
var (
	// ErrUnknownDevice reports a lookup for a device the manager has
	// never seen or has already purged.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnavailable reports an operation on a device that is known
	// but currently unreachable (lost, within its grace period).
	ErrUnavailable = errors.New("device unavailable")
)

// Policy defaults.
const (
	// DefaultRescanInterval is the spacing of bus enumerations.
	DefaultRescanInterval = time.Second

	// DefaultGracePeriod is how long a lost device's model is retained
	// for a fast reconnect.
	DefaultGracePeriod = 30 * time.Second

	// convergeTimeout bounds one profile convergence run.
	convergeTimeout = 10 * time.Second
)

// Bus is the transport surface the manager drives.
type Bus interface {
	transport.Enumerator
	transport.Opener
}

// EventKind classifies manager events.
type EventKind uint8

const (
	// EventAttached fires when a transport is opened and a session
	// starts connecting.
	EventAttached EventKind = iota

	// EventReady fires when a session reaches its ready phase.
	EventReady

	// EventDegraded fires when a session degrades.
	EventDegraded

	// EventLost fires when a device disappears; its model is retained
	// for the grace period.
	EventLost

	// EventRemoved fires when the grace period expires and the model
	// is purged.
	EventRemoved
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventAttached:
		return "attached"
	case EventReady:
		return "ready"
	case EventDegraded:
		return "degraded"
	case EventLost:
		return "lost"
	case EventRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one device lifecycle notification.
type Event struct {
	Kind EventKind
	Info transport.DeviceInfo
}

// DeviceStatus summarizes one tracked device.
type DeviceStatus struct {
	Info transport.DeviceInfo

	// Kind is the hardware kind, unknown before the first poll.
	Kind state.Kind

	// Phase is the session phase; closed while the device is retained.
	Phase session.Phase

	// Retained is true while the device is lost but within grace.
	Retained bool

	// Version is the model version.
	Version uint64
}

// Config carries the manager policy knobs. The zero value is usable.
type Config struct {
	// RescanInterval is the spacing of bus enumerations.
	RescanInterval time.Duration

	// GracePeriod is how long a lost device's model is retained.
	GracePeriod time.Duration

	// Session is the policy template applied to every session.
	Session session.Config

	// Store persists device profiles. When nil profiles live only in
	// memory.
	Store *profile.Store

	// Logger receives application log lines. Defaults to slog.Default().
	Logger *slog.Logger

	// EventLog receives protocol events. Defaults to the noop logger.
	EventLog log.Logger

	// OnEvent, when set, is called for every device lifecycle event.
	// It runs on the manager's goroutine: it must return promptly and
	// must not call back into the manager.
	OnEvent func(Event)
}

func (c Config) withDefaults() Config {
	if c.RescanInterval <= 0 {
		c.RescanInterval = DefaultRescanInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.EventLog == nil {
		c.EventLog = log.NoopLogger{}
	}
	return c
}

// entry is one tracked device. The session pointer is nil while the
// device is lost but retained.
type entry struct {
	info    transport.DeviceInfo
	model   *state.Model
	profile *profile.Profile
	sess    *session.Session
	adopted bool
	expiry  time.Time
}

// phaseEvent forwards a session phase transition to the manager loop.
type phaseEvent struct {
	key   string
	phase session.Phase
}

// Manager owns the set of device sessions.
type Manager struct {
	bus      Bus
	cfg      Config
	logger   *slog.Logger
	events   log.Logger
	registry *state.Registry

	mu      sync.Mutex
	devices map[string]*entry

	phaseCh   chan phaseEvent
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	started   bool
}

// New creates a manager over a bus. Start begins scanning.
func New(bus Bus, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		bus:      bus,
		cfg:      cfg,
		logger:   cfg.Logger,
		events:   cfg.EventLog,
		registry: state.DefaultRegistry(),
		devices:  make(map[string]*entry),
		phaseCh:  make(chan phaseEvent, 64),
		closing:  make(chan struct{}),
	}
}

// Start launches the rescan loop. Calling Start more than once has no
// effect.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Close stops scanning, closes every session, folds device state into
// the stored profiles, and releases all models. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.closing) })

	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.devices))
	for _, e := range m.devices {
		if e.sess != nil {
			sessions = append(sessions, e.sess)
		}
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.devices {
		m.foldProfileLocked(e)
		e.model.Close()
		delete(m.devices, key)
	}
	return nil
}

// run is the manager loop: periodic rescans, grace expiry, and
// session phase handling.
func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RescanInterval)
	defer ticker.Stop()

	m.rescan()
	for {
		select {
		case <-m.closing:
			return
		case <-ticker.C:
			m.rescan()
			m.expireRetained()
		case ev := <-m.phaseCh:
			m.handlePhase(ev)
		}
	}
}

// rescan reconciles the tracked set against one bus enumeration.
func (m *Manager) rescan() {
	infos, err := m.bus.Enumerate()
	if err != nil {
		m.logger.Warn("enumeration failed", "error", err)
		return
	}

	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		key := info.Identity.String()
		seen[key] = true

		m.mu.Lock()
		e, ok := m.devices[key]
		live := ok && e.sess != nil
		m.mu.Unlock()

		if !live {
			m.attach(info)
		}
	}

	// Sessions whose identity vanished from the bus die on their own
	// transport errors, but a quiet device with a dead cable may not:
	// close them here so the grace clock starts. The sweep also
	// synthesizes any phase event a full queue dropped.
	m.mu.Lock()
	var missed []phaseEvent
	var orphans []*session.Session
	for key, e := range m.devices {
		if e.sess == nil {
			continue
		}
		switch e.sess.Phase() {
		case session.PhaseClosed:
			missed = append(missed, phaseEvent{key: key, phase: session.PhaseClosed})
		case session.PhaseReady:
			if !e.adopted {
				missed = append(missed, phaseEvent{key: key, phase: session.PhaseReady})
			}
		}
		if !seen[key] {
			orphans = append(orphans, e.sess)
		}
	}
	m.mu.Unlock()

	for _, ev := range missed {
		m.handlePhase(ev)
	}
	for _, s := range orphans {
		m.wg.Add(1)
		go func(s *session.Session) {
			defer m.wg.Done()
			s.Close()
		}(s)
	}
}

// attach opens a transport and starts a session, reusing a retained
// model when the identity was seen before.
func (m *Manager) attach(info transport.DeviceInfo) {
	key := info.Identity.String()

	tr, err := m.bus.Open(info)
	if err != nil {
		// Busy covers another process holding the claim; both that
		// and a vanished device resolve on a later rescan.
		m.logger.Warn("open failed", "device", info.String(), "error", err)
		return
	}

	scfg := m.cfg.Session
	scfg.Logger = m.logger
	scfg.EventLog = m.events
	scfg.OnPhase = func(p session.Phase) {
		select {
		case m.phaseCh <- phaseEvent{key: key, phase: p}:
		default:
			// The rescan loop catches anything a full queue drops.
		}
	}
	sess := session.New(tr, m.entryModel(key, info), scfg)

	m.mu.Lock()
	e := m.devices[key]
	e.info = info
	e.expiry = time.Time{}
	e.sess = sess
	m.mu.Unlock()

	m.logger.Info("device attached", "device", info.String())
	m.logDeviceState(info, "", "attached")
	m.emit(Event{Kind: EventAttached, Info: info})
	sess.Start()
}

// entryModel returns the device's model, creating the entry on first
// sight so versions stay monotonic across reconnects.
func (m *Manager) entryModel(key string, info transport.DeviceInfo) *state.Model {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.devices[key]
	if !ok {
		e = &entry{info: info, model: state.NewModel()}
		m.devices[key] = e
	}
	return e.model
}

// expireRetained purges retained models whose grace period has lapsed.
func (m *Manager) expireRetained() {
	now := time.Now()

	m.mu.Lock()
	var purged []transport.DeviceInfo
	for key, e := range m.devices {
		if e.sess != nil || e.expiry.IsZero() || now.Before(e.expiry) {
			continue
		}
		m.foldProfileLocked(e)
		e.model.Close()
		delete(m.devices, key)
		purged = append(purged, e.info)
	}
	m.mu.Unlock()

	for _, info := range purged {
		m.logger.Info("device removed", "device", info.String())
		m.logDeviceState(info, "lost", "removed")
		m.emit(Event{Kind: EventRemoved, Info: info})
	}
}

// handlePhase reacts to one session phase transition. The recorded
// session's live phase is checked so an event queued by a session that
// has since been replaced cannot disturb its successor.
func (m *Manager) handlePhase(ev phaseEvent) {
	m.mu.Lock()
	e, ok := m.devices[ev.key]
	if !ok || e.sess == nil {
		m.mu.Unlock()
		return
	}
	if live := e.sess.Phase(); ev.phase != live &&
		(ev.phase == session.PhaseClosed || ev.phase == session.PhaseReady) {
		m.mu.Unlock()
		return
	}
	info := e.info

	switch ev.phase {
	case session.PhaseReady:
		sess := e.sess
		first := !e.adopted
		var prof *profile.Profile
		if first {
			m.adoptProfileLocked(e)
			prof = e.profile.Clone()
		}
		m.mu.Unlock()

		if first {
			m.converge(sess, prof)
		}
		m.emit(Event{Kind: EventReady, Info: info})

	case session.PhaseDegraded:
		m.mu.Unlock()
		m.emit(Event{Kind: EventDegraded, Info: info})

	case session.PhaseClosed:
		m.foldProfileLocked(e)
		e.sess = nil
		// A reattach re-adopts, so the folded profile is reapplied.
		e.adopted = false
		e.expiry = time.Now().Add(m.cfg.GracePeriod)
		m.mu.Unlock()

		m.logger.Info("device lost", "device", info.String(),
			"grace", m.cfg.GracePeriod.String())
		m.logDeviceState(info, "attached", "lost")
		m.emit(Event{Kind: EventLost, Info: info})

	default:
		m.mu.Unlock()
	}
}

// adoptProfileLocked establishes the entry's profile when a session
// first reaches ready: the stored profile when one exists, else the
// profile folded on a previous detach, else the device's own reported
// state. Caller holds mu.
func (m *Manager) adoptProfileLocked(e *entry) {
	e.adopted = true
	serial := e.info.Identity.String()

	if m.cfg.Store != nil {
		stored, err := m.cfg.Store.Load(serial)
		if err != nil {
			m.logger.Warn("profile load failed", "device", serial, "error", err)
		}
		if stored != nil {
			e.profile = stored
			return
		}
	}
	if e.profile != nil {
		return
	}

	prof := profile.FromSnapshot(e.model.Snapshot())
	prof.Name = serial
	e.profile = prof
	m.saveProfileLocked(e)
}

// foldProfileLocked folds the device's last reported state into its
// profile so hardware changes survive a detach. Caller holds mu.
func (m *Manager) foldProfileLocked(e *entry) {
	if !e.adopted {
		return
	}
	snap := e.model.Snapshot()
	if len(snap.Fields) == 0 {
		return
	}
	name := e.profile.Name
	e.profile = profile.FromSnapshot(snap)
	e.profile.Name = name
	m.saveProfileLocked(e)
}

func (m *Manager) saveProfileLocked(e *entry) {
	if m.cfg.Store == nil || e.profile == nil {
		return
	}
	serial := e.info.Identity.String()
	if err := m.cfg.Store.Save(serial, e.profile); err != nil {
		m.logger.Warn("profile save failed", "device", serial, "error", err)
	}
}

// converge submits the commands that move the device to its profile.
func (m *Manager) converge(sess *session.Session, prof *profile.Profile) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		cmds := reconcile.Diff(prof, sess.Model().Snapshot())
		if len(cmds) == 0 {
			return
		}
		m.logger.Info("converging device",
			"device", sess.Info().String(),
			"commands", len(cmds))

		ctx, cancel := context.WithTimeout(context.Background(), convergeTimeout)
		defer cancel()
		if err := sess.Submit(ctx, cmds); err != nil {
			m.logger.Warn("convergence failed",
				"device", sess.Info().String(),
				"error", err)
		}
	}()
}

// SetField validates a mutation, records it in the device's profile,
// and submits the reconciler's commands to the session. The returned
// error is nil only once the device acknowledged every command.
func (m *Manager) SetField(ctx context.Context, device string, path state.Field, value any) error {
	m.mu.Lock()
	e := m.lookupLocked(device)
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", device, ErrUnknownDevice)
	}
	if e.sess == nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", device, ErrUnavailable)
	}
	sess := e.sess

	normalized, err := m.registry.Validate(path, value, e.model.Kind())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if e.profile == nil {
		// Mutation before the first poll completes. The entry is not
		// marked adopted, so first ready still loads the stored
		// profile.
		e.profile = profile.New()
		e.profile.Name = e.info.Identity.String()
	}
	if err := e.profile.Set(path, normalized); err != nil {
		m.mu.Unlock()
		return err
	}
	m.saveProfileLocked(e)
	cmds := reconcile.Diff(e.profile, e.model.Snapshot())
	m.mu.Unlock()

	return sess.Submit(ctx, cmds)
}

// Snapshot returns the device's current state. Retained devices are
// still readable during their grace period.
func (m *Manager) Snapshot(device string) (state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookupLocked(device)
	if e == nil {
		return state.Snapshot{}, fmt.Errorf("%s: %w", device, ErrUnknownDevice)
	}
	return e.model.Snapshot(), nil
}

// Watch registers a watcher on the device's model. The caller must
// close it.
func (m *Manager) Watch(device string) (*state.Watcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookupLocked(device)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", device, ErrUnknownDevice)
	}
	return e.model.Watch(), nil
}

// Devices lists every tracked device, ordered by identity.
func (m *Manager) Devices() []DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DeviceStatus, 0, len(m.devices))
	for _, e := range m.devices {
		st := DeviceStatus{
			Info:     e.info,
			Kind:     e.model.Kind(),
			Phase:    session.PhaseClosed,
			Retained: e.sess == nil,
			Version:  e.model.Version(),
		}
		if e.sess != nil {
			st.Phase = e.sess.Phase()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.Identity.String() < out[j].Info.Identity.String()
	})
	return out
}

// lookupLocked finds a device by serial, identity string, or path.
func (m *Manager) lookupLocked(device string) *entry {
	for key, e := range m.devices {
		if key == device || e.info.Identity.Serial == device || e.info.Identity.Path == device {
			return e
		}
	}
	return nil
}

func (m *Manager) emit(ev Event) {
	select {
	case <-m.closing:
		return
	default:
	}
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(ev)
	}
}

func (m *Manager) logDeviceState(info transport.DeviceInfo, old, new string) {
	m.events.Log(log.Event{
		Timestamp: time.Now(),
		Serial:    info.Identity.Serial,
		Product:   info.Product,
		Direction: log.DirectionOut,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: old,
			NewState: new,
		},
	})
}
