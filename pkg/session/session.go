package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/protocol"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
)

// Session errors.
var (
	// ErrRejected reports a command the device refused.
	ErrRejected = errors.New("command rejected by device")

	// ErrBusy reports a command the device could not service.
	ErrBusy = errors.New("device busy")
)

// Phase is the session lifecycle state.
type Phase uint8

const (
	// PhaseConnecting covers the initial full poll that populates the
	// state model.
	PhaseConnecting Phase = iota

	// PhaseReady serves periodic polling and command dispatch.
	PhaseReady

	// PhaseDegraded reports a device that stopped answering. Polling
	// continues; a successful poll restores PhaseReady.
	PhaseDegraded

	// PhaseClosed is terminal. The transport is released and all
	// pending work has failed with transport.ErrDisconnected.
	PhaseClosed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	case PhaseDegraded:
		return "degraded"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Policy defaults.
const (
	// DefaultCommandTimeout bounds one command attempt, send to ack.
	DefaultCommandTimeout = 250 * time.Millisecond

	// DefaultRetries is the number of resends after a timed-out attempt.
	DefaultRetries = 2

	// DefaultPollInterval is the spacing of full state polls.
	DefaultPollInterval = 333 * time.Millisecond

	// DefaultPollFailLimit is the number of consecutive failed polls
	// that degrade the session.
	DefaultPollFailLimit = 3
)

// receiveTimeout bounds one blocking read on the transport so the
// pump notices a closed transport promptly.
const receiveTimeout = 200 * time.Millisecond

// Config carries the session policy knobs. The zero value is usable;
// zero fields take the package defaults.
type Config struct {
	// CommandTimeout bounds one command attempt, send to ack.
	CommandTimeout time.Duration

	// Retries is the number of resends after a timed-out attempt.
	// Zero means the default; a negative value disables resends.
	Retries int

	// RetryBackoff paces resends of a timed-out command.
	RetryBackoff BackoffConfig

	// PollInterval is the spacing of full state polls.
	PollInterval time.Duration

	// PollFailLimit is the number of consecutive failed polls that
	// degrade the session.
	PollFailLimit int

	// Logger receives application log lines. Defaults to slog.Default().
	Logger *slog.Logger

	// EventLog receives protocol events. Defaults to the noop logger.
	EventLog log.Logger

	// OnPhase, when set, is called after every phase transition. It
	// runs on the session's goroutine: it must return promptly and
	// must not call back into the session.
	OnPhase func(Phase)
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollFailLimit <= 0 {
		c.PollFailLimit = DefaultPollFailLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.EventLog == nil {
		c.EventLog = log.NoopLogger{}
	}
	return c
}

// submission is one ordered batch of commands awaiting dispatch.
type submission struct {
	cmds   []state.Command
	result chan error
}

func (sub *submission) finish(err error) {
	sub.result <- err
}

// Session drives one device. It is the only writer of its state
// model: the model is updated from acknowledged responses and poll
// data, never speculatively.
type Session struct {
	info  transport.DeviceInfo
	tr    transport.Transport
	model *state.Model
	cfg   Config

	logger *slog.Logger
	events log.Logger

	submitCh  chan *submission
	telemetry chan *protocol.Telemetry
	fatal     chan error

	pendingMu sync.Mutex
	pending   map[uint16]chan *protocol.Ack

	mu      sync.Mutex
	phase   Phase
	started bool

	closing   chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	// seq is touched only by the run loop.
	seq uint16
}

// New wraps an open transport in a session. The transport belongs to
// the session from here on and is closed with it. Start begins the
// connection handshake.
func New(tr transport.Transport, model *state.Model, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		info:      tr.Info(),
		tr:        tr,
		model:     model,
		cfg:       cfg,
		logger:    cfg.Logger,
		events:    cfg.EventLog,
		submitCh:  make(chan *submission, 8),
		telemetry: make(chan *protocol.Telemetry, 16),
		fatal:     make(chan error, 1),
		pending:   make(map[uint16]chan *protocol.Ack),
		phase:     PhaseConnecting,
		closing:   make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Info returns the identity of the device this session serves.
func (s *Session) Info() transport.DeviceInfo {
	return s.info
}

// Model returns the session's state model.
func (s *Session) Model() *state.Model {
	return s.model
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start launches the receive pump and the run loop. Calling Start
// more than once, or after Close, has no effect.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.receivePump()
	go s.run()
}

// Close shuts the session down and waits for its goroutines to
// finish. Queued and in-flight exchanges fail with
// transport.ErrDisconnected. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.started {
		s.started = true
		s.mu.Unlock()
		s.teardown()
		return nil
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closing) })
	<-s.stopped
	return nil
}

// Submit dispatches commands to the device in order and returns the
// first failure. The model only reflects values the device
// acknowledged. Cancelling ctx abandons the wait, not a dispatch
// already in progress.
func (s *Session) Submit(ctx context.Context, cmds []state.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	sub := &submission{cmds: cmds, result: make(chan error, 1)}

	select {
	case s.submitCh <- sub:
	case <-s.closing:
		return fmt.Errorf("submit: %w", transport.ErrDisconnected)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.result:
		return err
	case <-s.stopped:
		// Teardown may have resolved the submission concurrently.
		select {
		case err := <-sub.result:
			return err
		default:
		}
		return fmt.Errorf("submit: %w", transport.ErrDisconnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the session's single logical worker: it performs the initial
// poll, then serializes periodic polling, command dispatch, and
// telemetry application.
func (s *Session) run() {
	defer s.teardown()

	if err := s.poll(); err != nil {
		s.logger.Error("initial poll failed",
			"device", s.info.Identity.String(),
			"error", err)
		s.logError(log.LayerSession, "connect", err)
		return
	}
	s.setPhase(PhaseReady, "initial poll")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	pollFails := 0
	for {
		select {
		case <-s.closing:
			return

		case err := <-s.fatal:
			s.logger.Warn("transport failed",
				"device", s.info.Identity.String(),
				"error", err)
			s.logError(log.LayerTransport, "receive", err)
			return

		case tel := <-s.telemetry:
			s.applyTelemetry(tel)

		case sub := <-s.submitCh:
			err := s.dispatch(sub.cmds)
			sub.finish(err)
			if errors.Is(err, transport.ErrDisconnected) {
				return
			}

		case <-ticker.C:
			if err := s.poll(); err != nil {
				if errors.Is(err, transport.ErrDisconnected) {
					return
				}
				pollFails++
				s.logger.Warn("poll failed",
					"device", s.info.Identity.String(),
					"consecutive", pollFails,
					"error", err)
				if pollFails >= s.cfg.PollFailLimit {
					s.setPhase(PhaseDegraded, "poll failures")
				}
			} else {
				pollFails = 0
				s.setPhase(PhaseReady, "poll succeeded")
			}
		}
	}
}

// teardown runs exactly once when the run loop exits (or when an
// unstarted session is closed): it releases the transport, fails
// queued submissions, and moves the session to its terminal phase.
func (s *Session) teardown() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.tr.Close()

	for {
		select {
		case sub := <-s.submitCh:
			sub.finish(fmt.Errorf("session closing: %w", transport.ErrDisconnected))
		default:
			s.setPhase(PhaseClosed, "session closed")
			close(s.stopped)
			return
		}
	}
}

// poll refreshes the model with a full state report.
func (s *Session) poll() error {
	ack, err := s.exchange(protocol.GetStatus{})
	if err != nil {
		return err
	}
	if ack.Status != protocol.AckOK {
		return fmt.Errorf("status poll answered %s", ack.Status)
	}
	if ack.Blob == nil {
		return fmt.Errorf("status poll answered without state: %w", protocol.ErrProtocol)
	}
	return s.applyBlob(ack.Blob)
}

// dispatch sends a command batch in order, applying each acknowledged
// value to the model.
func (s *Session) dispatch(cmds []state.Command) error {
	for _, cmd := range cmds {
		wire, err := protocol.CommandForField(cmd.Path, cmd.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Path, err)
		}

		ack, err := s.exchange(wire)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				s.setPhase(PhaseDegraded, "command retries exhausted")
			}
			return fmt.Errorf("%s: %w", cmd.Path, err)
		}

		switch ack.Status {
		case protocol.AckOK:
			if field, value, ok := wire.Field(); ok {
				s.model.Apply(state.Delta{field: value})
			}
		case protocol.AckRejected:
			return fmt.Errorf("%s: %w", cmd.Path, ErrRejected)
		case protocol.AckBusy:
			return fmt.Errorf("%s: %w", cmd.Path, ErrBusy)
		default:
			return fmt.Errorf("%s: ack status %s", cmd.Path, ack.Status)
		}
	}
	return nil
}

// exchange sends one command and waits for its acknowledgement.
// Timed-out attempts are resent with the same sequence number, so a
// late acknowledgement of an earlier attempt still resolves the
// exchange.
func (s *Session) exchange(cmd protocol.Command) (*protocol.Ack, error) {
	seq := s.nextSeq()
	report, err := protocol.Encode(cmd, seq)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Ack, 1)
	s.pendingMu.Lock()
	s.pending[seq] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, seq)
		s.pendingMu.Unlock()
	}()

	field, value, _ := cmd.Field()
	backoff := NewBackoffWithConfig(s.cfg.RetryBackoff)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff.Next()):
			case <-s.closing:
				return nil, fmt.Errorf("exchange seq %d: %w", seq, transport.ErrDisconnected)
			}
		}

		s.events.Log(log.Event{
			Timestamp: time.Now(),
			Serial:    s.info.Identity.Serial,
			Direction: log.DirectionOut,
			Layer:     log.LayerProtocol,
			Category:  log.CategoryCommand,
			Command: &log.CommandEvent{
				Seq:     seq,
				Opcode:  cmd.Opcode(),
				Field:   string(field),
				Value:   value,
				Attempt: attempt,
			},
		})

		if err := s.tr.Send(report); err != nil {
			return nil, fmt.Errorf("exchange seq %d: %w", seq, err)
		}
		start := time.Now()

		timer := time.NewTimer(s.cfg.CommandTimeout)
		select {
		case ack := <-ch:
			timer.Stop()
			rtt := time.Since(start)
			s.events.Log(log.Event{
				Timestamp: time.Now(),
				Serial:    s.info.Identity.Serial,
				Direction: log.DirectionIn,
				Layer:     log.LayerProtocol,
				Category:  log.CategoryAck,
				Ack: &log.AckEvent{
					Seq:       ack.Seq,
					Opcode:    ack.Command,
					Status:    ack.Status,
					RoundTrip: &rtt,
				},
			})
			return ack, nil

		case <-timer.C:
			s.logger.Debug("command timed out",
				"device", s.info.Identity.String(),
				"seq", seq,
				"opcode", cmd.Opcode().String(),
				"attempt", attempt)
			if attempt >= s.cfg.Retries {
				return nil, fmt.Errorf("seq %d after %d attempts: %w",
					seq, attempt+1, transport.ErrTimeout)
			}

		case <-s.closing:
			timer.Stop()
			return nil, fmt.Errorf("exchange seq %d: %w", seq, transport.ErrDisconnected)
		}
	}
}

// receivePump reads reports off the transport, resolves pending
// exchanges by sequence number, and queues telemetry for the run
// loop. It exits when the transport dies.
func (s *Session) receivePump() {
	for {
		report, err := s.tr.Receive(receiveTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			select {
			case s.fatal <- err:
			default:
			}
			return
		}

		in, err := protocol.Decode(report)
		if err != nil {
			// Malformed frames are dropped without touching the model.
			s.logger.Debug("dropping malformed report",
				"device", s.info.Identity.String(),
				"size", len(report),
				"error", err)
			s.events.Log(log.Event{
				Timestamp: time.Now(),
				Serial:    s.info.Identity.Serial,
				Direction: log.DirectionIn,
				Layer:     log.LayerProtocol,
				Category:  log.CategoryError,
				Report: &log.ReportEvent{
					Size:      len(report),
					Data:      report[:min(len(report), 64)],
					Truncated: len(report) > 64,
				},
				Error: &log.ErrorEvent{
					Layer:   log.LayerProtocol,
					Message: err.Error(),
					Context: "decode",
				},
			})
			continue
		}

		switch msg := in.(type) {
		case *protocol.Ack:
			s.resolve(msg)
		case *protocol.Telemetry:
			select {
			case s.telemetry <- msg:
			default:
				// Queue full; the next poll reconverges.
				s.logger.Debug("telemetry queue full",
					"device", s.info.Identity.String())
			}
		}
	}
}

// resolve hands an acknowledgement to the exchange waiting on its
// sequence number.
func (s *Session) resolve(ack *protocol.Ack) {
	s.pendingMu.Lock()
	ch, ok := s.pending[ack.Seq]
	s.pendingMu.Unlock()
	if !ok {
		// Late ack for an abandoned exchange.
		s.logger.Debug("unmatched ack",
			"device", s.info.Identity.String(),
			"seq", ack.Seq,
			"status", ack.Status.String())
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// applyTelemetry merges a telemetry report into the model.
func (s *Session) applyTelemetry(tel *protocol.Telemetry) {
	delta, err := tel.Blob.Fields()
	if err != nil {
		s.logger.Debug("dropping telemetry",
			"device", s.info.Identity.String(),
			"error", err)
		s.logError(log.LayerProtocol, "telemetry", err)
		return
	}

	s.events.Log(log.Event{
		Timestamp: time.Now(),
		Serial:    s.info.Identity.Serial,
		Direction: log.DirectionIn,
		Layer:     log.LayerProtocol,
		Category:  log.CategoryTelemetry,
		Telemetry: &log.TelemetryEvent{Full: tel.Full, Fields: len(delta)},
	})

	if len(delta) > 0 {
		s.model.Apply(delta)
	}
}

// applyBlob merges a full state blob into the model.
func (s *Session) applyBlob(blob *protocol.Blob) error {
	delta, err := blob.Fields()
	if err != nil {
		return err
	}
	if len(delta) > 0 {
		s.model.Apply(delta)
	}
	return nil
}

// setPhase records a phase transition and notifies the callback.
// Closed is terminal; transitions out of it are ignored.
func (s *Session) setPhase(next Phase, reason string) {
	s.mu.Lock()
	prev := s.phase
	if prev == next || prev == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.phase = next
	onPhase := s.cfg.OnPhase
	s.mu.Unlock()

	s.logger.Info("session phase",
		"device", s.info.Identity.String(),
		"from", prev.String(),
		"to", next.String(),
		"reason", reason)

	s.events.Log(log.Event{
		Timestamp: time.Now(),
		Serial:    s.info.Identity.Serial,
		Direction: log.DirectionOut,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})

	if onPhase != nil {
		onPhase(next)
	}
}

// nextSeq returns the next command sequence number. Sequence zero is
// reserved for telemetry frames; the counter skips it on wrap.
func (s *Session) nextSeq() uint16 {
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

func (s *Session) logError(layer log.Layer, context string, err error) {
	s.events.Log(log.Event{
		Timestamp: time.Now(),
		Serial:    s.info.Identity.Serial,
		Direction: log.DirectionIn,
		Layer:     layer,
		Category:  log.CategoryError,
		Error: &log.ErrorEvent{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}
