package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/manager"
	"github.com/mixdeck-audio/mixdeck-go/pkg/session"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
	"github.com/mixdeck-audio/mixdeck-go/pkg/version"
)

// DefaultRequestTimeout bounds the device round trip behind one request.
const DefaultRequestTimeout = 5 * time.Second

// shutdownFlushTimeout bounds terminal notification writes during
// connection teardown so a stalled client cannot hold up shutdown.
const shutdownFlushTimeout = time.Second

// DeviceService is the device-facing surface the server exposes over
// the socket. *manager.Manager satisfies it.
type DeviceService interface {
	Devices() []manager.DeviceStatus
	Snapshot(device string) (state.Snapshot, error)
	Watch(device string) (*state.Watcher, error)
	SetField(ctx context.Context, device string, path state.Field, value any) error
}

var _ DeviceService = (*manager.Manager)(nil)

// ServerConfig carries the server options. The zero value listens on
// DefaultSocketPath with default limits.
type ServerConfig struct {
	// SocketPath is the unix socket to listen on.
	SocketPath string

	// MaxFrame caps accepted frame sizes. Defaults to DefaultMaxFrame.
	MaxFrame int

	// RequestTimeout bounds the device round trip behind one request.
	// Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Logger receives server log output. Defaults to slog.Default().
	Logger *slog.Logger

	// EventLog receives client lifecycle events. Defaults to no logging.
	EventLog log.Logger
}

func (cfg ServerConfig) withDefaults() ServerConfig {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = DefaultMaxFrame
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EventLog == nil {
		cfg.EventLog = log.NoopLogger{}
	}
	return cfg
}

// Server accepts local clients on a unix socket and serves requests
// against a DeviceService. Each connection gets one read loop, so
// requests from a single client are handled in order.
type Server struct {
	svc    DeviceService
	cfg    ServerConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ln      net.Listener
	conns   map[string]*serverConn
	started bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer creates a server fronting svc. Call Start to begin
// accepting connections.
func NewServer(svc DeviceService, cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		svc:    svc,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "ipc"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*serverConn),
	}
}

// Start binds the socket and begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	ln, err := listenUnix(s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("listening", "socket", s.cfg.SocketPath)

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Close stops accepting, sends terminal notifications on open
// subscriptions, and tears down all connections. Safe to call more
// than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		ln := s.ln
		conns := make([]*serverConn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		for _, c := range conns {
			c.shutdown(ReasonServerShutdown)
		}
		s.wg.Wait()
		os.Remove(s.cfg.SocketPath)

		s.logger.Info("stopped")
	})
	return nil
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

// listenUnix binds path, clearing a stale socket file left behind by
// a previous daemon if nothing is accepting on it.
func listenUnix(path string) (net.Listener, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}
	conn, derr := net.DialTimeout("unix", path, 250*time.Millisecond)
	if derr == nil {
		conn.Close()
		return nil, fmt.Errorf("socket in use: %w", err)
	}
	if rerr := os.Remove(path); rerr != nil {
		return nil, err
	}
	return net.Listen("unix", path)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()

	c := &serverConn{
		id:     uuid.New().String(),
		conn:   nc,
		reader: NewFrameReaderWithMaxSize(nc, uint32(s.cfg.MaxFrame)),
		writer: NewFrameWriterWithMaxSize(nc, uint32(s.cfg.MaxFrame)),
		srv:    s,
		subs:   make(map[uint32]*subscription),
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	s.logger.Info("client connected", "conn", c.id)
	s.logClient(c.id, "", "connected")

	c.readLoop()
	c.shutdown(ReasonNone)

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	s.logger.Info("client disconnected", "conn", c.id)
	s.logClient(c.id, "connected", "disconnected")
}

func (s *Server) logClient(id, oldState, newState string) {
	s.cfg.EventLog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerIPC,
		Category:  log.CategoryState,
		Client:    id,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityClient,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// serverConn is one accepted client connection.
type serverConn struct {
	id     string
	conn   net.Conn
	reader *FrameReader
	writer *FrameWriter
	srv    *Server

	mu      sync.Mutex
	subs    map[uint32]*subscription
	nextSub uint32
	closed  bool

	closeOnce sync.Once
	subWG     sync.WaitGroup
}

// subscription is one live watch on a device, owned by the sender
// goroutine that drains its watcher.
type subscription struct {
	id      uint32
	device  string
	watcher *state.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	reason Reason
}

// finish records the terminal reason and wakes the sender. The first
// reason wins; ReasonNone suppresses the terminal notification.
func (sub *subscription) finish(reason Reason) {
	sub.mu.Lock()
	if sub.reason == ReasonNone {
		sub.reason = reason
	}
	sub.mu.Unlock()
	sub.cancel()
}

func (sub *subscription) finishReason() Reason {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.reason
}

func (c *serverConn) readLoop() {
	for {
		data, err := c.reader.ReadFrame()
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				c.srv.logger.Debug("read failed", "conn", c.id, "error", err)
			}
			return
		}

		req, err := DecodeRequest(data)
		if err != nil {
			// Answer with the correlation ID when one can be salvaged,
			// otherwise there is nothing to correlate a reply to.
			var peek struct {
				ID uint32 `cbor:"1,keyasint"`
			}
			if Unmarshal(data, &peek) == nil && peek.ID != NotificationID {
				c.fail(peek.ID, StatusBadRequest, err)
			} else {
				c.srv.logger.Debug("dropping malformed request", "conn", c.id, "error", err)
			}
			continue
		}

		c.handle(req)
	}
}

// shutdown finishes all subscriptions with the given reason, waits for
// the senders to flush their terminal notifications, and closes the
// connection. Safe to call more than once; the first reason wins.
func (c *serverConn) shutdown(reason Reason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := make([]*subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.mu.Unlock()

		c.conn.SetWriteDeadline(time.Now().Add(shutdownFlushTimeout))
		for _, sub := range subs {
			sub.finish(reason)
		}
		c.subWG.Wait()
		c.conn.Close()
	})
}

func (c *serverConn) handle(req *Request) {
	switch req.Op {
	case OpListDevices:
		c.handleListDevices(req)
	case OpGetSnapshot:
		c.handleGetSnapshot(req)
	case OpSetField:
		c.handleSetField(req)
	case OpSubscribe:
		c.handleSubscribe(req)
	case OpUnsubscribe:
		c.handleUnsubscribe(req)
	case OpPing:
		c.reply(&Response{ID: req.ID, Status: StatusOK})
	case OpDaemonInfo:
		c.reply(&Response{ID: req.ID, Status: StatusOK, Info: &DaemonInfo{
			Name:     version.Name,
			Version:  version.Version,
			Protocol: version.Protocol,
		}})
	default:
		c.fail(req.ID, StatusBadRequest, fmt.Errorf("unknown operation %d", req.Op))
	}
}

func (c *serverConn) handleListDevices(req *Request) {
	devices := c.srv.svc.Devices()
	out := make([]DeviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceSummary{
			Device:   d.Info.Identity.String(),
			Product:  d.Info.Product,
			Kind:     d.Kind.String(),
			Phase:    d.Phase.String(),
			Retained: d.Retained,
			Version:  d.Version,
		})
	}
	c.reply(&Response{ID: req.ID, Status: StatusOK, Devices: out})
}

func (c *serverConn) handleGetSnapshot(req *Request) {
	if req.Device == "" {
		c.fail(req.ID, StatusBadRequest, errors.New("get-snapshot requires a device"))
		return
	}
	snap, err := c.srv.svc.Snapshot(req.Device)
	if err != nil {
		c.fail(req.ID, statusFromError(err), err)
		return
	}
	c.reply(&Response{ID: req.ID, Status: StatusOK, Snapshot: wireSnapshot(req.Device, snap)})
}

func (c *serverConn) handleSetField(req *Request) {
	if req.Device == "" || req.Path == "" {
		c.fail(req.ID, StatusBadRequest, errors.New("set-field requires device and path"))
		return
	}
	ctx, cancel := context.WithTimeout(c.srv.ctx, c.srv.cfg.RequestTimeout)
	defer cancel()

	if err := c.srv.svc.SetField(ctx, req.Device, state.Field(req.Path), req.Value); err != nil {
		c.fail(req.ID, statusFromError(err), err)
		return
	}
	c.reply(&Response{ID: req.ID, Status: StatusOK})
}

func (c *serverConn) handleSubscribe(req *Request) {
	if req.Device == "" {
		c.fail(req.ID, StatusBadRequest, errors.New("subscribe requires a device"))
		return
	}
	w, err := c.srv.svc.Watch(req.Device)
	if err != nil {
		c.fail(req.ID, statusFromError(err), err)
		return
	}

	sub, ok := c.addSub(req.Device, w)
	if !ok {
		w.Close()
		return
	}

	// The watcher is registered before the snapshot is taken, so any
	// change after this point reaches the client as a delta. The
	// priming snapshot goes out in the response; the sender starts
	// only after the reply is on the wire, keeping the first delta
	// behind the snapshot.
	prime := &Snapshot{Device: req.Device, Fields: map[string]any{}}
	if snap, err := c.srv.svc.Snapshot(req.Device); err == nil {
		prime = wireSnapshot(req.Device, snap)
	}
	c.reply(&Response{ID: req.ID, Status: StatusOK, Sub: sub.id, Snapshot: prime})

	c.srv.logger.Debug("subscription opened", "conn", c.id, "device", req.Device, "sub", sub.id)

	go c.runSubscription(sub)
}

func (c *serverConn) handleUnsubscribe(req *Request) {
	if req.Sub == 0 {
		c.fail(req.ID, StatusBadRequest, errors.New("unsubscribe requires a subscription id"))
		return
	}
	c.mu.Lock()
	sub, ok := c.subs[req.Sub]
	c.mu.Unlock()
	if !ok {
		c.fail(req.ID, StatusNotFound, fmt.Errorf("no subscription %d", req.Sub))
		return
	}
	sub.finish(ReasonUnsubscribed)
	c.reply(&Response{ID: req.ID, Status: StatusOK})
}

// addSub registers a new subscription unless the connection is
// already shutting down.
func (c *serverConn) addSub(device string, w *state.Watcher) (*subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	c.nextSub++
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id:      c.nextSub,
		device:  device,
		watcher: w,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.subs[sub.id] = sub
	// Counted here, under the same lock shutdown uses to set closed,
	// so the sender is always covered by shutdown's wait.
	c.subWG.Add(1)
	return sub, true
}

func (c *serverConn) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// runSubscription drains one watcher onto the wire until the device
// model closes, the subscription is finished, or the write fails.
func (c *serverConn) runSubscription(sub *subscription) {
	defer c.subWG.Done()
	defer sub.watcher.Close()
	defer c.removeSub(sub.id)

	for {
		change, err := sub.watcher.Next(sub.ctx)
		if err != nil {
			reason := sub.finishReason()
			if reason == ReasonNone && errors.Is(err, state.ErrWatcherClosed) {
				reason = ReasonDeviceRemoved
			}
			// Deregister before the terminal goes out so the id is
			// already dead when the client reacts to it.
			c.removeSub(sub.id)
			if reason != ReasonNone {
				c.sendNotification(&Notification{
					Sub:    sub.id,
					Device: sub.device,
					Done:   reason,
				})
			}
			return
		}

		n := &Notification{
			Sub:     sub.id,
			Device:  sub.device,
			Version: change.Version,
			Fields:  fieldsToWire(change.Fields),
		}
		if err := c.sendNotification(n); err != nil {
			return
		}
	}
}

func (c *serverConn) sendNotification(n *Notification) error {
	data, err := EncodeNotification(n)
	if err != nil {
		c.srv.logger.Error("encode notification", "error", err)
		return err
	}
	return c.writer.WriteFrame(data)
}

func (c *serverConn) reply(resp *Response) {
	data, err := EncodeResponse(resp)
	if err != nil {
		c.srv.logger.Error("encode response", "error", err)
		return
	}
	if err := c.writer.WriteFrame(data); err != nil {
		c.srv.logger.Debug("write failed", "conn", c.id, "error", err)
	}
}

func (c *serverConn) fail(id uint32, status Status, err error) {
	resp := &Response{ID: id, Status: status}
	if err != nil {
		resp.Error = err.Error()
	}
	c.reply(resp)
}

// statusFromError maps service errors onto wire statuses.
func statusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, manager.ErrUnknownDevice):
		return StatusNotFound
	case errors.Is(err, manager.ErrUnavailable):
		return StatusUnavailable
	case state.IsRejected(err) || errors.Is(err, session.ErrRejected):
		return StatusRejected
	case errors.Is(err, session.ErrBusy):
		return StatusBusy
	case errors.Is(err, transport.ErrTimeout),
		errors.Is(err, transport.ErrDisconnected),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return StatusUnavailable
	default:
		return StatusInternal
	}
}

func wireSnapshot(device string, snap state.Snapshot) *Snapshot {
	return &Snapshot{
		Device:  device,
		Version: snap.Version,
		Kind:    snap.Kind.String(),
		Fields:  fieldsToWire(snap.Fields),
	}
}

func fieldsToWire(fields map[state.Field]any) map[string]any {
	out := make(map[string]any, len(fields))
	for f, v := range fields {
		out[string(f)] = v
	}
	return out
}
