package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultDialTimeout bounds the initial socket connect.
const DefaultDialTimeout = 5 * time.Second

var (
	// ErrClientClosed is returned for requests on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionClosed is returned when the daemon hung up.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSubscriptionClosed is returned by Subscription.Next once the
	// stream has ended. Reason reports why.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// ClientConfig carries client options. The zero value connects to
// DefaultSocketPath.
type ClientConfig struct {
	// SocketPath is the daemon socket to connect to.
	SocketPath string

	// MaxFrame caps accepted frame sizes. Defaults to DefaultMaxFrame.
	MaxFrame int

	// Timeout bounds each request when the caller's context carries no
	// deadline. Defaults to DefaultRequestTimeout.
	Timeout time.Duration

	// Logger receives client debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = DefaultMaxFrame
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Client is a connection to the daemon socket. One read loop demuxes
// responses to waiting calls and notifications to subscriptions, so a
// client is safe for concurrent use.
type Client struct {
	conn    net.Conn
	reader  *FrameReader
	writer  *FrameWriter
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	subs    map[uint32]*Subscription
	nextID  uint32
	closed  bool

	closeOnce sync.Once
	readDone  chan struct{}
	readErr   error
}

// pendingCall is one in-flight request. For Subscribe, sub carries the
// subscription the read loop registers before delivering the response.
type pendingCall struct {
	ch  chan *Response
	sub *Subscription
}

// Dial connects to the daemon socket at path.
func Dial(socketPath string) (*Client, error) {
	return DialConfig(ClientConfig{SocketPath: socketPath})
}

// DialConfig connects with explicit options.
func DialConfig(cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()

	conn, err := net.DialTimeout("unix", cfg.SocketPath, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.SocketPath, err)
	}

	c := &Client{
		conn:     conn,
		reader:   NewFrameReaderWithMaxSize(conn, uint32(cfg.MaxFrame)),
		writer:   NewFrameWriterWithMaxSize(conn, uint32(cfg.MaxFrame)),
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		pending:  make(map[uint32]*pendingCall),
		subs:     make(map[uint32]*Subscription),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Open subscriptions end with
// ReasonNone. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
		<-c.readDone
	})
	return nil
}

// Ping checks that the daemon is answering.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, &Request{Op: OpPing}, nil)
	if err != nil {
		return err
	}
	return resp.Err()
}

// DaemonInfo returns the daemon's name, version, and protocol version.
func (c *Client) DaemonInfo(ctx context.Context) (*DaemonInfo, error) {
	resp, err := c.do(ctx, &Request{Op: OpDaemonInfo}, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Info == nil {
		return nil, errors.New("daemon info missing from response")
	}
	return resp.Info, nil
}

// ListDevices returns every device the daemon knows, including
// retained ones.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceSummary, error) {
	resp, err := c.do(ctx, &Request{Op: OpListDevices}, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// GetSnapshot returns the current state of one device.
func (c *Client) GetSnapshot(ctx context.Context, device string) (*Snapshot, error) {
	resp, err := c.do(ctx, &Request{Op: OpGetSnapshot, Device: device}, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Snapshot == nil {
		return nil, errors.New("snapshot missing from response")
	}
	return resp.Snapshot, nil
}

// SetField writes one field on one device and waits for the device to
// acknowledge it.
func (c *Client) SetField(ctx context.Context, device, path string, value any) error {
	resp, err := c.do(ctx, &Request{Op: OpSetField, Device: device, Path: path, Value: value}, nil)
	if err != nil {
		return err
	}
	return resp.Err()
}

// Subscribe opens a change stream for one device. The returned
// subscription's Snapshot holds the state the stream starts from;
// every later change arrives through Next.
func (c *Client) Subscribe(ctx context.Context, device string) (*Subscription, error) {
	sub := &Subscription{
		device: device,
		signal: make(chan struct{}, 1),
	}
	resp, err := c.do(ctx, &Request{Op: OpSubscribe, Device: device}, sub)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	// The read loop filled in the id and priming snapshot before it
	// delivered the response.
	return sub, nil
}

// Unsubscribe ends a subscription. The stream finishes with
// ReasonUnsubscribed.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	resp, err := c.do(ctx, &Request{Op: OpUnsubscribe, Sub: sub.ID()}, nil)
	if err != nil {
		return err
	}
	return resp.Err()
}

// do sends one request and waits for its response.
func (c *Client) do(ctx context.Context, req *Request, sub *Subscription) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.nextID++
	if c.nextID == NotificationID {
		c.nextID++
	}
	id := c.nextID
	pc := &pendingCall{ch: make(chan *Response, 1), sub: sub}
	c.pending[id] = pc
	c.mu.Unlock()

	req.ID = id
	data, err := EncodeRequest(req)
	if err != nil {
		c.forget(id)
		return nil, err
	}
	if err := c.writer.WriteFrame(data); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-pc.ch:
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.readDone:
		// The read loop may have delivered the response just before
		// the connection went down.
		select {
		case resp := <-pc.ch:
			return resp, nil
		default:
		}
		c.forget(id)
		return nil, c.connError()
	}
}

func (c *Client) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// connError describes why the connection is gone. Only valid after
// readDone is closed.
func (c *Client) connError() error {
	if c.readErr == nil || c.readErr == io.EOF || errors.Is(c.readErr, net.ErrClosed) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("connection lost: %w", c.readErr)
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		data, err := c.reader.ReadFrame()
		if err != nil {
			c.readErr = err
			c.failSubscriptions()
			return
		}

		if IsNotification(data) {
			n, err := DecodeNotification(data)
			if err != nil {
				c.logger.Debug("dropping malformed notification", "error", err)
				continue
			}
			c.deliver(n)
			continue
		}

		resp, err := DecodeResponse(data)
		if err != nil {
			c.logger.Debug("dropping malformed response", "error", err)
			continue
		}
		c.route(resp)
	}
}

// route hands a response to its waiting call. Successful Subscribe
// responses register the subscription first, so a notification right
// behind the response always finds it.
func (c *Client) route(resp *Response) {
	c.mu.Lock()
	pc, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
		if pc.sub != nil && resp.Status == StatusOK && resp.Sub != 0 {
			pc.sub.id = resp.Sub
			pc.sub.snapshot = resp.Snapshot
			c.subs[resp.Sub] = pc.sub
		}
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response with unknown id", "id", resp.ID)
		return
	}
	pc.ch <- resp
}

func (c *Client) deliver(n *Notification) {
	c.mu.Lock()
	sub, ok := c.subs[n.Sub]
	if ok && n.Done != ReasonNone {
		delete(c.subs, n.Sub)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("notification for unknown subscription", "sub", n.Sub)
		return
	}
	if n.Done != ReasonNone {
		sub.close(n.Done)
		return
	}
	sub.push(n)
}

// failSubscriptions ends every open subscription after the connection
// is gone. No terminal reason arrived, so Reason stays ReasonNone.
func (c *Client) failSubscriptions() {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[uint32]*Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.close(ReasonNone)
	}
}

// Update is one batch of field changes from a subscription. Changes
// the consumer has not collected yet coalesce into the next Update.
type Update struct {
	// Device is the device the changes belong to.
	Device string

	// Version is the model version after the newest change folded in.
	Version uint64

	// Fields maps changed paths to their new values.
	Fields map[string]any
}

// Subscription is one live change stream. Consume it with Next; the
// stream ends when Next returns ErrSubscriptionClosed.
type Subscription struct {
	device string

	// id and snapshot are set by the read loop before Subscribe
	// returns and never change afterwards.
	id       uint32
	snapshot *Snapshot

	mu      sync.Mutex
	pending map[string]any
	version uint64
	done    bool
	reason  Reason
	signal  chan struct{}
}

// ID returns the daemon-assigned subscription id.
func (s *Subscription) ID() uint32 {
	return s.id
}

// Device returns the device the subscription follows.
func (s *Subscription) Device() string {
	return s.device
}

// Snapshot returns the priming snapshot the stream starts from.
func (s *Subscription) Snapshot() *Snapshot {
	return s.snapshot
}

// Next blocks until changes arrive, the stream ends, or ctx is done.
// Changes that piled up since the last call arrive as one Update.
func (s *Subscription) Next(ctx context.Context) (*Update, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			u := &Update{
				Device:  s.device,
				Version: s.version,
				Fields:  s.pending,
			}
			s.pending = nil
			s.mu.Unlock()
			return u, nil
		}
		if s.done {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

// Reason reports why the stream ended. ReasonNone means the connection
// dropped without a terminal notification. Valid once Next has
// returned ErrSubscriptionClosed.
func (s *Subscription) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscription) push(n *Notification) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if s.pending == nil {
		s.pending = make(map[string]any, len(n.Fields))
	}
	for k, v := range n.Fields {
		s.pending[k] = v
	}
	if n.Version > s.version {
		s.version = n.Version
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) close(reason Reason) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.reason = reason
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
