// Package mqtt mirrors managed devices onto an MQTT broker. The
// bridge publishes retained state values and device presence under a
// configurable topic prefix and accepts field writes on set topics,
// so home-automation stacks can follow and drive the mixer without
// speaking the daemon's socket protocol.
//
// Topic layout under the prefix:
//
//	<prefix>/daemon/status           daemon availability, retained
//	<prefix>/<serial>/status         device presence, retained
//	<prefix>/<serial>/state/<path>   one retained value per field
//	<prefix>/<serial>/set/<path>     inbound field writes
//
// Accepted set values come back through the state topics once the
// device has applied them; the bridge never acknowledges on the set
// topic itself.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mixdeck-audio/mixdeck-go/pkg/manager"
	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// ErrNotConnected is returned for publishes attempted while the broker
// session is down. The bridge logs and drops such publishes; the
// resync after the next connect repairs the retained topics.
var ErrNotConnected = errors.New("mqtt: not connected")

// DeviceService is the device surface the bridge mirrors. It is
// satisfied by *manager.Manager.
type DeviceService interface {
	Devices() []manager.DeviceStatus
	Snapshot(device string) (state.Snapshot, error)
	Watch(device string) (*state.Watcher, error)
	SetField(ctx context.Context, device string, path state.Field, value any) error
}

var _ DeviceService = (*manager.Manager)(nil)

// Config carries the bridge settings.
type Config struct {
	// Broker is the broker URL, for example tcp://localhost:1883.
	Broker string

	// ClientID identifies the daemon to the broker. Defaults to
	// "mixdeckd".
	ClientID string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// Prefix is the first segment of every topic the bridge touches.
	// Defaults to "mixdeck".
	Prefix string

	// QoS applies to every publish and subscription.
	QoS byte

	// Logger receives application log lines. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "mixdeckd"
	}
	if c.Prefix == "" {
		c.Prefix = "mixdeck"
	}
	if c.QoS > maxQoS {
		c.QoS = maxQoS
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Bridge is one broker session mirroring all managed devices.
type Bridge struct {
	svc    DeviceService
	cfg    Config
	logger *slog.Logger
	topics topics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// newClient is swapped by tests to run against a fake broker.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	client    pahomqtt.Client

	wake   chan struct{}
	resync atomic.Bool

	mu       sync.Mutex
	feeds    map[string]*feed
	presence map[string]string

	closeOnce sync.Once
}

// New builds a bridge over the given device service. Call Start to
// connect.
func New(svc DeviceService, cfg Config) *Bridge {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		svc:       svc,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "mqtt"),
		topics:    topics{prefix: cfg.Prefix},
		ctx:       ctx,
		cancel:    cancel,
		newClient: pahomqtt.NewClient,
		wake:      make(chan struct{}, 1),
		feeds:     make(map[string]*feed),
		presence:  make(map[string]string),
	}
}

// Start connects to the broker and begins mirroring. A broker that is
// unreachable does not fail the start: paho keeps retrying in the
// background and the connect handler finishes the setup once the
// session comes up.
func (b *Bridge) Start() error {
	opts := buildOptions(b.cfg, b.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { b.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.logger.Warn("broker connection lost", "broker", b.cfg.Broker, "error", err)
	})

	b.client = b.newClient(opts)

	token := b.client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: connect %s: %w", b.cfg.Broker, err)
		}
	} else {
		b.logger.Warn("broker not reachable, retrying in background", "broker", b.cfg.Broker)
	}

	b.wg.Add(1)
	go b.run()

	b.logger.Info("bridge started", "broker", b.cfg.Broker, "prefix", b.cfg.Prefix)
	return nil
}

// Close stops the feeds, publishes a graceful offline status, and
// disconnects. Safe to call more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()

		if b.client != nil {
			if err := b.publishDaemonStatus(daemonOffline, "shutdown"); err != nil {
				b.logger.Debug("offline status publish failed", "error", err)
			}
			b.client.Disconnect(disconnectQuiesce)
		}
		b.logger.Info("bridge stopped")
	})
	return nil
}

// OnDeviceEvent wakes the device sync. Wire it into the manager's
// OnEvent hook; it never blocks and never calls back into the manager.
func (b *Bridge) OnDeviceEvent(manager.Event) {
	b.requestSync()
}

func (b *Bridge) requestSync() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()

	b.syncDevices()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
			if b.ctx.Err() != nil {
				return
			}
			b.syncDevices()
		}
	}
}

// handleConnect runs on the first connect and on every reconnect
// after a broker outage.
func (b *Bridge) handleConnect() {
	b.logger.Info("broker connected", "broker", b.cfg.Broker)

	if err := b.publishDaemonStatus(daemonOnline, ""); err != nil {
		b.logger.Warn("daemon status publish failed", "error", err)
	}
	if err := b.subscribeSet(); err != nil {
		b.logger.Error("set subscription failed", "topic", b.topics.setWildcard(), "error", err)
	}

	// Retained topics may be stale after an outage.
	b.resync.Store(true)
	b.requestSync()
}

func (b *Bridge) subscribeSet() error {
	topic := b.topics.setWildcard()
	token := b.client.Subscribe(topic, b.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSet(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout after %v", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (b *Bridge) publishDaemonStatus(status, reason string) error {
	return b.publishRetained(b.topics.daemonStatus(), daemonStatusPayload(status, reason))
}

func (b *Bridge) publishRetained(topic string, payload []byte) error {
	return b.publish(topic, payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) error {
	if b.client == nil || !b.client.IsConnected() {
		return ErrNotConnected
	}
	token := b.client.Publish(topic, b.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout after %v", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
