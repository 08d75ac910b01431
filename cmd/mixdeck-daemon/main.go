// Command mixdeck-daemon drives MixDeck USB consoles and serves their
// state over a local socket.
//
// The daemon enumerates attached consoles, runs one session per
// device (polling, command retries, telemetry), persists per-device
// profiles, and exposes snapshots, field writes, and change
// subscriptions to local clients. An optional MQTT bridge mirrors
// device state onto a broker.
//
// Usage:
//
//	mixdeck-daemon [flags]
//
// Flags:
//
//	-config string      configuration file path
//	-socket string      unix socket path (overrides config)
//	-log-level string   log level: debug, info, warn, error (overrides config)
//	-log-format string  log format: text or json (overrides config)
//	-event-log string   protocol event log file (overrides config)
//	-simulate           drive simulated consoles instead of USB hardware
//	-version            print version and exit
//
// Every flag can also be set through the environment with the MIXDECK
// prefix, for example MIXDECK_SOCKET or MIXDECK_LOG_LEVEL.
//
// Examples:
//
//	# Run against attached hardware with defaults
//	mixdeck-daemon
//
//	# Simulated consoles from a config file, verbose
//	mixdeck-daemon -config ./mixdeck.yaml -simulate -log-level debug
//
//	# Capture the protocol event stream for later analysis
//	mixdeck-daemon -event-log /tmp/mixdeck.events
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mixdeck-audio/mixdeck-go/pkg/config"
	"github.com/mixdeck-audio/mixdeck-go/pkg/devsim"
	"github.com/mixdeck-audio/mixdeck-go/pkg/ipc"
	"github.com/mixdeck-audio/mixdeck-go/pkg/log"
	"github.com/mixdeck-audio/mixdeck-go/pkg/manager"
	"github.com/mixdeck-audio/mixdeck-go/pkg/mqtt"
	"github.com/mixdeck-audio/mixdeck-go/pkg/profile"
	"github.com/mixdeck-audio/mixdeck-go/pkg/transport"
	"github.com/mixdeck-audio/mixdeck-go/pkg/version"
)

func main() {
	fs := flag.NewFlagSet("mixdeck-daemon", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "configuration file path")
		socketPath  = fs.String("socket", "", "unix socket path (overrides config)")
		logLevel    = fs.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
		logFormat   = fs.String("log-format", "", "log format: text or json (overrides config)")
		eventLog    = fs.String("event-log", "", "protocol event log file (overrides config)")
		simulate    = fs.Bool("simulate", false, "drive simulated consoles instead of USB hardware")
		showVersion = fs.Bool("version", false, "print version and exit")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("MIXDECK")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("%s (protocol %s)\n", version.UserAgent(), version.Protocol)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.Socket.Path = *socketPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *eventLog != "" {
		cfg.EventLog.Path = *eventLog
	}
	if *simulate {
		cfg.Simulate.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, logCloser, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	logger.Info("starting", "version", version.UserAgent(), "protocol", version.Protocol)

	events, eventCloser, err := buildEventLog(cfg.EventLog, logger)
	if err != nil {
		logger.Error("event log setup failed", "error", err)
		os.Exit(1)
	}

	bus, busCloser, err := buildBus(cfg.Simulate, logger)
	if err != nil {
		logger.Error("bus setup failed", "error", err)
		os.Exit(1)
	}

	mcfg := manager.Config{
		RescanInterval: cfg.Manager.RescanInterval.Std(),
		GracePeriod:    cfg.Manager.GracePeriod.Std(),
		Session:        cfg.SessionConfig(),
		Logger:         logger,
		EventLog:       events,
	}
	if cfg.Profiles.Dir != "" {
		mcfg.Store = profile.NewStore(cfg.Profiles.Dir)
		logger.Info("profile persistence enabled", "dir", cfg.Profiles.Dir)
	}

	// The bridge is built after the manager it watches, so the event
	// hook indirects through this variable. It is set before Start, and
	// events only flow after Start.
	var bridge *mqtt.Bridge
	mcfg.OnEvent = func(ev manager.Event) {
		if bridge != nil {
			bridge.OnDeviceEvent(ev)
		}
	}

	mgr := manager.New(bus, mcfg)
	if cfg.MQTT.Enabled {
		bridge = mqtt.New(mgr, mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.Prefix,
			QoS:      byte(cfg.MQTT.QoS),
			Logger:   logger,
		})
	}
	mgr.Start()

	srv := ipc.NewServer(mgr, ipc.ServerConfig{
		SocketPath:     cfg.Socket.Path,
		MaxFrame:       cfg.Socket.MaxFrame,
		RequestTimeout: cfg.Socket.RequestTimeout.Std(),
		Logger:         logger,
		EventLog:       events,
	})
	if err := srv.Start(); err != nil {
		logger.Error("socket server failed", "error", err)
		mgr.Close()
		os.Exit(1)
	}

	if bridge != nil {
		if err := bridge.Start(); err != nil {
			logger.Error("mqtt bridge failed", "error", err)
			srv.Close()
			mgr.Close()
			os.Exit(1)
		}
	}

	logger.Info("ready", "socket", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	// Reverse of startup: outer surfaces first, the device manager
	// last so in-flight requests can still reach sessions.
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			logger.Warn("mqtt close failed", "error", err)
		}
	}
	if err := srv.Close(); err != nil {
		logger.Warn("socket close failed", "error", err)
	}
	if err := mgr.Close(); err != nil {
		logger.Warn("manager close failed", "error", err)
	}
	if busCloser != nil {
		if err := busCloser.Close(); err != nil {
			logger.Warn("bus close failed", "error", err)
		}
	}
	if eventCloser != nil {
		if err := eventCloser.Close(); err != nil {
			logger.Warn("event log close failed", "error", err)
		}
	}
	logger.Info("goodbye")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildLogger builds the application logger. The closer is non-nil
// when a rotating log file is attached alongside stderr.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// buildEventLog assembles the protocol event sink: a CBOR file, a
// console bridge through the application logger, both, or nothing.
func buildEventLog(cfg config.EventLogConfig, logger *slog.Logger) (log.Logger, io.Closer, error) {
	var sinks []log.Logger
	var closer io.Closer

	if cfg.Path != "" {
		fl, err := log.NewFileLogger(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("event log: %w", err)
		}
		sinks = append(sinks, fl)
		closer = fl
	}
	if cfg.Console {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}

	switch len(sinks) {
	case 0:
		return log.NoopLogger{}, nil, nil
	case 1:
		return sinks[0], closer, nil
	default:
		return log.NewMultiLogger(sinks...), closer, nil
	}
}

// buildBus returns the transport bus: USB HID by default, the
// simulated hub when requested. A bare -simulate with no configured
// devices plugs one studio console.
func buildBus(cfg config.SimulateConfig, logger *slog.Logger) (manager.Bus, io.Closer, error) {
	if !cfg.Enabled {
		h, err := transport.NewHID()
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	}

	hub := devsim.NewHub()
	devices := cfg.Devices
	if len(devices) == 0 {
		devices = []config.SimDevice{{Serial: "SIM001", Kind: "studio"}}
	}
	for _, d := range devices {
		kind, err := config.ParseKind(d.Kind)
		if err != nil {
			return nil, nil, err
		}
		hub.Plug(devsim.Config{Serial: d.Serial, Kind: kind, Firmware: [3]uint8{1, 0, 0}})
		logger.Info("simulated console plugged", "serial", d.Serial, "kind", kind.String())
	}
	return hub, nil, nil
}
