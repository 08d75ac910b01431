package mqtt

import (
	"encoding/json"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// connectTimeout bounds the wait for the first broker handshake.
	connectTimeout = 10 * time.Second

	// publishTimeout bounds the wait for a publish or subscribe ack.
	publishTimeout = 5 * time.Second

	// setTimeout bounds one inbound field write end to end.
	setTimeout = 5 * time.Second

	// disconnectQuiesce is how long Close lets in-flight work drain,
	// in milliseconds as paho counts it.
	disconnectQuiesce = 1000

	// reconnectInitial and reconnectMax bound paho's retry backoff.
	reconnectInitial = 1 * time.Second
	reconnectMax     = 30 * time.Second

	// keepAlive is the broker ping interval.
	keepAlive = 60 * time.Second

	maxQoS = 2
)

// Daemon availability states published on the status topic.
const (
	daemonOnline  = "online"
	daemonOffline = "offline"
)

// buildOptions translates the bridge config into paho client options.
// The last will marks the daemon offline when the broker loses the
// session without a clean shutdown.
func buildOptions(cfg Config, t topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInitial)
	opts.SetMaxReconnectInterval(reconnectMax)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(t.daemonStatus(), string(daemonStatusPayload(daemonOffline, "connection-lost")), cfg.QoS, true)
	return opts
}

// daemonStatusPayload is the JSON body for the daemon availability
// topic.
func daemonStatusPayload(status, reason string) []byte {
	body := struct {
		Status    string `json:"status"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(body)
	return data
}
