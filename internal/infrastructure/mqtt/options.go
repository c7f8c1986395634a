package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/wire"
	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// Connection constants.
const (
	// defaultStatusTimeout bounds the offline status publish on disconnect.
	defaultStatusTimeout = 2 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultInFlight is the in-flight window when Options.InFlight is unset.
	defaultInFlight = 64

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options configures the MQTT specifics that TransportConfig does not cover.
type Options struct {
	// QoS is used for persistent delivery. Direct delivery always uses QoS 0.
	QoS byte

	// Retained marks every published message as retained.
	Retained bool

	// InFlight caps publishes awaiting their token before Publish reports
	// would-block.
	InFlight int

	// StatusTopic receives the Last Will and the online/offline
	// announcements. Empty means Topics{}.PublisherStatus(clientID).
	StatusTopic string
}

// buildClientOptions creates paho MQTT options from the session config.
//
// This configures:
//   - Broker URL (tcp://, ssl:// or tls:// as given)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect when reconnection attempts are allowed
//   - TLS configuration for ssl:// and tls:// brokers
//   - Clean session mode
//
// Connection retries are driven by Transport.Connect, not by paho.
func buildClientOptions(cfg messaging.TransportConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURI)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(cfg.ReconnectionAttempts != 0)
	if cfg.ReconnectionAttemptsWaitInterval > 0 {
		opts.SetMaxReconnectInterval(cfg.ReconnectionAttemptsWaitInterval)
	}

	if cfg.ConnectionAttemptTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectionAttemptTimeout)
	}
	if cfg.KeepAliveInterval > 0 {
		opts.SetKeepAlive(cfg.KeepAliveInterval)
	}

	if isTLSBroker(cfg.BrokerURI) {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

func isTLSBroker(uri string) bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "wss://"} {
		if strings.HasPrefix(strings.ToLower(uri), scheme) {
			return true
		}
	}
	return false
}

// statusPayload is published on the status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`

	// PayloadEncoding is "zlib" while data payloads are compressed.
	PayloadEncoding string `json:"payload_encoding,omitempty"`
}

func buildStatusPayload(status, clientID, reason, encoding string) string {
	data, _ := json.Marshal(statusPayload{
		Status:          status,
		ClientID:        clientID,
		Reason:          reason,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		PayloadEncoding: encoding,
	})
	return string(data)
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes it if the client disconnects unexpectedly, so
// consumers can tell a crashed publisher from a graceful shutdown.
//
// QoS: 1, Retained: true
func configureLWT(opts *pahomqtt.ClientOptions, clientID, topic string) {
	opts.SetWill(topic, buildStatusPayload("offline", clientID, "unexpected_disconnect", ""), 1, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
// It names the payload encoding so subscribers know to inflate.
func buildOnlinePayload(clientID string, compressionLevel int) string {
	return buildStatusPayload("online", clientID, "", wire.Encoding(compressionLevel))
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return buildStatusPayload("offline", clientID, "graceful_shutdown", "")
}
