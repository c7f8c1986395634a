package messaging

import (
	"fmt"
	"strings"
	"time"
)

// Configuration limits and defaults.
const (
	// MaxRetryInterval bounds every retry/timeout interval option.
	MaxRetryInterval = 60000 * time.Millisecond

	// DefaultReconnectionAttemptsWaitInterval is the pause between reconnection attempts.
	DefaultReconnectionAttemptsWaitInterval = 3000 * time.Millisecond

	// DefaultConnectionAttemptTimeout bounds a single connection attempt.
	DefaultConnectionAttemptTimeout = 10 * time.Second

	// DefaultKeepAliveInterval is the transport keep-alive period.
	DefaultKeepAliveInterval = 60 * time.Second

	// maxCompressionLevel is the highest zlib level (0 disables compression).
	maxCompressionLevel = 9
)

// TransportConfig holds the session options passed to Transport.Connect.
//
// Retry counts use -1 for "retry forever" and 0 for "no retry". The
// intervals are bounded by MaxRetryInterval.
type TransportConfig struct {
	BrokerURI string
	ClientID  string
	Username  string
	Password  string

	ReconnectionAttempts             int
	ReconnectionAttemptsWaitInterval time.Duration
	ConnectionRetries                int
	ConnectionAttemptTimeout         time.Duration

	// CompressionLevel is the zlib level for payloads, 0 to send them as
	// is. Compressed payloads carry no marker; subscribers must inflate.
	CompressionLevel  int
	KeepAliveInterval time.Duration
}

// DefaultTransportConfig returns a config with the default intervals and no
// automatic retries.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ReconnectionAttemptsWaitInterval: DefaultReconnectionAttemptsWaitInterval,
		ConnectionAttemptTimeout:         DefaultConnectionAttemptTimeout,
		KeepAliveInterval:                DefaultKeepAliveInterval,
	}
}

// Validate checks every option and reports all violations at once.
//
// Returns:
//   - error: wrapping ErrInvalidArgument, or nil if valid
func (c TransportConfig) Validate() error {
	var errs []string

	if c.BrokerURI == "" {
		errs = append(errs, "broker uri is required")
	}
	if c.ReconnectionAttempts < -1 {
		errs = append(errs, "reconnection-attempts must be -1 or greater")
	}
	if c.ConnectionRetries < -1 {
		errs = append(errs, "connection-retries must be -1 or greater")
	}
	if c.ReconnectionAttemptsWaitInterval < 0 || c.ReconnectionAttemptsWaitInterval > MaxRetryInterval {
		errs = append(errs, fmt.Sprintf("reconnection-attempts-wait-interval must be between 0 and %d ms", MaxRetryInterval.Milliseconds()))
	}
	if c.ConnectionAttemptTimeout < 0 || c.ConnectionAttemptTimeout > MaxRetryInterval {
		errs = append(errs, fmt.Sprintf("connection-attempt-timeout must be between 0 and %d ms", MaxRetryInterval.Milliseconds()))
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > maxCompressionLevel {
		errs = append(errs, "compression-level must be between 0 and 9")
	}
	if c.KeepAliveInterval < 0 {
		errs = append(errs, "keep-alive-interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(errs, "; "))
	}
	return nil
}

// BackPressure selects what Publish does when outbound capacity is exhausted.
type BackPressure int

// Back-pressure policies.
const (
	// BackPressureNone publishes synchronously; a would-block from the
	// transport surfaces as ErrPublisherOverflow.
	BackPressureNone BackPressure = iota

	// BackPressureReject buffers messages and fails fast when the buffer is full.
	BackPressureReject

	// BackPressureBlock buffers messages and blocks the caller until space frees.
	BackPressureBlock
)

func (b BackPressure) String() string {
	switch b {
	case BackPressureNone:
		return "none"
	case BackPressureReject:
		return "reject"
	case BackPressureBlock:
		return "block"
	default:
		return fmt.Sprintf("back_pressure(%d)", int(b))
	}
}

// ParseBackPressure converts a configuration string to a BackPressure.
func ParseBackPressure(s string) (BackPressure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BackPressureNone, nil
	case "reject":
		return BackPressureReject, nil
	case "block", "wait":
		return BackPressureBlock, nil
	default:
		return BackPressureNone, fmt.Errorf("%w: unknown back-pressure policy %q", ErrInvalidArgument, s)
	}
}

// PublisherConfig is fixed for the lifetime of a Publisher.
type PublisherConfig struct {
	BackPressure   BackPressure
	BufferCapacity int
	DeliveryMode   DeliveryMode
}

// Validate checks the publisher configuration.
func (c PublisherConfig) Validate() error {
	switch c.BackPressure {
	case BackPressureNone:
		return nil
	case BackPressureReject, BackPressureBlock:
		if c.BufferCapacity <= 0 {
			return fmt.Errorf("%w: buffer capacity must be positive for %s back-pressure, got %d",
				ErrInvalidArgument, c.BackPressure, c.BufferCapacity)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown back-pressure policy %d", ErrInvalidArgument, int(c.BackPressure))
	}
}

func (c PublisherConfig) buffered() bool {
	return c.BackPressure != BackPressureNone
}
