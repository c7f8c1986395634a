package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// conn is the subset of valkey.Client the transport needs.
type conn interface {
	publish(ctx context.Context, channel string, payload []byte) error
	ping(ctx context.Context) error
	close()
}

// clientConn adapts a valkey.Client.
type clientConn struct {
	client valkey.Client
}

func (c clientConn) publish(ctx context.Context, channel string, payload []byte) error {
	cmd := c.client.B().Publish().Channel(channel).Message(valkey.BinaryString(payload)).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c clientConn) ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c clientConn) close() {
	c.client.Close()
}

// dialValkey creates a valkey client for cfg.
func dialValkey(opt valkey.ClientOption) (conn, error) {
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, err
	}
	return clientConn{client: client}, nil
}

// buildClientOption maps the session config onto valkey.ClientOption.
//
// The broker URI must be redis://host:port or rediss://host:port; rediss
// enables TLS 1.2+.
func buildClientOption(cfg messaging.TransportConfig) (valkey.ClientOption, error) {
	u, err := url.Parse(cfg.BrokerURI)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("%w: %w", ErrInvalidBrokerURI, err)
	}

	opt := valkey.ClientOption{
		Username:   cfg.Username,
		Password:   cfg.Password,
		ClientName: cfg.ClientID,
		Dialer: net.Dialer{
			Timeout:   cfg.ConnectionAttemptTimeout,
			KeepAlive: cfg.KeepAliveInterval,
		},
		// PUBLISH responses are not cacheable.
		DisableCache: true,
	}

	switch strings.ToLower(u.Scheme) {
	case "redis", "valkey":
	case "rediss", "valkeys":
		opt.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: u.Hostname(),
		}
	default:
		return valkey.ClientOption{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBrokerURI, u.Scheme)
	}

	host := u.Host
	if host == "" {
		return valkey.ClientOption{}, fmt.Errorf("%w: missing host in %q", ErrInvalidBrokerURI, cfg.BrokerURI)
	}
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "6379")
	}
	opt.InitAddress = []string{host}

	if opt.Username == "" && u.User != nil {
		opt.Username = u.User.Username()
		if p, ok := u.User.Password(); ok && opt.Password == "" {
			opt.Password = p
		}
	}
	return opt, nil
}
