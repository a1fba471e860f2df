//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// QUIC socket configuration.
//

package quicsock

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rbmk-project/rtsock/netcore"
)

// ALPN is the application protocol negotiated by peers.
const ALPN = "rtsock"

const (
	// DefaultHandshakeTimeout is the default [Config] HandshakeTimeout.
	DefaultHandshakeTimeout = 2 * time.Second

	// DefaultMaxIdleTimeout is the default [Config] MaxIdleTimeout.
	DefaultMaxIdleTimeout = 30 * time.Second
)

// Config contains the settings for [Listen].
type Config struct {
	// Address is the local UDP address in the form "host:port". When
	// the port is zero, we bind the first available port of PortRange.
	Address string `yaml:"address"`

	// CertFile and KeyFile are the optional PEM-encoded certificate
	// and key files. When both are empty and TLSConfig is nil, we
	// generate a self-signed certificate.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// HandshakeTimeout is the optional QUIC handshake idle timeout.
	// If zero, we use [DefaultHandshakeTimeout].
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// KeepAlivePeriod is the optional keep alive period. If zero,
	// we do not send keep alives.
	KeepAlivePeriod time.Duration `yaml:"keep_alive_period"`

	// Logger is the optional structured logger.
	Logger *slog.Logger `yaml:"-"`

	// MaxIdleTimeout is the optional time after which we close an idle
	// session. If zero, we use [DefaultMaxIdleTimeout].
	MaxIdleTimeout time.Duration `yaml:"max_idle_timeout"`

	// Network is the optional [*netcore.Network] to use. If nil,
	// we use a [*netcore.Network] logging with Logger.
	Network *netcore.Network `yaml:"-"`

	// PortRange is the optional range probed when the port is
	// zero. If zero, we use [netcore.DefaultPortRange].
	PortRange netcore.PortRange `yaml:"port_range"`

	// TLSConfig is the optional TLS config, which takes precedence
	// over CertFile and KeyFile. We always add [ALPN] to NextProtos.
	TLSConfig *tls.Config `yaml:"-"`
}

// validate returns an error if the configuration is not valid.
func (c *Config) validate() error {
	if c.Address == "" {
		return errors.New("quicsock: empty address")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("quicsock: cert_file and key_file must be set together")
	}
	if c.HandshakeTimeout < 0 || c.MaxIdleTimeout < 0 || c.KeepAlivePeriod < 0 {
		return errors.New("quicsock: negative timeout")
	}
	return nil
}

// network returns the [*netcore.Network] to use.
func (c *Config) network() *netcore.Network {
	if c.Network != nil {
		return c.Network
	}
	netx := netcore.NewNetwork()
	netx.Logger = c.Logger
	return netx
}

// portRange returns the port range to probe.
func (c *Config) portRange() netcore.PortRange {
	if c.PortRange == (netcore.PortRange{}) {
		return netcore.DefaultPortRange
	}
	return c.PortRange
}

// tlsConfig returns the server TLS config.
func (c *Config) tlsConfig(now time.Time) (*tls.Config, error) {
	var conf *tls.Config
	switch {
	case c.TLSConfig != nil:
		conf = c.TLSConfig.Clone()
	case c.CertFile != "":
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		conf = &tls.Config{Certificates: []tls.Certificate{cert}}
	default:
		cert, err := newSelfSignedCert(now)
		if err != nil {
			return nil, err
		}
		conf = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if !containsString(conf.NextProtos, ALPN) {
		conf.NextProtos = append(conf.NextProtos, ALPN)
	}
	conf.MinVersion = tls.VersionTLS13
	return conf, nil
}

// quicConfig returns the QUIC config.
func (c *Config) quicConfig() *quic.Config {
	conf := &quic.Config{
		HandshakeIdleTimeout: DefaultHandshakeTimeout,
		MaxIdleTimeout:       DefaultMaxIdleTimeout,
		KeepAlivePeriod:      c.KeepAlivePeriod,

		// Peers only exchange datagrams.
		MaxIncomingStreams:    -1,
		MaxIncomingUniStreams: -1,
		EnableDatagrams:       true,
	}
	if c.HandshakeTimeout > 0 {
		conf.HandshakeIdleTimeout = c.HandshakeTimeout
	}
	if c.MaxIdleTimeout > 0 {
		conf.MaxIdleTimeout = c.MaxIdleTimeout
	}
	return conf
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
