//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UDP socket configuration.
//

package udpsock

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rbmk-project/rtsock/netcore"
)

// DefaultWriteTimeout is the default [Config] WriteTimeout.
const DefaultWriteTimeout = time.Second

// Config contains the settings for [Listen].
type Config struct {
	// Address is the local address in the form "host:port". When the
	// port is zero, we bind the first available port of PortRange.
	Address string `yaml:"address"`

	// Logger is the optional structured logger.
	Logger *slog.Logger `yaml:"-"`

	// Network is the optional [*netcore.Network] to use. If nil,
	// we use a [*netcore.Network] logging with Logger.
	Network *netcore.Network `yaml:"-"`

	// PortRange is the optional range probed when the port is
	// zero. If zero, we use [netcore.DefaultPortRange].
	PortRange netcore.PortRange `yaml:"port_range"`

	// WriteTimeout is the optional timeout for sending a single
	// datagram. If zero, we use [DefaultWriteTimeout].
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// validate returns an error if the configuration is not valid.
func (c *Config) validate() error {
	if c.Address == "" {
		return errors.New("udpsock: empty address")
	}
	if c.WriteTimeout < 0 {
		return errors.New("udpsock: negative write timeout")
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

// writeTimeout returns the write timeout.
func (c *Config) writeTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return DefaultWriteTimeout
}
