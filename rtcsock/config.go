//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// WebRTC socket configuration.
//

package rtcsock

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rbmk-project/rtsock/netcore"
)

const (
	// DefaultSessionPath is the default [Config] SessionPath.
	DefaultSessionPath = "/rtc_session"

	// DefaultMaxSessions is the default [Config] MaxSessions.
	DefaultMaxSessions = 1024

	// DefaultGatherTimeout is the default [Config] GatherTimeout.
	DefaultGatherTimeout = 10 * time.Second
)

// Config contains the settings for [Listen].
type Config struct {
	// Address is the local address of the UDP socket carrying the
	// WebRTC traffic in the form "host:port". When the port is zero,
	// we bind the first port of PortRange where both the UDP socket
	// and, unless SessionAddress is set, the TCP session listener
	// can be bound.
	Address string `yaml:"address"`

	// GatherTimeout is the optional maximum time to wait for ICE
	// gathering when answering an offer. If zero, we use
	// [DefaultGatherTimeout].
	GatherTimeout time.Duration `yaml:"gather_timeout"`

	// ICEServers contains optional STUN server URLs.
	ICEServers []string `yaml:"ice_servers"`

	// Logger is the optional structured logger. We also route
	// the internal WebRTC logs to this logger.
	Logger *slog.Logger `yaml:"-"`

	// MaxSessions is the optional maximum number of concurrent
	// sessions. If zero, we use [DefaultMaxSessions].
	MaxSessions int `yaml:"max_sessions"`

	// Network is the optional [*netcore.Network] to use. If nil,
	// we use a [*netcore.Network] logging with Logger.
	Network *netcore.Network `yaml:"-"`

	// PortRange is the optional range probed when the port is
	// zero. If zero, we use [netcore.DefaultPortRange].
	PortRange netcore.PortRange `yaml:"port_range"`

	// PublicAddress is the optional address advertised to peers in
	// the form "host:port". Only the host is used and the port must
	// match the bound port. Use when the server is behind a NAT
	// with a 1:1 port mapping.
	PublicAddress string `yaml:"public_address"`

	// SessionAddress is the optional TCP address of the HTTP session
	// endpoint. If empty, we listen on the same host and port as the
	// bound UDP socket.
	SessionAddress string `yaml:"session_address"`

	// SessionPath is the optional HTTP path of the session endpoint.
	// If empty, we use [DefaultSessionPath].
	SessionPath string `yaml:"session_path"`
}

// validate returns an error if the configuration is not valid.
func (c *Config) validate() error {
	if c.Address == "" {
		return errors.New("rtcsock: empty address")
	}
	if c.MaxSessions < 0 {
		return errors.New("rtcsock: negative max sessions")
	}
	if c.GatherTimeout < 0 {
		return errors.New("rtcsock: negative gather timeout")
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

// sessionPath returns the session endpoint path.
func (c *Config) sessionPath() string {
	if c.SessionPath != "" {
		return c.SessionPath
	}
	return DefaultSessionPath
}

// maxSessions returns the maximum number of sessions.
func (c *Config) maxSessions() int {
	if c.MaxSessions > 0 {
		return c.MaxSessions
	}
	return DefaultMaxSessions
}

// gatherTimeout returns the ICE gathering timeout.
func (c *Config) gatherTimeout() time.Duration {
	if c.GatherTimeout > 0 {
		return c.GatherTimeout
	}
	return DefaultGatherTimeout
}
