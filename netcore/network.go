//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Definition of Network.
//

package netcore

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Network allows listening for and resolving endpoints.
//
// The zero value is ready to use.
//
// A [*Network] is safe for concurrent use by multiple goroutines as long as
// you don't modify its fields after construction and the underlying fields you
// may set (e.g., ListenPacketFunc) are also safe.
type Network struct {
	// DialContextFunc is the optional dialer used to reach the
	// DNSServer. If this field is nil, the default dialer from
	// the [net] package will be used.
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

	// DNSServer is the optional address of a DNS-over-UDP server
	// (e.g., "8.8.8.8:53") to use when LookupHostFunc is nil. If
	// this field is empty, we use the default [*net.Resolver].
	DNSServer string

	// ListenFunc is the optional function for creating new stream
	// [net.Listener]. If this field is nil, we use [net.ListenConfig].
	ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

	// ListenPacketFunc is the optional function for creating new
	// [net.PacketConn]. If this field is nil, we use [net.ListenConfig].
	ListenPacketFunc func(ctx context.Context, network, address string) (net.PacketConn, error)

	// Logger is the optional structured logger for emitting
	// structured diagnostic events. If this field is nil, we
	// will not be emitting structured logs.
	Logger *slog.Logger

	// LookupHostFunc is the optional function to resolve a domain
	// name to IP addresses. If this field is nil, we use DNSServer
	// or the default [*net.Resolver] from the [net] package.
	LookupHostFunc func(ctx context.Context, domain string) ([]string, error)

	// LookupHostTimeout is the optional timeout to use for limiting
	// the maximum time spent resolving a domain name.
	LookupHostTimeout time.Duration

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time

	// WrapPacketConn is an optional function to wrap a connection to
	// emit structured logs. [WrapPacketConn] is the default wrapper.
	WrapPacketConn func(ctx context.Context, netx *Network, conn net.PacketConn) net.PacketConn
}

// NewNetwork creates a new [*Network] wrapping connections
// using [WrapPacketConn] when a Logger is configured.
func NewNetwork() *Network {
	return &Network{WrapPacketConn: WrapPacketConn}
}

// DefaultNetwork is the default [*Network] used by this package.
var DefaultNetwork = &Network{}

// timeNow is a function that returns the current time.
func (nx *Network) timeNow() time.Time {
	if nx.TimeNow != nil {
		return nx.TimeNow()
	}
	return time.Now()
}
