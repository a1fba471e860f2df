// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package netcore provides the network plumbing used by the socket backends.

This package is designed to facilitate observing UDP socket events via
the [log/slog] package.

# Features

- [*Network.ListenPacket] creates a [net.PacketConn] compatible with
[net.ListenPacket] and optionally wraps it to emit structured logs;

- [*Network.ProbeListenPacket] binds the first available port of a range;

- [*Network.ResolveAddrPort] resolves an endpoint, optionally using
a specific DNS-over-UDP server through the dnscore package.

Tests may replace the host network stack by setting ListenPacketFunc
and DialContextFunc to the methods of a netsim stack.

# Design Documents

This package is experimental and has no design documents for now.
*/
package netcore
