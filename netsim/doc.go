// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package netsim provides a simple UDP network simulation framework
that developers can use to write integration tests.

# Usage and Features

The [NewStack] function creates a new, simulated network stack
using the given IP addresses. You can invoke usual functions on the
stack, such as:

- DialContext
- ListenPacket

These functions return a simulated [*UDPConn] implementing both
[net.Conn] and [net.PacketConn]. Because ListenPacket has the same
signature as the netcore ListenPacketFunc, a [*Stack] can replace
the host network stack in tests.

When a port sends data, the data is wrapped inside a [*Datagram]
emitted on the channel returned by [*Stack.Output]. The [*Link]
type connects two [*Stack] so that they can send [*Datagram] to
each other, optionally applying the loss and delay described by a
linkcond configuration. Datagrams sent to an address owned by the
same stack are delivered directly.

The [*DNSServer] type answers A and AAAA queries over any
[net.PacketConn], which allows testing name resolution.

The errors returned by these types are the same [syscall.Errno] the
standard library and the kernel would generate in similar cases (we use
the [x/sys] repository to pull system-dependent error values).

# Design Documents

This package is experimental and has no design documents for now.
*/
package netsim
