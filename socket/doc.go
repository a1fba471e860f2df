// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package socket implements a transport-agnostic packet socket.

A [Socket] exchanges [*packet.Packet] with remote peers over an
unreliable and unordered transport. The concrete transport is an
[Adapter] implemented by backend packages (e.g., udpsock, rtcsock,
and quicsock), which use [New] to obtain a [*Conn].

# Sending and Receiving

Call [Socket.Sender] to obtain a [*MessageSender] and use it, or
its clones, from any goroutine to enqueue outbound packets. Sending
never blocks and only guarantees that the packet reaches the socket.

Call [Socket.Receive] in a loop from a single goroutine. Each call
waits for either an inbound packet, which it returns, or for an
outbound packet, which it hands to the [Adapter]. A successful send
is not returned to the caller; a failed send is returned as a
[*sockerr.SendError]. Therefore, outbound packets only flow while
some goroutine is blocked in [Socket.Receive].

When both an inbound packet and an outbound packet are ready, the
choice of which one to service first is random.

# Link Conditioning

Call [Socket.WithLinkConditioner] to wrap a [Socket] with a
[*LinkConditioner] that drops, delays, and reorders inbound packets
according to a [*linkcond.Config]. The wrapper is itself a [Socket].

# Errors

Errors returned by [Socket.Receive] are recoverable: the caller
may keep calling [Socket.Receive]. Releasing every producer reference
of the outbound queue while the socket is still open is a programming
error and causes [Socket.Receive] to panic.
*/
package socket
