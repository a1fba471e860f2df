// SPDX-License-Identifier: GPL-3.0-or-later

// Package netipx contains [net/netip] extensions.
package netipx

import (
	"net"
	"net/netip"
)

// AddrToAddrPort converts a [net.Addr] to a [netip.AddrPort].
//
// For [*net.UDPAddr] and [*net.TCPAddr] addresses, returns their
// corresponding [netip.AddrPort] representation with IPv4-mapped
// IPv6 addresses converted to IPv4.
//
// For other address types (e.g., simulated addresses), parses the
// result of the String method as an address and port.
//
// If the input is nil or cannot be parsed, returns an unspecified
// IPv6 address with port 0.
func AddrToAddrPort(addr net.Addr) netip.AddrPort {
	switch addr := addr.(type) {
	case nil:
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	case *net.UDPAddr:
		return unmap(addr.AddrPort())
	case *net.TCPAddr:
		return unmap(addr.AddrPort())
	}
	if ap, err := netip.ParseAddrPort(addr.String()); err == nil {
		return unmap(ap)
	}
	return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
}

// AddrPortToUDPAddr converts a [netip.AddrPort] to a [*net.UDPAddr].
func AddrPortToUDPAddr(ap netip.AddrPort) *net.UDPAddr {
	return net.UDPAddrFromAddrPort(ap)
}

// unmap converts IPv4-mapped IPv6 addresses to IPv4.
func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
