//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Windows errno definitions.
//

package netsim

import "golang.org/x/sys/windows"

const (
	// EADDRNOTAVAIL is the address not available error.
	EADDRNOTAVAIL = windows.WSAEADDRNOTAVAIL

	// EADDRINUSE is the address in use error.
	EADDRINUSE = windows.WSAEADDRINUSE

	// EHOSTUNREACH is the host unreachable error.
	EHOSTUNREACH = windows.WSAEHOSTUNREACH

	// EINVAL is the invalid argument error.
	EINVAL = windows.WSAEINVAL

	// EMSGSIZE is the message too long error.
	EMSGSIZE = windows.WSAEMSGSIZE

	// ENETDOWN is the network is down error.
	ENETDOWN = windows.WSAENETDOWN

	// ENOTCONN is the not connected error.
	ENOTCONN = windows.WSAENOTCONN

	// EPROTONOSUPPORT is the protocol not supported error.
	EPROTONOSUPPORT = windows.WSAEPROTONOSUPPORT
)
