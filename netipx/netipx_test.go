// SPDX-License-Identifier: GPL-3.0-or-later

package netipx_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/rbmk-project/rtsock/netipx"
	"github.com/rbmk-project/rtsock/netsim"
	"github.com/stretchr/testify/assert"
)

func TestAddrToAddrPort(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want netip.AddrPort
	}{
		{
			name: "nil address",
			addr: nil,
			want: netip.AddrPortFrom(netip.IPv6Unspecified(), 0),
		},

		{
			name: "UDP address",
			addr: &net.UDPAddr{
				IP:   net.ParseIP("2001:db8::2"),
				Port: 5678,
			},
			want: netip.MustParseAddrPort("[2001:db8::2]:5678"),
		},

		{
			name: "IPv4 UDP address",
			addr: &net.UDPAddr{
				IP:   net.ParseIP("10.0.0.1"),
				Port: 8000,
			},
			want: netip.MustParseAddrPort("10.0.0.1:8000"),
		},

		{
			name: "TCP address",
			addr: &net.TCPAddr{
				IP:   net.ParseIP("2001:db8::1"),
				Port: 1234,
			},
			want: netip.MustParseAddrPort("[2001:db8::1]:1234"),
		},

		{
			name: "simulated address",
			addr: &netsim.Addr{AddrPort: netip.MustParseAddrPort("10.0.0.1:8000")},
			want: netip.MustParseAddrPort("10.0.0.1:8000"),
		},

		{
			name: "unparseable address type",
			addr: &net.UnixAddr{Name: "/tmp/sock", Net: "unixgram"},
			want: netip.AddrPortFrom(netip.IPv6Unspecified(), 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := netipx.AddrToAddrPort(tt.addr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddrPortToUDPAddr(t *testing.T) {
	ap := netip.MustParseAddrPort("10.0.0.1:8000")
	addr := netipx.AddrPortToUDPAddr(ap)
	assert.Equal(t, "10.0.0.1:8000", addr.String())
	assert.Equal(t, ap, netipx.AddrToAddrPort(addr))
}
