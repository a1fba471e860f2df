// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package sockerr contains the errors returned by sockets and backends.

Recoverable errors are values:

- [*RecvError] wraps a transport receive failure;

- [*SendError] wraps the failure to deliver one outbound packet;

- [*BindError] wraps the failure to bind a local address;

- [ErrQueueClosed] is returned when sending after the socket closed.

The sentinels [ErrNoSession], [ErrMessageTooLarge], and [ErrBufferFull]
are wrapped by backends inside [*SendError] to explain why a packet
could not be delivered.

Exhausting the producers of a socket's outbound queue is a programming
error and causes a panic rather than an error value.
*/
package sockerr

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrQueueClosed indicates that the socket owning the outbound
	// queue has been closed and no more packets can be enqueued.
	ErrQueueClosed = errors.New("outbound queue closed")

	// ErrNoSession indicates that no session exists for the peer address.
	ErrNoSession = errors.New("no session for peer address")

	// ErrMessageTooLarge indicates that the backend rejected the payload size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrBufferFull indicates that the backend send buffer is saturated.
	ErrBufferFull = errors.New("send buffer full")
)

// RecvError is a transport receive failure.
type RecvError struct {
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *RecvError) Error() string {
	return fmt.Sprintf("recv: %s", e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *RecvError) Unwrap() error {
	return e.Err
}

// SendError is the failure to deliver a specific outbound packet.
type SendError struct {
	// Addr is the destination of the packet.
	Addr netip.AddrPort

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %s", e.Addr, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Err
}

// BindError is the failure to bind a local address.
type BindError struct {
	// Address is the address, or address range, we tried to bind.
	Address string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %s", e.Address, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *BindError) Unwrap() error {
	return e.Err
}
