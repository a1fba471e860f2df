// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package errclass implements error classification for sockets.

The general idea is to classify golang errors to an enum of strings
with names resembling standard Unix error names, such that structured
logs carry a stable `errClass` field next to the original `err`.

# Design Principles

1. Preserve original error in `err` in the structured logs.

2. Add the classified error as the `errClass` field.

3. Use [errors.Is] and [errors.As] for classification.

4. Prefix socket-specific errors with `ESOCK_`.

5. Classify [*sockerr.BindError] first, then check the socket errors
in a fixed order, so an error wrapping several of them always
yields the same class.

6. Delegate everything else to `github.com/rbmk-project/common/errclass`.

7. Map the nil error to an empty string.

# Socket Errors

- [ESOCK_QUEUE_CLOSED] for [sockerr.ErrQueueClosed]

- [ESOCK_NO_SESSION] for [sockerr.ErrNoSession]

- [ESOCK_MSGSIZE] for [sockerr.ErrMessageTooLarge] and the EMSGSIZE errno

- [ESOCK_BUFFER_FULL] for [sockerr.ErrBufferFull] and the ENOBUFS errno

- [ESOCK_BIND] for [*sockerr.BindError]

The system error constants are defined in platform-specific files:

- unix.go for Unix-like systems using x/sys/unix

- windows.go for Windows systems using x/sys/windows

# Fallback

Errors that are not socket errors are classified by the common
errclass package, which returns [ETIMEDOUT], [EINTR], ... and
[EGENERIC] for unclassified errors.
*/
package errclass

import (
	"errors"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/rtsock/sockerr"
)

const (
	// ESOCK_QUEUE_CLOSED indicates sending after the socket closed.
	ESOCK_QUEUE_CLOSED = "ESOCK_QUEUE_CLOSED"

	// ESOCK_NO_SESSION indicates there is no session for the peer.
	ESOCK_NO_SESSION = "ESOCK_NO_SESSION"

	// ESOCK_MSGSIZE indicates the payload is too large for the backend.
	ESOCK_MSGSIZE = "ESOCK_MSGSIZE"

	// ESOCK_BUFFER_FULL indicates the backend send buffer is full.
	ESOCK_BUFFER_FULL = "ESOCK_BUFFER_FULL"

	// ESOCK_BIND indicates we could not bind a local address.
	ESOCK_BIND = "ESOCK_BIND"

	// EINTR is the interrupted system call error, which is also
	// the class of [context.Canceled] and [net.ErrClosed].
	EINTR = errclass.EINTR

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = errclass.ETIMEDOUT

	// EGENERIC is the generic, unclassified error.
	EGENERIC = errclass.EGENERIC
)

// errorsIsList contains the errors we can map using [errors.Is],
// in the order in which we check them.
var errorsIsList = []struct {
	err   error
	class string
}{
	{sockerr.ErrQueueClosed, ESOCK_QUEUE_CLOSED},
	{sockerr.ErrNoSession, ESOCK_NO_SESSION},
	{sockerr.ErrMessageTooLarge, ESOCK_MSGSIZE},
	{sockerr.ErrBufferFull, ESOCK_BUFFER_FULL},
	{errEMSGSIZE, ESOCK_MSGSIZE},
	{errENOBUFS, ESOCK_BUFFER_FULL},
}

// New returns the class of the given error.
func New(err error) string {
	if err == nil {
		return ""
	}
	var bindErr *sockerr.BindError
	if errors.As(err, &bindErr) {
		return ESOCK_BIND
	}
	for _, entry := range errorsIsList {
		if errors.Is(err, entry.err) {
			return entry.class
		}
	}
	return errclass.New(err)
}
