//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import "golang.org/x/sys/unix"

const (
	errEMSGSIZE = unix.EMSGSIZE
	errENOBUFS  = unix.ENOBUFS
)
