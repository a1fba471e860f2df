// SPDX-License-Identifier: GPL-3.0-or-later

// Command rtsockd is an echo server for the rtsock backends.
//
// Every packet received from a peer is sent back to the same peer,
// optionally after conditioning the inbound traffic to emulate a
// degraded network link. Run `rtsockd --help` for usage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is the version string, which may be set at link time.
var version = "dev"

func main() {
	os.Exit(run())
}

// run runs the command and returns the exit code.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rtsockd:", err)
		return 1
	}
	return 0
}
