// SPDX-License-Identifier: GPL-3.0-or-later

// Package closepool allows pooling the resources owned by a socket
// backend and releasing them in a single operation.
package closepool

import (
	"errors"
	"io"
	"slices"
	"sync"
)

// Func adapts a function to the [io.Closer] interface.
type Func func() error

// Close implements [io.Closer].
func (fx Func) Close() error {
	return fx()
}

// Pool allows pooling a set of [io.Closer].
//
// The zero value is ready to use.
type Pool struct {
	// handles contains the [io.Closer] to close.
	handles []io.Closer

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add adds a given [io.Closer] to the pool.
func (p *Pool) Add(handle io.Closer) {
	p.mu.Lock()
	p.handles = append(p.handles, handle)
	p.mu.Unlock()
}

// AddFunc adds a cleanup function to the pool.
func (p *Pool) AddFunc(fx func() error) {
	p.Add(Func(fx))
}

// Len returns the number of resources in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close closes all the [io.Closer] inside the pool iterating in
// backward order. Therefore, if one registers a UDP socket and then
// a peer connection using it, the peer connection is closed first.
// The returned error is the join of all the errors that occurred
// when closing resources. Closing empties the pool, so calling Close
// again is a no-op unless new resources are added.
func (p *Pool) Close() error {
	// Lock and copy the [io.Closer] to close.
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	// Close all the [io.Closer].
	var errv []error
	for _, handle := range slices.Backward(handles) {
		if err := handle.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}
