// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool implements the connection pool of spec §4.3/§5: a
// process-wide registry of gmq.Connection values keyed by canonical
// broker URI, reference-counted so several Queues (or, above this
// package, several iot managers) can share one Connection. Grounded on
// absmach-fluxmq/core.RefCountedBuffer's retain/release counting,
// generalized from an atomic counter on one object to a mutex-guarded map
// of counters since entries are created and removed, not just retained.
package pool

import (
	"sync"

	"github.com/sylvia-iot/general-mq/gmq"
)

// Factory builds a new, unconnected gmq.Connection for a URI that is not
// yet in the pool.
type Factory func() (gmq.Connection, error)

type entry struct {
	conn gmq.Connection
	refs int
}

// Pool is a keyed, reference-counted Connection registry. A Pool is safe
// for concurrent use. The zero value is not usable; use New.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{entries: make(map[string]*entry)}
}

// GetConnection returns the pooled Connection for uri, building one via
// factory and calling Connect on it when uri is not yet present. Each call
// increments the entry's reference count by one; the caller owns exactly
// one reference per call and must balance it with a later
// RemoveConnection(uri, 1, ...).
func (p *Pool) GetConnection(uri string, factory Factory) (gmq.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[uri]; ok {
		e.refs++
		return e.conn, nil
	}

	conn, err := factory()
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	p.entries[uri] = &entry{conn: conn, refs: 1}
	return conn, nil
}

// RemoveConnection decrements uri's reference count by n (n is normally
// the number of queues the caller owned on that Connection, per spec §4.3
// "Closing an Application/Network decrements the pool's reference count
// for its Connection by the number of queues it owned"). When the count
// reaches zero the Connection is removed from the pool and closed, and ack
// is invoked with the close result; otherwise ack is invoked immediately
// with nil. RemoveConnection on an unknown uri is a no-op that reports nil
// to ack.
func (p *Pool) RemoveConnection(uri string, n int, ack gmq.AckFunc) {
	p.mu.Lock()
	e, ok := p.entries[uri]
	if !ok {
		p.mu.Unlock()
		if ack != nil {
			ack(nil)
		}
		return
	}

	e.refs -= n
	if e.refs > 0 {
		p.mu.Unlock()
		if ack != nil {
			ack(nil)
		}
		return
	}
	delete(p.entries, uri)
	p.mu.Unlock()

	_ = e.conn.Close(ack)
}

// Len reports the number of distinct Connections currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
