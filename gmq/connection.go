// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gmq

// Connection is one transport (one TCP/TLS connection to a broker). It is
// implemented by gmq/amqp.Connection and gmq/mqtt.Connection; callers and
// gmq/pool.Pool depend only on this interface, never on the concrete
// variant, per the "sum type, dispatch through the variant" design note.
type Connection interface {
	// Connect is idempotent from Closed/Closing; a no-op from
	// Connecting/Connected.
	Connect() error
	// Close always drives state to Closed and, if ack is non-nil, invokes
	// it exactly once.
	Close(ack AckFunc) error
	// Status returns the current lifecycle state.
	Status() Status
	// SetStatusHandler registers a listener for status transitions. May be
	// called multiple times; every Queue sharing this Connection adds its
	// own listener.
	SetStatusHandler(l StatusListener)
	// URI returns the canonical broker URI this Connection was created
	// for. gmq/pool does not call it: pool entries are keyed by the uri
	// string passed to GetConnection.
	URI() string
}
