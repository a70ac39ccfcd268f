// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gmq

// Message is a received broker message. Payload is whatever bytes the
// producer published; Meta is a driver-specific ack token (an
// amqp091.Delivery for gmq/amqp, nil for gmq/mqtt) consulted only by the
// Queue implementation that produced the Message — callers must treat it
// as opaque.
type Message struct {
	Payload []byte
	Meta    any
}

// MsgHandler is invoked once per received Message, in broker delivery
// order, for a receiver Queue. The handler settles the message itself by
// calling the owning Queue's Ack or Nack with this Message before
// returning (or asynchronously, from a goroutine it spawns) — the Queue
// does not auto-ack.
type MsgHandler func(msg *Message)
