// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gmq

import "github.com/sylvia-iot/general-mq/internal/validate"

// Queue is one logical messaging endpoint layered on a shared Connection.
// Implemented by gmq/amqp.Queue and gmq/mqtt.Queue.
type Queue interface {
	Name() string
	IsRecv() bool
	Reliable() bool
	Broadcast() bool

	Status() Status
	SetStatusHandler(l StatusListener)

	// SetMsgHandler replaces the current handler. Must be called before
	// Connect for receiver queues, or Connect fails with ErrNoMsgHandler.
	SetMsgHandler(h MsgHandler)

	// Connect transitions Closed/Closing -> Connecting and starts the
	// inner connect loop described in spec §4.2.
	Connect() error
	// Close is idempotent; ack, if non-nil, fires exactly once.
	Close(ack AckFunc) error

	// SendMsg publishes payload. Senders only.
	SendMsg(payload []byte, ack AckFunc) error
	// Ack settles a received message as processed.
	Ack(msg *Message, ack AckFunc) error
	// Nack settles a received message as failed, requesting redelivery
	// where the transport supports it (AMQP only; MQTT is a documented
	// no-op, see spec §9 note 3).
	Nack(msg *Message, ack AckFunc) error
}

// QueueOptions are the fields common to every Queue implementation,
// validated per spec §4.2. Protocol-specific extras (Prefetch/Persistent
// for AMQP, SharedPrefix for MQTT) live in each subpackage's own Options
// type, which embeds QueueOptions.
type QueueOptions struct {
	Name            string `yaml:"name"`
	IsRecv          bool   `yaml:"isRecv"`
	Reliable        bool   `yaml:"reliable"`
	Broadcast       bool   `yaml:"broadcast"`
	ReconnectMillis int    `yaml:"reconnectMillis"`
}

// DefaultReconnectMillis is the spec default reconnect interval.
const DefaultReconnectMillis = 1000

// DefaultConnectTimeoutMillis is the spec default dial timeout.
const DefaultConnectTimeoutMillis = 3000

// Validate enforces the queue-name regex and non-negative reconnect
// interval common to both transports; transport-specific validation
// (the AMQP prefetch range) happens in the concrete constructor. The MQTT
// SharedPrefix is not validated.
func (o *QueueOptions) Validate() error {
	if err := validate.Name(o.Name, NewInvalidArgument); err != nil {
		return err
	}
	if o.ReconnectMillis < 0 {
		return NewInvalidArgument("reconnectMillis", "must be a non-negative integer")
	}
	return nil
}
