// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sylvia-iot/general-mq/gmq"
)

// Queue is the MQTT Unified Queue. Unlike gmq/amqp, MQTT has no
// channel/resource to own: a sender Queue is Connected exactly when its
// Connection is Connected; a receiver Queue additionally holds a
// subscription registered in the Connection's packet-handler registry.
// Ack/Nack are documented no-ops (spec §9 Open Question: MQTT has no
// broker-visible unsettled-message concept below QoS 2, which this
// library does not use), so "reliable" for MQTT means QoS 1 delivery, not
// redelivery-on-failure. Grounded on nerrad567-gray-logic-stack's queue
// subscribe/restore-on-reconnect pattern.
type Queue struct {
	opts *QueueOptions
	conn *Connection
	topic string

	mu     sync.RWMutex
	status gmq.Status

	broadcaster gmq.StatusBroadcaster

	handlerMu sync.RWMutex
	handler   gmq.MsgHandler

	connecting atomic.Bool
	closing    atomic.Bool
	stopCh     chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer

	logger hclog.Logger
}

var _ gmq.Queue = (*Queue)(nil)

// New validates opts and returns an unconnected Queue bound to conn.
func New(opts *QueueOptions, conn *Connection, logger hclog.Logger) (*Queue, error) {
	if opts == nil {
		return nil, gmq.NewInvalidArgument("opts", "must not be nil")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrWrongConnection
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	q := &Queue{
		opts:   opts,
		conn:   conn,
		topic:  opts.topic(),
		status: gmq.StatusClosed,
		stopCh: make(chan struct{}),
		logger: logger.Named("gmq.mqtt.queue").With("queue", opts.Name),
	}
	conn.SetStatusHandler(q.onConnStatus)
	return q, nil
}

func (q *Queue) Name() string                          { return q.opts.Name }
func (q *Queue) IsRecv() bool                          { return q.opts.IsRecv }
func (q *Queue) Reliable() bool                        { return q.opts.Reliable }
func (q *Queue) Broadcast() bool                       { return q.opts.Broadcast }
func (q *Queue) SetStatusHandler(l gmq.StatusListener) { q.broadcaster.Add(l) }

func (q *Queue) Status() gmq.Status {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.status
}

func (q *Queue) setStatus(s gmq.Status) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
	q.broadcaster.Emit(s)
}

// SetMsgHandler replaces the current handler. Must be called before
// Connect for receivers (spec §4.2).
func (q *Queue) SetMsgHandler(h gmq.MsgHandler) {
	q.handlerMu.Lock()
	q.handler = h
	q.handlerMu.Unlock()
}

func (q *Queue) getHandler() gmq.MsgHandler {
	q.handlerMu.RLock()
	defer q.handlerMu.RUnlock()
	return q.handler
}

func (q *Queue) qos() byte {
	if q.opts.Reliable {
		return 1
	}
	return 0
}

// Connect transitions Closed/Closing -> Connecting and starts the inner
// connect loop.
func (q *Queue) Connect() error {
	if q.opts.IsRecv && q.getHandler() == nil {
		return gmq.ErrNoMsgHandler
	}

	q.mu.Lock()
	switch q.status {
	case gmq.StatusConnecting, gmq.StatusConnected:
		q.mu.Unlock()
		return nil
	}
	q.status = gmq.StatusConnecting
	q.mu.Unlock()
	q.broadcaster.Emit(gmq.StatusConnecting)

	go q.innerConnect()
	return nil
}

// onConnStatus implements the connection-status cascade of spec §4.2.
func (q *Queue) onConnStatus(s gmq.Status) {
	if s == gmq.StatusConnected {
		go q.innerConnect()
		return
	}
	cur := q.Status()
	if cur == gmq.StatusClosing || cur == gmq.StatusClosed || cur == gmq.StatusConnecting {
		return
	}
	q.setStatus(gmq.StatusConnecting)
	q.scheduleRetry()
}

// innerConnect runs only when the Queue is Connecting and not already
// processing. For a sender it is a no-op beyond requiring the Connection
// be Connected; for a receiver it (re-)registers the packet handler and
// subscribes.
func (q *Queue) innerConnect() {
	if !q.connecting.CompareAndSwap(false, true) {
		return
	}
	defer q.connecting.Store(false)

	if q.Status() != gmq.StatusConnecting {
		return
	}

	if q.conn.Status() != gmq.StatusConnected {
		q.scheduleRetry()
		return
	}

	if q.opts.IsRecv {
		if err := q.conn.addPacketHandler(q.opts.Name, q.topic, q.opts.Reliable, q.onMessage); err != nil {
			q.logger.Warn("packet handler registration failed", "error", err)
			q.scheduleRetry()
			return
		}
		if err := q.conn.subscribe(q.topic, q.qos()); err != nil {
			q.logger.Warn("subscribe failed", "error", err)
			q.conn.removePacketHandler(q.opts.Name)
			q.scheduleRetry()
			return
		}
	}

	q.setStatus(gmq.StatusConnected)
}

func (q *Queue) onMessage(_ string, payload []byte) {
	handler := q.getHandler()
	if handler == nil {
		return
	}
	handler(&gmq.Message{Payload: payload, Meta: nil})
}

func (q *Queue) scheduleRetry() {
	if q.closing.Load() {
		return
	}
	d := time.Duration(q.opts.ReconnectMillis) * time.Millisecond
	if d <= 0 {
		d = gmq.DefaultReconnectMillis * time.Millisecond
	}
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.closing.Load() {
		return
	}
	q.timer = time.AfterFunc(d, q.innerConnect)
}

// Close is idempotent; ack fires exactly once.
func (q *Queue) Close(ack gmq.AckFunc) error {
	q.mu.Lock()
	if q.status == gmq.StatusClosed {
		q.mu.Unlock()
		if ack != nil {
			ack(nil)
		}
		return nil
	}
	q.status = gmq.StatusClosing
	q.mu.Unlock()

	if !q.closing.Swap(true) {
		close(q.stopCh)
	}

	q.timerMu.Lock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timerMu.Unlock()

	if q.opts.IsRecv {
		q.conn.unsubscribe(q.topic)
		q.conn.removePacketHandler(q.opts.Name)
	}

	q.setStatus(gmq.StatusClosed)
	if ack != nil {
		ack(nil)
	}
	return nil
}

// SendMsg publishes payload. Senders only.
func (q *Queue) SendMsg(payload []byte, ack gmq.AckFunc) error {
	if q.opts.IsRecv {
		return fail(ack, gmq.ErrQueueIsReceiver)
	}
	if q.Status() != gmq.StatusConnected {
		return fail(ack, gmq.ErrNotConnected)
	}

	token := q.conn.publish(q.topic, payload, q.qos())
	if token == nil {
		return fail(ack, gmq.ErrNotConnected)
	}

	if ack == nil {
		return nil
	}
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			ack(gmq.NewTransportError("publish", err))
			return
		}
		ack(nil)
	}()
	return nil
}

// Ack is a documented no-op: MQTT QoS 0/1 delivery is settled by the
// client library itself, below this API.
func (q *Queue) Ack(_ *gmq.Message, ack gmq.AckFunc) error {
	if ack != nil {
		ack(nil)
	}
	return nil
}

// Nack is a documented no-op, see Ack.
func (q *Queue) Nack(_ *gmq.Message, ack gmq.AckFunc) error {
	if ack != nil {
		ack(nil)
	}
	return nil
}

func fail(ack gmq.AckFunc, err error) error {
	if ack != nil {
		ack(err)
	}
	return err
}
