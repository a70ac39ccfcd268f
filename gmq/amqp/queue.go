// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/sylvia-iot/general-mq/gmq"
)

// Queue is the AMQP 0-9-1 Unified Queue: it declares/subscribes broker
// resources according to {isRecv, reliable, broadcast} and either
// publishes or consumes with uniform ack/nack, per spec §4.2/§6.
// Grounded on absmach-fluxmq/client/amqp.Client + Queue (channel
// lifecycle, NotifyClose watch, chMu-guarded publish) generalized from a
// single always-on client into a Connecting/Connected/Closing state
// machine layered on a shared Connection.
type Queue struct {
	opts *QueueOptions
	conn *Connection

	mu     sync.RWMutex
	status gmq.Status
	ch     *amqp091.Channel

	broadcaster gmq.StatusBroadcaster

	handlerMu sync.RWMutex
	handler   gmq.MsgHandler

	chMu      sync.Mutex
	anonQueue string

	connecting atomic.Bool
	closing    atomic.Bool
	stopCh     chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer

	logger hclog.Logger
}

var _ gmq.Queue = (*Queue)(nil)

// New validates opts against conn's protocol family and returns an
// unconnected Queue.
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
		status: gmq.StatusClosed,
		stopCh: make(chan struct{}),
		logger: logger.Named("gmq.amqp.queue").With("queue", opts.Name),
	}
	conn.SetStatusHandler(q.onConnStatus)
	return q, nil
}

func (q *Queue) Name() string      { return q.opts.Name }
func (q *Queue) IsRecv() bool      { return q.opts.IsRecv }
func (q *Queue) Reliable() bool    { return q.opts.Reliable }
func (q *Queue) Broadcast() bool   { return q.opts.Broadcast }
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

// innerConnect runs only when the queue is Connecting and not already
// processing (spec §4.2).
func (q *Queue) innerConnect() {
	if !q.connecting.CompareAndSwap(false, true) {
		return
	}
	defer q.connecting.Store(false)

	if q.Status() != gmq.StatusConnecting {
		return
	}

	rawConn, err := q.conn.rawConn()
	if err != nil {
		q.scheduleRetry()
		return
	}

	ch, err := rawConn.Channel()
	if err != nil {
		q.logger.Warn("channel open failed", "error", err)
		q.scheduleRetry()
		return
	}

	if q.opts.Reliable {
		if err := ch.Confirm(false); err != nil {
			q.logger.Warn("confirm mode failed", "error", err)
			_ = ch.Close()
			q.scheduleRetry()
			return
		}
	}

	target, err := q.declareResources(ch)
	if err != nil {
		q.logger.Warn("resource declare failed", "error", err)
		_ = ch.Close()
		q.scheduleRetry()
		return
	}

	if q.opts.IsRecv {
		if err := ch.Qos(q.opts.Prefetch, 0, false); err != nil {
			q.logger.Warn("qos failed", "error", err)
			_ = ch.Close()
			q.scheduleRetry()
			return
		}
		deliveries, err := ch.Consume(target, "", false, false, false, false, nil)
		if err != nil {
			q.logger.Warn("consume failed", "error", err)
			_ = ch.Close()
			q.scheduleRetry()
			return
		}
		go q.dispatch(deliveries)
	}

	q.chMu.Lock()
	q.ch = ch
	q.chMu.Unlock()

	q.watchClose(ch)
	q.setStatus(gmq.StatusConnected)
}

// declareResources implements the exchange/queue declaration rules of
// spec §4.2/§6: fanout+anonymous-exclusive-queue for broadcast, a durable
// queue for unicast. Returns the consume target (ignored for senders).
func (q *Queue) declareResources(ch *amqp091.Channel) (string, error) {
	if q.opts.Broadcast {
		if err := ch.ExchangeDeclare(q.opts.Name, "fanout", false, false, false, false, nil); err != nil {
			return "", err
		}
		if !q.opts.IsRecv {
			return "", nil
		}
		anon, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return "", err
		}
		if err := ch.QueueBind(anon.Name, "", q.opts.Name, false, nil); err != nil {
			return "", err
		}
		q.chMu.Lock()
		q.anonQueue = anon.Name
		q.chMu.Unlock()
		return anon.Name, nil
	}

	if _, err := ch.QueueDeclare(q.opts.Name, true, false, false, false, nil); err != nil {
		return "", err
	}
	return q.opts.Name, nil
}

func (q *Queue) watchClose(ch *amqp091.Channel) {
	notify := ch.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		select {
		case err := <-notify:
			if err != nil {
				q.logger.Warn("channel closed with error", "error", err)
			}
			q.handleChannelLost()
		case <-q.stopCh:
		}
	}()
}

func (q *Queue) handleChannelLost() {
	if q.closing.Load() {
		return
	}
	q.chMu.Lock()
	q.ch = nil
	q.chMu.Unlock()

	cur := q.Status()
	if cur == gmq.StatusClosing || cur == gmq.StatusClosed {
		return
	}
	q.setStatus(gmq.StatusConnecting)
	q.scheduleRetry()
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

	q.chMu.Lock()
	ch := q.ch
	q.ch = nil
	q.chMu.Unlock()

	var err error
	if ch != nil {
		err = gmq.NewTransportError("close channel", ch.Close())
	}

	q.setStatus(gmq.StatusClosed)
	if ack != nil {
		ack(err)
	}
	return err
}

func (q *Queue) dispatch(deliveries <-chan amqp091.Delivery) {
	for d := range deliveries {
		handler := q.getHandler()
		if handler == nil {
			_ = d.Nack(false, true)
			continue
		}
		handler(&gmq.Message{Payload: d.Body, Meta: d})
	}
}

// SendMsg publishes payload. Senders only.
func (q *Queue) SendMsg(payload []byte, ack gmq.AckFunc) error {
	if q.opts.IsRecv {
		return fail(ack, gmq.ErrQueueIsReceiver)
	}
	q.chMu.Lock()
	ch := q.ch
	q.chMu.Unlock()
	if q.Status() != gmq.StatusConnected || ch == nil {
		return fail(ack, gmq.ErrNotConnected)
	}

	exchange, routingKey := "", q.opts.Name
	if q.opts.Broadcast {
		exchange, routingKey = q.opts.Name, ""
	}

	mode := amqp091.Transient
	if q.opts.Persistent {
		mode = amqp091.Persistent
	}
	publishing := amqp091.Publishing{
		Body:         payload,
		DeliveryMode: mode,
		Timestamp:    time.Now(),
	}

	if !q.opts.Reliable {
		q.chMu.Lock()
		err := ch.Publish(exchange, routingKey, false, false, publishing)
		q.chMu.Unlock()
		if err != nil {
			return fail(ack, gmq.NewTransportError("publish", err))
		}
		// Unreliable publish acks after a scheduler yield even when the
		// broker acknowledges synchronously (spec §4.2, §5, §8 inv. 6).
		if ack != nil {
			go func() {
				time.Sleep(time.Millisecond)
				ack(nil)
			}()
		}
		return nil
	}

	confirmCh := ch.NotifyPublish(make(chan amqp091.Confirmation, 1))
	q.chMu.Lock()
	err := ch.Publish(exchange, routingKey, true, false, publishing)
	q.chMu.Unlock()
	if err != nil {
		return fail(ack, gmq.NewTransportError("publish", err))
	}

	go func() {
		confirm, ok := <-confirmCh
		if !ok || !confirm.Ack {
			if ack != nil {
				ack(gmq.NewTransportError("publish", gmq.ErrTransport))
			}
			return
		}
		if ack != nil {
			ack(nil)
		}
	}()
	return nil
}

// Ack settles a received message as processed.
func (q *Queue) Ack(msg *gmq.Message, ack gmq.AckFunc) error {
	d, ok := msg.Meta.(amqp091.Delivery)
	if !ok {
		return fail(ack, gmq.NewInvalidArgument("msg", "not an AMQP delivery"))
	}
	q.chMu.Lock()
	err := gmq.NewTransportError("ack", d.Ack(false))
	q.chMu.Unlock()
	if ack != nil {
		ack(err)
	}
	return err
}

// Nack settles a received message as failed and requests redelivery.
func (q *Queue) Nack(msg *gmq.Message, ack gmq.AckFunc) error {
	d, ok := msg.Meta.(amqp091.Delivery)
	if !ok {
		return fail(ack, gmq.NewInvalidArgument("msg", "not an AMQP delivery"))
	}
	q.chMu.Lock()
	err := gmq.NewTransportError("nack", d.Nack(false, true))
	q.chMu.Unlock()
	if ack != nil {
		ack(err)
	}
	return err
}

func fail(ack gmq.AckFunc, err error) error {
	if ack != nil {
		ack(err)
	}
	return err
}
