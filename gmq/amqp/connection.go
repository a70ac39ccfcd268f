// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/sylvia-iot/general-mq/gmq"
	"github.com/sylvia-iot/general-mq/internal/validate"
)

// Connection is one AMQP 0-9-1 transport, grounded on
// absmach-fluxmq/client/amqp.Client's dial/watch/reconnect shape but
// reworked around gmq.Status instead of a bool connected flag, since a
// Connection here is shared read-only state for several Queues.
type Connection struct {
	opts *ConnectionOptions
	uri  *url.URL

	mu     sync.RWMutex
	status gmq.Status
	conn   *amqp091.Connection

	broadcaster gmq.StatusBroadcaster

	closing atomic.Bool
	stopCh  chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer

	breaker *gobreaker.CircuitBreaker

	logger hclog.Logger
}

var _ gmq.Connection = (*Connection)(nil)

// New validates opts and builds an unconnected Connection. Call Connect to
// dial.
func New(opts *ConnectionOptions, logger hclog.Logger) (*Connection, error) {
	if opts == nil {
		return nil, gmq.NewInvalidArgument("opts", "must not be nil")
	}
	u, err := validate.HostURI(opts.URI, validate.AMQPScheme, gmq.NewInvalidArgument)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	c := &Connection{
		opts:   opts,
		uri:    u,
		status: gmq.StatusClosed,
		stopCh: make(chan struct{}),
		logger: logger.Named("gmq.amqp.connection"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-dial:" + u.Host,
		MaxRequests: 1,
		Timeout:     c.opts.reconnectInterval(),
	})
	return c, nil
}

// URI returns the canonical broker URI (credentials stripped for logging
// safety).
func (c *Connection) URI() string {
	redacted := *c.uri
	redacted.User = nil
	return redacted.String()
}

func (c *Connection) Status() gmq.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) SetStatusHandler(l gmq.StatusListener) {
	c.broadcaster.Add(l)
}

func (c *Connection) setStatus(s gmq.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.broadcaster.Emit(s)
}

// Connect is idempotent from Closed/Closing; a no-op from
// Connecting/Connected (spec §4.1).
func (c *Connection) Connect() error {
	c.mu.Lock()
	switch c.status {
	case gmq.StatusConnecting, gmq.StatusConnected:
		c.mu.Unlock()
		return nil
	}
	c.status = gmq.StatusConnecting
	c.mu.Unlock()
	c.broadcaster.Emit(gmq.StatusConnecting)

	go c.dialLoop()
	return nil
}

// dialLoop attempts one dial; on failure it arms a retry timer that calls
// dialLoop again, so it behaves as a loop without blocking a goroutine
// between attempts.
func (c *Connection) dialLoop() {
	if c.closing.Load() {
		return
	}
	conn, err := c.dialOnce()
	if err != nil {
		c.logger.Warn("dial failed, will retry", "uri", c.URI(), "error", err)
		c.scheduleRetry(c.dialLoop)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(gmq.StatusConnected)
	c.watchClose(conn)
}

func (c *Connection) dialOnce() (*amqp091.Connection, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		dialer := &net.Dialer{Timeout: c.opts.connectTimeout()}
		cfg := amqp091.Config{
			TLSClientConfig: c.opts.tlsConfig(),
			Dial:            dialer.Dial,
		}
		return amqp091.DialConfig(c.uri.String(), cfg)
	})
	if err != nil {
		return nil, err
	}
	return res.(*amqp091.Connection), nil
}

// watchClose registers the close/error hooks described in spec §4.1: on a
// close notification while not Closing/Closed, detach and redial.
func (c *Connection) watchClose(conn *amqp091.Connection) {
	notify := conn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		select {
		case err := <-notify:
			if err != nil {
				c.logger.Warn("connection closed with error", "uri", c.URI(), "error", err)
			}
			c.handleLost()
		case <-c.stopCh:
		}
	}()
}

func (c *Connection) handleLost() {
	if c.closing.Load() {
		return
	}
	c.mu.Lock()
	if c.status == gmq.StatusClosing || c.status == gmq.StatusClosed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = gmq.StatusConnecting
	c.mu.Unlock()
	c.broadcaster.Emit(gmq.StatusConnecting)

	c.scheduleRetry(c.dialLoop)
}

// scheduleRetry arms a cancelable one-shot timer; returns false if the
// Connection was closed in the meantime so the caller can stop looping.
func (c *Connection) scheduleRetry(fn func()) bool {
	if c.closing.Load() {
		return false
	}
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.closing.Load() {
		return false
	}
	c.timer = time.AfterFunc(c.opts.reconnectInterval(), fn)
	return true
}

// Close always drives state to Closed and invokes ack exactly once.
func (c *Connection) Close(ack gmq.AckFunc) error {
	c.mu.Lock()
	if c.status == gmq.StatusClosed {
		c.mu.Unlock()
		if ack != nil {
			ack(nil)
		}
		return nil
	}
	c.status = gmq.StatusClosing
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if !c.closing.Swap(true) {
		close(c.stopCh)
	}

	c.timerMu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerMu.Unlock()

	var err error
	if conn != nil {
		err = gmq.NewTransportError("close connection", conn.Close())
	}

	c.setStatus(gmq.StatusClosed)
	if ack != nil {
		ack(err)
	}
	return err
}

// rawConn returns the live *amqp091.Connection, or an error if not
// Connected. Used by Queue to open its own channel.
func (c *Connection) rawConn() (*amqp091.Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != gmq.StatusConnected || c.conn == nil {
		return nil, fmt.Errorf("%w", gmq.ErrNotConnected)
	}
	return c.conn, nil
}
