// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package iot

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/sylvia-iot/general-mq/gmq"
	gmqamqp "github.com/sylvia-iot/general-mq/gmq/amqp"
	gmqmqtt "github.com/sylvia-iot/general-mq/gmq/mqtt"
	"github.com/sylvia-iot/general-mq/gmq/pool"
)

// ManagerStatus is a manager's aggregated readiness, spec §3: "Manager
// state: NotReady | Ready (Ready iff every owned queue is Connected)".
type ManagerStatus int

const (
	NotReady ManagerStatus = iota
	Ready
)

func (s ManagerStatus) String() string {
	if s == Ready {
		return "Ready"
	}
	return "NotReady"
}

// ManagerStatusListener is invoked on every manager status transition.
type ManagerStatusListener func(status ManagerStatus)

// statusBroadcaster dedupes consecutive identical statuses, mirroring
// gmq.StatusBroadcaster (spec §8 invariant 5: "never duplicated
// consecutively"), duplicated here rather than reused because it carries
// a different status type.
type statusBroadcaster struct {
	mu        sync.Mutex
	listeners []ManagerStatusListener
	last      ManagerStatus
	hasLast   bool
}

func (b *statusBroadcaster) Add(l ManagerStatusListener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

func (b *statusBroadcaster) Emit(s ManagerStatus) {
	b.mu.Lock()
	if b.hasLast && b.last == s {
		b.mu.Unlock()
		return
	}
	b.last = s
	b.hasLast = true
	listeners := make([]ManagerStatusListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

// manager is the shared state and connect/close machinery behind
// Application and Network, grounded on absmach-fluxmq/queue's
// pool-backed, options-validated manager construction shape.
type manager struct {
	id       string
	name     string
	unitID   string
	unitCode string

	pool *pool.Pool
	uri  string
	conn gmq.Connection

	queues map[string]gmq.Queue

	mu          sync.Mutex
	queueStatus map[string]gmq.Status
	broadcaster statusBroadcaster

	logger hclog.Logger
}

// newManager validates opts, obtains a Connection from pool (incrementing
// its reference count once per created queue, per spec §4.5 "increments
// the pool reference count by 4"), and builds the queue set via §4.4. It
// does not install message handlers or connect queues — the caller
// (Application/Network constructor) does that once its own routing
// closures exist.
func newManager(p *pool.Pool, hostURI string, opts *Options, prefix string, isNetwork, requireUnitID bool, logger hclog.Logger) (*manager, error) {
	if p == nil {
		return nil, gmq.NewInvalidArgument("connPool", "must not be nil")
	}
	if opts == nil {
		return nil, gmq.NewInvalidArgument("opts", "must not be nil")
	}
	if err := opts.Validate(requireUnitID); err != nil {
		return nil, err
	}
	u, err := url.Parse(hostURI)
	if err != nil || u.Host == "" {
		return nil, gmq.NewInvalidArgument("hostUri", "must be a valid URI")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	roles := applicationRoles
	if isNetwork {
		roles = networkRoles
	}

	uri := u.String()
	var conn gmq.Connection
	for i := 0; i < len(roles); i++ {
		c, err := p.GetConnection(uri, func() (gmq.Connection, error) { return newConnection(u, logger) })
		if err != nil {
			if i > 0 {
				p.RemoveConnection(uri, i, nil)
			}
			return nil, err
		}
		conn = c
	}

	queues, err := buildQueues(conn, opts, prefix, isNetwork, logger)
	if err != nil {
		p.RemoveConnection(uri, len(roles), nil)
		return nil, err
	}

	queueStatus := make(map[string]gmq.Status, len(queues))
	for role := range queues {
		queueStatus[role] = gmq.StatusClosed
	}

	return &manager{
		id:          opts.ID,
		name:        opts.Name,
		unitID:      opts.UnitID,
		unitCode:    opts.UnitCode,
		pool:        p,
		uri:         uri,
		conn:        conn,
		queues:      queues,
		queueStatus: queueStatus,
		logger:      logger,
	}, nil
}

// newConnection dispatches on hostUri's scheme to build the matching
// unconnected gmq.Connection.
func newConnection(u *url.URL, logger hclog.Logger) (gmq.Connection, error) {
	switch u.Scheme {
	case "amqp", "amqps":
		return gmqamqp.New(&gmqamqp.ConnectionOptions{URI: u.String()}, logger)
	case "mqtt", "mqtts":
		return gmqmqtt.New(&gmqmqtt.ConnectionOptions{URI: u.String()}, logger)
	default:
		return nil, gmq.NewInvalidArgument("hostUri", "scheme must be amqp(s) or mqtt(s)")
	}
}

// start installs status/message handlers on every owned queue and
// triggers each queue's connect, per spec §4.5 "installs status and
// message handlers on every created queue ... triggers each queue's
// connect". router is called once per inbound message on a receiver
// queue, identified by role. Connect calls run concurrently since each
// queue's inner connect loop blocks on its own dial/subscribe.
func (m *manager) start(router func(role string, msg *gmq.Message)) error {
	for role, q := range m.queues {
		role := role
		q.SetStatusHandler(func(s gmq.Status) { m.onQueueStatus(role, s) })
		if q.IsRecv() {
			q.SetMsgHandler(func(msg *gmq.Message) { router(role, msg) })
		}
	}

	var g errgroup.Group
	for role, q := range m.queues {
		role, q := role, q
		g.Go(func() error {
			if err := q.Connect(); err != nil {
				return fmt.Errorf("iot: connecting queue %q: %w", role, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *manager) onQueueStatus(role string, s gmq.Status) {
	m.mu.Lock()
	m.queueStatus[role] = s
	ready := true
	for _, st := range m.queueStatus {
		if st != gmq.StatusConnected {
			ready = false
			break
		}
	}
	m.mu.Unlock()

	if ready {
		m.broadcaster.Emit(Ready)
	} else {
		m.broadcaster.Emit(NotReady)
	}
}

// SetStatusHandler registers l for manager readiness transitions.
func (m *manager) SetStatusHandler(l ManagerStatusListener) {
	m.broadcaster.Add(l)
}

// Status returns the manager's last-emitted readiness, NotReady before
// the first aggregation.
func (m *manager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.queueStatus {
		if st != gmq.StatusConnected {
			return NotReady
		}
	}
	return Ready
}

// settle invokes call with an ack continuation that nacks the message on
// error and acks otherwise, per spec §4.5's "Result sink" routing rule.
func (m *manager) settle(role string, msg *gmq.Message, call func(ack gmq.AckFunc)) {
	q := m.queues[role]
	call(func(err error) {
		if err != nil {
			_ = q.Nack(msg, nil)
			return
		}
		_ = q.Ack(msg, nil)
	})
}

// Close closes every owned queue in sequence (collecting the first
// error), then releases the manager's share of the pooled Connection, per
// spec §4.5.
func (m *manager) Close(ack gmq.AckFunc) error {
	var firstErr error
	for _, q := range m.queues {
		if err := q.Close(nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.pool.RemoveConnection(m.uri, len(m.queues), ack)
	return firstErr
}
