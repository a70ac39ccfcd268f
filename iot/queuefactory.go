// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package iot

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/sylvia-iot/general-mq/gmq"
	gmqamqp "github.com/sylvia-iot/general-mq/gmq/amqp"
	gmqmqtt "github.com/sylvia-iot/general-mq/gmq/mqtt"
)

// roleSpec names one of a manager's logical queues and its direction.
type roleSpec struct {
	role   string
	isRecv bool
}

// applicationRoles and networkRoles are the fixed per-manager queue sets
// of spec §4.4.
var (
	applicationRoles = []roleSpec{
		{"uldata", true},
		{"dldata", false},
		{"dldata-resp", true},
		{"dldata-result", true},
	}
	networkRoles = []roleSpec{
		{"uldata", false},
		{"dldata", true},
		{"dldata-result", false},
		{"ctrl", true},
	}
)

// queueName builds "[prefix].[unitCode|"_"].[name].<role>" per spec §4.4/§6.
func queueName(prefix, unitCode, name, role string) string {
	uc := unitCode
	if uc == "" {
		uc = "_"
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, uc, name, role)
}

// buildQueues constructs the fixed queue set for an Application
// (isNetwork=false) or Network (isNetwork=true) manager on conn, keyed by
// role.
func buildQueues(conn gmq.Connection, opts *Options, prefix string, isNetwork bool, logger hclog.Logger) (map[string]gmq.Queue, error) {
	roles := applicationRoles
	if isNetwork {
		roles = networkRoles
	}

	queues := make(map[string]gmq.Queue, len(roles))
	for _, r := range roles {
		base := gmq.QueueOptions{
			Name:            queueName(prefix, opts.UnitCode, opts.Name, r.role),
			IsRecv:          r.isRecv,
			Reliable:        true,
			Broadcast:       false,
			ReconnectMillis: opts.ReconnectMillis,
		}
		q, err := newQueue(conn, base, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("iot: building queue %q: %w", base.Name, err)
		}
		queues[r.role] = q
	}
	return queues, nil
}

// newQueue dispatches on conn's concrete protocol to build the matching
// gmq.Queue implementation, forwarding the protocol-specific Options
// extras (spec §4.4's "All created queues share ... prefetch, persistent,
// sharedPrefix").
func newQueue(conn gmq.Connection, base gmq.QueueOptions, opts *Options, logger hclog.Logger) (gmq.Queue, error) {
	switch c := conn.(type) {
	case *gmqamqp.Connection:
		qo := &gmqamqp.QueueOptions{
			QueueOptions: base,
			Prefetch:     opts.prefetch(),
			Persistent:   opts.Persistent,
		}
		return gmqamqp.New(qo, c, logger)
	case *gmqmqtt.Connection:
		qo := &gmqmqtt.QueueOptions{
			QueueOptions: base,
			SharedPrefix: opts.SharedPrefix,
		}
		return gmqmqtt.New(qo, c, logger)
	default:
		return nil, fmt.Errorf("iot: unsupported connection type %T", conn)
	}
}
