// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package iot implements the Application/Network manager SDK of spec
// §4.4/§4.5: a data-queue factory plus two manager types composing the
// general-mq Unified Queue with typed IoT message schemas. Grounded on
// absmach-fluxmq/queue's manager construction shape (pool-backed,
// options-validated, status-aggregated) adapted from broker-side queue
// management to client-side manager composition.
package iot

import (
	"github.com/sylvia-iot/general-mq/gmq"
)

// Options configures an Application or Network manager, per spec §3/§4.4.
type Options struct {
	// UnitID/UnitCode identify the tenant-like unit; both empty means a
	// public network/application. If one is set, the other must be too.
	UnitID   string `yaml:"unitId"`
	UnitCode string `yaml:"unitCode"`
	// ID and Name identify the manager itself; both required non-empty.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Prefetch, when non-nil, must be in [1, 65535]; an explicit 0 is
	// rejected here (spec §9 open question 1) rather than silently
	// coerced. Leave nil to let the underlying AMQP Queue substitute its
	// own default of 100.
	Prefetch *int `yaml:"prefetch,omitempty"`
	// Persistent marks published AMQP messages with the persistent
	// delivery mode.
	Persistent bool `yaml:"persistent"`
	// SharedPrefix is forwarded to MQTT unicast-receiver queues.
	SharedPrefix string `yaml:"sharedPrefix"`
	// ReconnectMillis is forwarded to every created Queue. Default 1000.
	ReconnectMillis int `yaml:"reconnectMillis"`
}

// Validate enforces spec §4.4's factory-level rules plus, for
// Application managers, the non-empty unitId requirement of spec §4.5.
func (o *Options) Validate(requireUnitID bool) error {
	if o.ID == "" {
		return gmq.NewInvalidArgument("id", "must not be empty")
	}
	if o.Name == "" {
		return gmq.NewInvalidArgument("name", "must not be empty")
	}
	if (o.UnitID == "") != (o.UnitCode == "") {
		return gmq.NewInvalidArgument("unitId/unitCode", "must both be empty or both non-empty")
	}
	if requireUnitID && o.UnitID == "" {
		return gmq.NewInvalidArgument("unitId", "must not be empty")
	}
	if o.Prefetch != nil && (*o.Prefetch < 1 || *o.Prefetch > 65535) {
		return gmq.NewInvalidArgument("prefetch", "must be in [1, 65535]")
	}
	if o.ReconnectMillis < 0 {
		return gmq.NewInvalidArgument("reconnectMillis", "must be non-negative")
	}
	return nil
}

func (o *Options) prefetch() int {
	if o.Prefetch == nil {
		return 0
	}
	return *o.Prefetch
}
