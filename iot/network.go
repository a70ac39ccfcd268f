// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package iot

import (
	"encoding/json"

	"github.com/hashicorp/go-hclog"

	"github.com/sylvia-iot/general-mq/gmq"
	"github.com/sylvia-iot/general-mq/gmq/pool"
	"github.com/sylvia-iot/general-mq/iot/schema"
)

const networkPrefix = "broker.network"

// NetworkHandler holds the two callbacks a Network dispatches received
// messages to, per spec §4.5. Both are required.
type NetworkHandler struct {
	OnDlData func(net *Network, data *schema.NetDlData, ack gmq.AckFunc)
	OnCtrl   func(net *Network, data *schema.NetCtrlMsg, ack gmq.AckFunc)
}

func (h *NetworkHandler) validate() error {
	if h == nil || h.OnDlData == nil {
		return gmq.NewInvalidArgument("handler.onDlData", "must not be nil")
	}
	if h.OnCtrl == nil {
		return gmq.NewInvalidArgument("handler.onCtrl", "must not be nil")
	}
	return nil
}

// Network is the Network manager of spec §3/§4.5: it owns
// uldata(send)/dldata(recv)/dldata-result(send)/ctrl(recv) queues on a
// shared, pooled Connection. Unlike Application, unitId/unitCode may both
// be empty (public network).
type Network struct {
	*manager
	handler *NetworkHandler
}

// NewNetwork validates connPool/hostUri/opts/handler, obtains a
// Connection from the pool, builds the queue set, and connects every
// queue.
func NewNetwork(connPool *pool.Pool, hostURI string, opts *Options, handler *NetworkHandler, logger hclog.Logger) (*Network, error) {
	if err := handler.validate(); err != nil {
		return nil, err
	}

	m, err := newManager(connPool, hostURI, opts, networkPrefix, true, false, logger)
	if err != nil {
		return nil, err
	}

	net := &Network{manager: m, handler: handler}
	if err := m.start(net.route); err != nil {
		_ = m.Close(nil)
		return nil, err
	}
	return net, nil
}

// route dispatches a received message by its source queue role, per spec
// §4.5's "Message routing" table.
func (n *Network) route(role string, msg *gmq.Message) {
	switch role {
	case "dldata":
		var data schema.NetDlData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			_ = n.queues["dldata"].Ack(msg, nil)
			return
		}
		n.settle("dldata", msg, func(ack gmq.AckFunc) { n.handler.OnDlData(n, &data, ack) })
	case "ctrl":
		var data schema.NetCtrlMsg
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			_ = n.queues["ctrl"].Ack(msg, nil)
			return
		}
		n.settle("ctrl", msg, func(ack gmq.AckFunc) { n.handler.OnCtrl(n, &data, ack) })
	}
}

// SendUlData encodes data (time ISO, data hex) and publishes on the
// uldata queue.
func (n *Network) SendUlData(data *schema.NetUlData, ack gmq.AckFunc) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return gmq.NewTransportError("marshal NetUlData", err)
	}
	return n.queues["uldata"].SendMsg(payload, ack)
}

// SendDlDataResult encodes data and publishes on the dldata-result queue.
func (n *Network) SendDlDataResult(data *schema.NetDlDataResult, ack gmq.AckFunc) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return gmq.NewTransportError("marshal NetDlDataResult", err)
	}
	return n.queues["dldata-result"].SendMsg(payload, ack)
}
