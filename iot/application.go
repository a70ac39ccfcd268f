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

const applicationPrefix = "broker.application"

// ApplicationHandler holds the three callbacks an Application dispatches
// received messages to, per spec §4.5. All three are required.
type ApplicationHandler struct {
	OnUlData       func(app *Application, data *schema.AppUlData, ack gmq.AckFunc)
	OnDlDataResp   func(app *Application, data *schema.AppDlDataResp, ack gmq.AckFunc)
	OnDlDataResult func(app *Application, data *schema.AppDlDataResult, ack gmq.AckFunc)
}

func (h *ApplicationHandler) validate() error {
	if h == nil || h.OnUlData == nil {
		return gmq.NewInvalidArgument("handler.onUlData", "must not be nil")
	}
	if h.OnDlDataResp == nil {
		return gmq.NewInvalidArgument("handler.onDlDataResp", "must not be nil")
	}
	if h.OnDlDataResult == nil {
		return gmq.NewInvalidArgument("handler.onDlDataResult", "must not be nil")
	}
	return nil
}

// Application is the Application manager of spec §3/§4.5: it owns
// uldata(recv)/dldata(send)/dldata-resp(recv)/dldata-result(recv) queues
// on a shared, pooled Connection.
type Application struct {
	*manager
	handler *ApplicationHandler
}

// NewApplication validates connPool/hostUri/opts/handler, obtains a
// Connection from the pool, builds the queue set, and connects every
// queue. opts.UnitID must be non-empty (spec §4.5).
func NewApplication(connPool *pool.Pool, hostURI string, opts *Options, handler *ApplicationHandler, logger hclog.Logger) (*Application, error) {
	if err := handler.validate(); err != nil {
		return nil, err
	}

	m, err := newManager(connPool, hostURI, opts, applicationPrefix, false, true, logger)
	if err != nil {
		return nil, err
	}

	app := &Application{manager: m, handler: handler}
	if err := m.start(app.route); err != nil {
		_ = m.Close(nil)
		return nil, err
	}
	return app, nil
}

// route dispatches a received message by its source queue role, per spec
// §4.5's "Message routing" table.
func (a *Application) route(role string, msg *gmq.Message) {
	switch role {
	case "uldata":
		var data schema.AppUlData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			_ = a.queues["uldata"].Ack(msg, nil)
			return
		}
		a.settle("uldata", msg, func(ack gmq.AckFunc) { a.handler.OnUlData(a, &data, ack) })
	case "dldata-resp":
		var data schema.AppDlDataResp
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			_ = a.queues["dldata-resp"].Ack(msg, nil)
			return
		}
		a.settle("dldata-resp", msg, func(ack gmq.AckFunc) { a.handler.OnDlDataResp(a, &data, ack) })
	case "dldata-result":
		var data schema.AppDlDataResult
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			_ = a.queues["dldata-result"].Ack(msg, nil)
			return
		}
		a.settle("dldata-result", msg, func(ack gmq.AckFunc) { a.handler.OnDlDataResult(a, &data, ack) })
	}
}

// SendDlData validates data's addressing disjunction, encodes it (data as
// hex), and publishes on the dldata queue.
func (a *Application) SendDlData(data *schema.AppDlData, ack gmq.AckFunc) error {
	if err := data.Validate(gmq.NewInvalidArgument); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return gmq.NewTransportError("marshal AppDlData", err)
	}
	return a.queues["dldata"].SendMsg(payload, ack)
}
