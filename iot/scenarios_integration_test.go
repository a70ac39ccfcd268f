//go:build integration

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package iot_test

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/general-mq/gmq"
	gmqamqp "github.com/sylvia-iot/general-mq/gmq/amqp"
	"github.com/sylvia-iot/general-mq/gmq/pool"
	"github.com/sylvia-iot/general-mq/iot"
	"github.com/sylvia-iot/general-mq/iot/schema"
)

func amqpURIOrSkip(t *testing.T) string {
	uri := os.Getenv("GENERAL_MQ_TEST_AMQP_URI")
	if uri == "" {
		t.Skip("GENERAL_MQ_TEST_AMQP_URI not set")
	}
	return uri
}

// TestApplicationSendDlDataNetworkAddressing is spec.md §8's "application
// dldata addressing" scenario: SendDlData with a networkCode+networkAddr
// target marshals and publishes; a plain receiver bound to the same
// dldata queue observes the addressing fields unchanged.
func TestApplicationSendDlDataNetworkAddressing(t *testing.T) {
	uri := amqpURIOrSkip(t)
	p := pool.New()

	handler := &iot.ApplicationHandler{
		OnUlData:       func(*iot.Application, *schema.AppUlData, gmq.AckFunc) {},
		OnDlDataResp:   func(*iot.Application, *schema.AppDlDataResp, gmq.AckFunc) {},
		OnDlDataResult: func(*iot.Application, *schema.AppDlDataResult, gmq.AckFunc) {},
	}
	opts := &iot.Options{UnitID: "unit1", UnitCode: "code1", ID: "app1", Name: "app1"}

	app, err := iot.NewApplication(p, uri, opts, handler, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(nil) })

	conn, err := gmqamqp.New(&gmqamqp.ConnectionOptions{URI: uri}, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect())
	t.Cleanup(func() {
		done := make(chan struct{})
		conn.Close(func(error) { close(done) })
		<-done
	})

	received := make(chan schema.AppDlData, 1)
	recvQ, err := gmqamqp.New(&gmqamqp.QueueOptions{
		QueueOptions: gmq.QueueOptions{Name: "broker.application.code1.app1.dldata", IsRecv: true},
		Prefetch:     1,
	}, conn, nil)
	require.NoError(t, err)
	recvQ.SetMsgHandler(func(msg *gmq.Message) {
		var data schema.AppDlData
		if err := json.Unmarshal(msg.Payload, &data); err == nil {
			received <- data
		}
		recvQ.Ack(msg, nil)
	})
	require.NoError(t, recvQ.Connect())

	require.Eventually(t, func() bool { return recvQ.Status() == gmq.StatusConnected }, 5*time.Second, 20*time.Millisecond)

	want := &schema.AppDlData{CorrelationID: "corr1", NetworkCode: "net1", NetworkAddr: "addr1", Data: schema.HexBytes{0x01, 0x02}}
	require.NoError(t, app.SendDlData(want, nil))

	select {
	case got := <-received:
		require.Equal(t, want.NetworkCode, got.NetworkCode)
		require.Equal(t, want.NetworkAddr, got.NetworkAddr)
		require.Empty(t, got.DeviceID)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("dldata was not observed within 1.5s")
	}
}
