// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"testing"

	"github.com/sylvia-iot/general-mq/gmq"
)

func newTestConn(t *testing.T) *Connection {
	c, err := New(&ConnectionOptions{URI: "mqtt://localhost:1883"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

// fakeMessage implements pahomqtt.Message for dispatch tests, standing in
// for a delivery the broker has already stripped its "$share/..." group
// prefix from (the broker never hands the subscribed topic back, only the
// plain queue name).
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// TestOnMessageDispatchesByStrippedTopicMatchingSharedUnicastHandler is a
// regression test: a unicast receiver with a non-empty SharedPrefix
// subscribes to "$share/.../name" but the broker delivers with topic
// "name" (the prefix stripped). addPacketHandler is keyed by name, not
// the subscribed topic, so dispatch on the stripped delivery must still
// find the handler.
func TestOnMessageDispatchesByStrippedTopicMatchingSharedUnicastHandler(t *testing.T) {
	conn := newTestConn(t)
	const name = "unit.name.uldata"
	const subscribedTopic = "$share/general-mq/" + name

	var got []byte
	err := conn.addPacketHandler(name, subscribedTopic, false, func(_ string, payload []byte) {
		got = payload
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.onMessage(nil, fakeMessage{topic: name, payload: []byte("hello")})

	if string(got) != "hello" {
		t.Fatalf("handler was not invoked for the stripped delivery topic %q (registered under subscribed topic %q); got payload %q", name, subscribedTopic, got)
	}
}

// TestOnMessageIgnoresUnregisteredTopic guards against the inverse
// mistake: dispatch must not match on the subscribed (prefixed) topic
// either, since the broker never delivers that string.
func TestOnMessageIgnoresUnregisteredTopic(t *testing.T) {
	conn := newTestConn(t)
	const name = "unit.name.uldata"
	const subscribedTopic = "$share/general-mq/" + name

	called := false
	err := conn.addPacketHandler(name, subscribedTopic, false, func(_ string, _ []byte) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.onMessage(nil, fakeMessage{topic: subscribedTopic, payload: []byte("hello")})

	if called {
		t.Fatal("handler fired for the subscribed (prefixed) topic; dispatch should only match the stripped queue name")
	}
}

// TestRemovePacketHandlerByNameStopsDispatch confirms removePacketHandler
// takes a queue name, matching addPacketHandler's key, not a topic.
func TestRemovePacketHandlerByNameStopsDispatch(t *testing.T) {
	conn := newTestConn(t)
	const name = "unit.name.uldata"

	called := false
	if err := conn.addPacketHandler(name, name, false, func(_ string, _ []byte) { called = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn.removePacketHandler(name)
	conn.onMessage(nil, fakeMessage{topic: name, payload: []byte("hello")})

	if called {
		t.Fatal("handler fired after removePacketHandler(name) removed it")
	}
}

func TestAddPacketHandlerRejectsTopicNotEndingWithName(t *testing.T) {
	conn := newTestConn(t)
	err := conn.addPacketHandler("unit.name.uldata", "some/other/topic", false, func(string, []byte) {})
	if !errors.Is(err, ErrBadPacketHandler) {
		t.Fatalf("got %v, want ErrBadPacketHandler", err)
	}
}

// TestConnectRequiresMsgHandlerForReceivers is spec §8 invariant 3.
func TestConnectRequiresMsgHandlerForReceivers(t *testing.T) {
	q, err := New(&QueueOptions{QueueOptions: gmq.QueueOptions{Name: "a.b", IsRecv: true}}, newTestConn(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Connect(); !errors.Is(err, gmq.ErrNoMsgHandler) {
		t.Fatalf("got %v, want ErrNoMsgHandler", err)
	}
}

// TestCloseIsIdempotentAndAcksExactlyOnce is spec §8 invariant 4.
func TestCloseIsIdempotentAndAcksExactlyOnce(t *testing.T) {
	q, err := New(&QueueOptions{QueueOptions: gmq.QueueOptions{Name: "a.b", IsRecv: false}}, newTestConn(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := 0
	if err := q.Close(func(error) { calls++ }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Close(func(error) { calls++ }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("ack called %d times across two Close calls, want 2 (once each)", calls)
	}
	if q.Status() != gmq.StatusClosed {
		t.Fatalf("Status() = %v, want StatusClosed", q.Status())
	}
}

func TestSendMsgRejectsReceiverQueue(t *testing.T) {
	q, err := New(&QueueOptions{QueueOptions: gmq.QueueOptions{Name: "a.b", IsRecv: true}}, newTestConn(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q.SetMsgHandler(func(*gmq.Message) {})

	if err := q.SendMsg([]byte("x"), nil); !errors.Is(err, gmq.ErrQueueIsReceiver) {
		t.Fatalf("got %v, want ErrQueueIsReceiver", err)
	}
}

func TestSendMsgRejectsWhenNotConnected(t *testing.T) {
	q, err := New(&QueueOptions{QueueOptions: gmq.QueueOptions{Name: "a.b", IsRecv: false}}, newTestConn(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.SendMsg([]byte("x"), nil); !errors.Is(err, gmq.ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

// TestAckAndNackAreNoops documents spec §9's MQTT ack/nack limitation: both
// settle immediately regardless of the message passed in.
func TestAckAndNackAreNoops(t *testing.T) {
	q, err := New(&QueueOptions{QueueOptions: gmq.QueueOptions{Name: "a.b", IsRecv: true}}, newTestConn(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ackCalled, nackCalled := false, false
	if err := q.Ack(&gmq.Message{}, func(error) { ackCalled = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Nack(&gmq.Message{}, func(error) { nackCalled = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ackCalled || !nackCalled {
		t.Fatalf("ackCalled=%v nackCalled=%v, want both true", ackCalled, nackCalled)
	}
}
