// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package iot

import (
	"errors"
	"testing"

	"github.com/sylvia-iot/general-mq/gmq"
)

type fakeQueue struct {
	name      string
	isRecv    bool
	status    gmq.Status
	ackCalls  int
	nackCalls int
}

func (f *fakeQueue) Name() string                       { return f.name }
func (f *fakeQueue) IsRecv() bool                        { return f.isRecv }
func (f *fakeQueue) Reliable() bool                      { return true }
func (f *fakeQueue) Broadcast() bool                     { return false }
func (f *fakeQueue) Status() gmq.Status                  { return f.status }
func (f *fakeQueue) SetStatusHandler(gmq.StatusListener) {}
func (f *fakeQueue) SetMsgHandler(gmq.MsgHandler)        {}
func (f *fakeQueue) Connect() error                      { return nil }
func (f *fakeQueue) Close(ack gmq.AckFunc) error {
	if ack != nil {
		ack(nil)
	}
	return nil
}
func (f *fakeQueue) SendMsg([]byte, gmq.AckFunc) error { return nil }
func (f *fakeQueue) Ack(*gmq.Message, gmq.AckFunc) error {
	f.ackCalls++
	return nil
}
func (f *fakeQueue) Nack(*gmq.Message, gmq.AckFunc) error {
	f.nackCalls++
	return nil
}

// TestManagerStatusDedupesConsecutiveEmits is spec §8 invariant 5: the
// manager's Ready/NotReady status is never emitted twice in a row for the
// same value, and flips to Ready only once every owned queue reports
// Connected.
func TestManagerStatusDedupesConsecutiveEmits(t *testing.T) {
	m := &manager{
		queues: map[string]gmq.Queue{
			"uldata": &fakeQueue{name: "q1"},
			"dldata": &fakeQueue{name: "q2"},
		},
		queueStatus: map[string]gmq.Status{
			"uldata": gmq.StatusClosed,
			"dldata": gmq.StatusClosed,
		},
	}

	var emitted []ManagerStatus
	m.SetStatusHandler(func(s ManagerStatus) { emitted = append(emitted, s) })

	m.onQueueStatus("uldata", gmq.StatusConnecting)
	m.onQueueStatus("dldata", gmq.StatusConnecting)
	if len(emitted) != 1 || emitted[0] != NotReady {
		t.Fatalf("emitted = %v, want a single NotReady (deduped)", emitted)
	}

	m.onQueueStatus("uldata", gmq.StatusConnected)
	m.onQueueStatus("dldata", gmq.StatusConnected)
	if len(emitted) != 2 || emitted[1] != Ready {
		t.Fatalf("emitted = %v, want NotReady then a single Ready", emitted)
	}
	if m.Status() != Ready {
		t.Fatalf("Status() = %v, want Ready", m.Status())
	}
}

// TestManagerSettleAcksOnSuccessNacksOnError is spec §8 invariant 8: each
// routed message produces exactly one settlement, ack on success and
// nack on error.
func TestManagerSettleAcksOnSuccessNacksOnError(t *testing.T) {
	q := &fakeQueue{name: "uldata", isRecv: true}
	m := &manager{queues: map[string]gmq.Queue{"uldata": q}}

	m.settle("uldata", &gmq.Message{}, func(ack gmq.AckFunc) { ack(nil) })
	if q.ackCalls != 1 || q.nackCalls != 0 {
		t.Fatalf("ackCalls=%d nackCalls=%d, want 1/0 after a successful settlement", q.ackCalls, q.nackCalls)
	}

	m.settle("uldata", &gmq.Message{}, func(ack gmq.AckFunc) { ack(errors.New("handler failed")) })
	if q.ackCalls != 1 || q.nackCalls != 1 {
		t.Fatalf("ackCalls=%d nackCalls=%d, want 1/1 after a failed settlement", q.ackCalls, q.nackCalls)
	}
}
