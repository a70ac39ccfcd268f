// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package iot

import (
	"errors"
	"testing"

	"github.com/sylvia-iot/general-mq/gmq"
	"github.com/sylvia-iot/general-mq/iot/schema"
)

func TestApplicationHandlerValidateRequiresAllCallbacks(t *testing.T) {
	noop := func(*Application, *schema.AppUlData, gmq.AckFunc) {}

	if err := (*ApplicationHandler)(nil).validate(); !errors.Is(err, gmq.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument for a nil handler", err)
	}

	h := &ApplicationHandler{OnUlData: noop}
	if err := h.validate(); !errors.Is(err, gmq.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument: onDlDataResp missing", err)
	}
}

// TestSendDlDataRejectsInvalidAddressingWithoutTouchingQueues is the
// unit-testable half of spec.md §8's "application dldata addressing
// validation failure" scenario: Validate runs before any queue lookup,
// so this never needs a broker and must not panic on Application.queues
// being nil.
func TestSendDlDataRejectsInvalidAddressingWithoutTouchingQueues(t *testing.T) {
	app := &Application{manager: &manager{}}

	err := app.SendDlData(&schema.AppDlData{CorrelationID: "c1"}, nil)
	if !errors.Is(err, gmq.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument for neither-addressing-set", err)
	}

	err = app.SendDlData(&schema.AppDlData{CorrelationID: "c1", DeviceID: "d1", NetworkCode: "n1", NetworkAddr: "a1"}, nil)
	if !errors.Is(err, gmq.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument for both-addressing-set", err)
	}
}
