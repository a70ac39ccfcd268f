// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/sylvia-iot/general-mq/gmq"
)

func TestTopicUnicastReceiverUsesSharedPrefix(t *testing.T) {
	o := &QueueOptions{
		QueueOptions: gmq.QueueOptions{Name: "unit.name.uldata", IsRecv: true, Broadcast: false},
		SharedPrefix: "$share/general-mq/",
	}
	if got, want := o.topic(), "$share/general-mq/unit.name.uldata"; got != want {
		t.Errorf("topic() = %q, want %q", got, want)
	}
}

func TestTopicBroadcastReceiverIgnoresSharedPrefix(t *testing.T) {
	o := &QueueOptions{
		QueueOptions: gmq.QueueOptions{Name: "unit.name.uldata", IsRecv: true, Broadcast: true},
		SharedPrefix: "$share/general-mq/",
	}
	if got, want := o.topic(), "unit.name.uldata"; got != want {
		t.Errorf("topic() = %q, want %q", got, want)
	}
}

func TestTopicSenderIgnoresSharedPrefix(t *testing.T) {
	o := &QueueOptions{
		QueueOptions: gmq.QueueOptions{Name: "unit.name.dldata", IsRecv: false},
		SharedPrefix: "$share/general-mq/",
	}
	if got, want := o.topic(), "unit.name.dldata"; got != want {
		t.Errorf("topic() = %q, want %q", got, want)
	}
}

func TestTopicEndsWithName(t *testing.T) {
	if !topicEndsWithName("$share/general-mq/unit.name.uldata", "unit.name.uldata") {
		t.Error("expected topic to end with name")
	}
	if topicEndsWithName("unit.name.other", "unit.name.uldata") {
		t.Error("expected mismatch to be rejected")
	}
}

func TestValidateClientIDRejectsTooLong(t *testing.T) {
	o := &ConnectionOptions{ClientID: strings.Repeat("a", maxClientIDLen+1)}
	if err := o.validateClientID(); !errors.Is(err, gmq.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidateClientIDAllowsEmpty(t *testing.T) {
	o := &ConnectionOptions{}
	if err := o.validateClientID(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCleanSessionDefaultsTrue(t *testing.T) {
	o := &ConnectionOptions{}
	if !o.cleanSession() {
		t.Error("cleanSession() should default to true")
	}
	f := false
	o.CleanSession = &f
	if o.cleanSession() {
		t.Error("cleanSession() should honor an explicit false")
	}
}

func TestNewGeneratesRandomClientID(t *testing.T) {
	c, err := New(&ConnectionOptions{URI: "mqtt://localhost:1883"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(c.opts.ClientID, "general-mq-") {
		t.Errorf("ClientID = %q, want general-mq-<12 hex> prefix", c.opts.ClientID)
	}
}

func TestNewRejectsWrongScheme(t *testing.T) {
	_, err := New(&ConnectionOptions{URI: "amqp://localhost:5672"}, nil)
	if !errors.Is(err, gmq.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}
