// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package validate holds the name/URI pattern checks shared by the gmq
// connection/queue layer and the iot manager/factory layer, per spec §3
// and §6 ("Broker name rules").
package validate

import (
	"fmt"
	"net/url"
	"regexp"
)

// nameRE is the queue/exchange/topic leaf name pattern from spec §3/§6.
var nameRE = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// ErrorFn builds a *gmq.InvalidArgumentError without this package
// depending on gmq (which would create an import cycle: gmq ->
// internal/validate -> gmq). Callers pass gmq.NewInvalidArgument.
type ErrorFn func(field, reason string) error

// Name checks a queue/exchange/topic leaf name against
// ^[a-z0-9_-]+(\.[a-z0-9_-]+)*$.
func Name(name string, newErr ErrorFn) error {
	if !nameRE.MatchString(name) {
		return newErr("name", fmt.Sprintf("%q does not match ^[a-z0-9_-]+(\\.[a-z0-9_-]+)*$", name))
	}
	return nil
}

// AMQPScheme reports whether scheme is a valid AMQP connection scheme.
func AMQPScheme(scheme string) bool {
	return scheme == "amqp" || scheme == "amqps"
}

// MQTTScheme reports whether scheme is a valid MQTT connection scheme.
func MQTTScheme(scheme string) bool {
	return scheme == "mqtt" || scheme == "mqtts"
}

// HostURI parses uri and checks its scheme is one of allowed.
func HostURI(uri string, allowed func(string) bool, newErr ErrorFn) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, newErr("hostUri", fmt.Sprintf("%q is not a valid URI", uri))
	}
	if !allowed(u.Scheme) {
		return nil, newErr("hostUri", fmt.Sprintf("scheme %q is not supported", u.Scheme))
	}
	return u, nil
}
