// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"fmt"

	"github.com/sylvia-iot/general-mq/gmq"
)

// Errors specific to the AMQP driver, beyond the shared gmq.Err* kinds.
var (
	ErrWrongConnection = fmt.Errorf("gmq/amqp: connection is not an AMQP connection: %w", gmq.ErrInvalidArgument)
)
