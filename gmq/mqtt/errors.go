// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"fmt"

	"github.com/sylvia-iot/general-mq/gmq"
)

var (
	ErrWrongConnection = fmt.Errorf("gmq/mqtt: connection is not an MQTT connection: %w", gmq.ErrInvalidArgument)
	ErrBadPacketHandler = errors.New("gmq/mqtt: topic must end with the queue name")
)
