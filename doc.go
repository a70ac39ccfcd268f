// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package generalmq documents the external collaborators this module
// assumes but does not implement.
//
// general-mq is a client-side messaging SDK: a unified Connection/Queue
// abstraction over AMQP 0-9-1 and MQTT (gmq, gmq/amqp, gmq/mqtt), a
// reference-counted connection pool (gmq/pool), and an IoT data-queue
// layer built on top of it (iot). None of these packages talk HTTP, and
// none of them authenticate callers. The boundaries below are owned by
// whatever service embeds this module.
//
// # OAuth2 HTTP client
//
// Outbound calls this module's embedder makes to other HTTP services
// (for example a device registry or a coordinator API) are expected to
// go through a client that attaches "Authorization: Bearer <token>" to
// every request and transparently refreshes the token on a 401 before
// retrying once. This module never makes such calls itself and has no
// opinion on the token source; it only assumes one exists.
//
// # Bearer-token middleware
//
// A gateway sitting in front of any HTTP surface the embedder exposes
// is expected to extract a token from an Authorization header whose
// scheme is "bearer" matched case-insensitively, resolve it against a
// tokeninfo endpoint, and attach the result to the request context as
//
//	{token, info: {userId, account, roles, name, clientId, scopes}}
//
// A missing or malformed header maps to 400, a token the tokeninfo
// endpoint rejects maps to 401, and a tokeninfo endpoint that cannot be
// reached maps to 503. This module never sees raw HTTP requests and
// performs none of this resolution.
//
// # /user REST shape
//
// Any user/account lookup the embedder needs is served by a /user
// endpoint whose exact response shape is deliberately unspecified here;
// it is a contract between the embedder and its identity service, not
// something general-mq mediates.
package generalmq
