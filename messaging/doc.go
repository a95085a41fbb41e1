// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// the gatekeeper needs.
//
// [Client] holds the homeserver URL and HTTP transport. [Client.Authenticate]
// turns an access token into a [DirectSession] after confirming it with
// /account/whoami, so the bot learns its own user ID without it being
// configured separately.
//
// [DirectSession] performs the authenticated calls: /sync (initial
// full-state and incremental long-poll), room creation (including
// direct-message rooms), invites, message and event sends, and single
// state-event reads. Message sends use PUT with a unique transaction ID
// so that an HTTP-level retry cannot produce a duplicate message.
//
// Every non-2xx response is returned as a [*MatrixError] carrying the
// Matrix errcode and HTTP status. Use [IsMatrixError] or errors.As to
// branch on a specific code; never on the message text.
//
// Request URLs are built by concatenation with url.PathEscape on each
// path segment rather than through url.URL, which re-encodes paths
// containing escaped characters.
package messaging
