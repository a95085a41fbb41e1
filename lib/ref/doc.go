// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable Matrix identifiers for the
// gatekeeper: user IDs, room IDs, event IDs, and event types.
//
// Identifiers arrive from three places: configuration, /sync responses,
// and Matrix API return values. Each is parsed once at that boundary
// and passed through the rest of the program as a typed value, so a
// room ID can never be handed to a function that expects a user ID.
//
// All ID types implement encoding.TextMarshaler and TextUnmarshaler, so
// they work as JSON values and as JSON object keys (the rooms map in a
// /sync response is keyed by RoomID). Empty input unmarshals to the
// zero value; use IsZero to detect it.
package ref
