// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix event type ("m.room.member",
// "m.reaction"). It is a named string rather than a validated struct:
// event types are opaque and need no parsing, but the distinct type
// keeps them from being confused with state keys or message bodies.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }

// Standard Matrix event types the gatekeeper reads or writes.
const (
	EventTypeRoomMember  EventType = "m.room.member"
	EventTypeRoomMessage EventType = "m.room.message"
	EventTypeReaction    EventType = "m.reaction"
)
