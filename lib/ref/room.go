// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomID is a validated Matrix room ID. Rooms before version 12 carry
// a server suffix ("!abc123:example.org"); version 12 IDs are a bare
// hash ("!Zm9vYmFy..."). Both are treated as opaque.
//
// Room IDs are server-assigned. The gatekeeper receives them from
// configuration (the gated room and the destination space) and from
// the homeserver (direct rooms it creates, rooms in /sync).
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string: a '!'
// followed by a non-empty body without control characters. When the
// body has a ':server' suffix, neither half may be empty.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	if raw[0] != '!' {
		return RoomID{}, fmt.Errorf("room ID must start with '!': %q", raw)
	}
	if len(raw) < 2 {
		return RoomID{}, fmt.Errorf("room ID has no content after '!': %q", raw)
	}
	if strings.Contains(raw, ":") {
		if _, _, err := splitMatrixID(raw, '!', "room ID"); err != nil {
			return RoomID{}, err
		}
		return RoomID{id: raw}, nil
	}
	if index := controlCharacterIndex(raw); index >= 0 {
		return RoomID{}, fmt.Errorf("room ID contains control character at position %d: %q", index, raw)
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error.
func MustParseRoomID(raw string) RoomID {
	roomID, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return roomID
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) { return []byte(r.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
