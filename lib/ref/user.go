// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// Only the structural format is checked: a leading '@', a non-empty
// localpart, and a non-empty server name after the first ':'. Historical
// user IDs with upper-case or other non-conformant localparts are
// accepted because the gatekeeper must serve whoever joins the room.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := splitMatrixID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in tests
// where the input is known-valid.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'. Returns
// the empty string for the zero value.
func (u UserID) Localpart() string {
	localpart, _, _ := splitMatrixID(u.id, '@', "user ID")
	return localpart
}

// Server returns the server name portion of the user ID. Returns the
// empty string for the zero value.
func (u UserID) Server() string {
	_, server, _ := splitMatrixID(u.id, '@', "user ID")
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) { return []byte(u.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// splitMatrixID checks the "<sigil>localpart:server" shape shared by
// user IDs and room IDs and returns the two halves.
func splitMatrixID(raw string, sigil byte, label string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty %s", label)
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", label, sigil, raw)
	}
	localpart, server, found := strings.Cut(raw[1:], ":")
	if !found {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", label, raw)
	}
	if localpart == "" {
		return "", "", fmt.Errorf("%s has empty local part: %q", label, raw)
	}
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", label, raw)
	}
	if index := controlCharacterIndex(raw); index >= 0 {
		return "", "", fmt.Errorf("%s contains control character at position %d: %q", label, index, raw)
	}
	return localpart, server, nil
}

// controlCharacterIndex returns the position of the first ASCII
// control character in raw, or -1.
func controlCharacterIndex(raw string) int {
	for index := 0; index < len(raw); index++ {
		if raw[index] < 0x20 || raw[index] == 0x7f {
			return index
		}
	}
	return -1
}
