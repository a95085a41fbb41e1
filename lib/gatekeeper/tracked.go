// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import "github.com/bureau-foundation/gatekeeper/lib/ref"

// TrackedMessages is the set of rules messages whose acceptance
// reactions are honored. It only grows: a reaction on an old repost
// stays valid for the lifetime of the process.
type TrackedMessages struct {
	members map[ref.EventID]struct{}
	order   []ref.EventID
}

// NewTrackedMessages returns a set containing the given event IDs.
// Zero IDs are skipped.
func NewTrackedMessages(initial ...ref.EventID) *TrackedMessages {
	tracked := &TrackedMessages{members: make(map[ref.EventID]struct{})}
	for _, eventID := range initial {
		tracked.Add(eventID)
	}
	return tracked
}

// Add inserts eventID. Returns false if it was already tracked or is
// the zero ID.
func (t *TrackedMessages) Add(eventID ref.EventID) bool {
	if eventID.IsZero() {
		return false
	}
	if _, exists := t.members[eventID]; exists {
		return false
	}
	t.members[eventID] = struct{}{}
	t.order = append(t.order, eventID)
	return true
}

// Contains reports whether eventID is a tracked rules message.
func (t *TrackedMessages) Contains(eventID ref.EventID) bool {
	_, exists := t.members[eventID]
	return exists
}

// Len returns the number of tracked messages.
func (t *TrackedMessages) Len() int {
	return len(t.order)
}

// List returns the tracked event IDs in insertion order.
func (t *TrackedMessages) List() []ref.EventID {
	return append([]ref.EventID(nil), t.order...)
}
