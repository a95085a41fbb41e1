// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"context"
	"sort"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
)

// Ledger records which users have received each one-shot action. Tips
// are not tracked separately: they follow a successful invite, so the
// invited set gates them too.
//
// Both sets only grow. Once a user is invited they are never invited
// again by this process, even if the homeserver later reports that
// they left the destination.
type Ledger struct {
	welcomed map[ref.UserID]struct{}
	invited  map[ref.UserID]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		welcomed: make(map[ref.UserID]struct{}),
		invited:  make(map[ref.UserID]struct{}),
	}
}

// IsWelcomed reports whether userID has been sent (or was presumed to
// have received) a welcome DM.
func (l *Ledger) IsWelcomed(userID ref.UserID) bool {
	_, exists := l.welcomed[userID]
	return exists
}

// MarkWelcomed records userID as welcomed. Returns false if it already was.
func (l *Ledger) MarkWelcomed(userID ref.UserID) bool {
	return insert(l.welcomed, userID)
}

// IsInvited reports whether userID has been invited to the destination.
func (l *Ledger) IsInvited(userID ref.UserID) bool {
	_, exists := l.invited[userID]
	return exists
}

// MarkInvited records userID as invited. Returns false if it already was.
func (l *Ledger) MarkInvited(userID ref.UserID) bool {
	return insert(l.invited, userID)
}

// WelcomedCount returns the size of the welcomed set.
func (l *Ledger) WelcomedCount() int { return len(l.welcomed) }

// InvitedCount returns the size of the invited set.
func (l *Ledger) InvitedCount() int { return len(l.invited) }

func insert(set map[ref.UserID]struct{}, userID ref.UserID) bool {
	if userID.IsZero() {
		return false
	}
	if _, exists := set[userID]; exists {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// DirectRoomPartners returns the other member of every room that has
// exactly two members, one of which is self. Such rooms are taken as
// evidence of a welcome DM sent by an earlier run. The result is sorted.
func DirectRoomPartners(self ref.UserID, rooms map[ref.RoomID][]ref.UserID) []ref.UserID {
	var partners []ref.UserID
	for _, members := range rooms {
		if len(members) != 2 {
			continue
		}
		switch self {
		case members[0]:
			if members[1] != self {
				partners = append(partners, members[1])
			}
		case members[1]:
			partners = append(partners, members[0])
		}
	}
	sort.Slice(partners, func(i, j int) bool {
		return partners[i].String() < partners[j].String()
	})
	return partners
}

// Snapshot is the persisted state a Store returns at startup.
type Snapshot struct {
	Welcomed []ref.UserID
	Invited  []ref.UserID
	Tracked  []ref.EventID
}

// Store persists ledger and tracked-message changes across restarts.
// The engine's in-memory state stays authoritative: a failed Record call
// is logged and the action still counts as done for this process.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	RecordWelcomed(ctx context.Context, userID ref.UserID) error
	RecordInvited(ctx context.Context, userID ref.UserID) error
	RecordTracked(ctx context.Context, eventID ref.EventID) error
}
