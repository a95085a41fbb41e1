// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import "github.com/bureau-foundation/gatekeeper/lib/ref"

// MembershipJoin is the membership value of a joined user.
const MembershipJoin = "join"

// Event is a room event normalized by a Transport. The concrete type is
// one of [MembershipChanged] or [ReactionObserved]; the set is closed.
type Event interface {
	gatekeeperEvent()
}

// MembershipChanged reports an m.room.member state change.
type MembershipChanged struct {
	Room ref.RoomID

	// Sender authored the event. Subject is the user whose membership
	// changed (the state key). They differ for invites, kicks, and bans.
	Sender  ref.UserID
	Subject ref.UserID

	Membership string

	// PrevMembership is the subject's membership before this event, or
	// empty if unknown. A join whose previous membership was also join
	// is a profile change, not a new arrival.
	PrevMembership string
}

// ReactionObserved reports an annotation reaction, whichever shape the
// homeserver delivered it in.
type ReactionObserved struct {
	Room   ref.RoomID
	Actor  ref.UserID
	Target ref.EventID
	Key    string
}

func (MembershipChanged) gatekeeperEvent() {}
func (ReactionObserved) gatekeeperEvent()  {}

// IsFreshJoin reports whether the event moves the subject into the room
// rather than updating the profile of an existing member.
func (m MembershipChanged) IsFreshJoin() bool {
	return m.Membership == MembershipJoin && m.PrevMembership != MembershipJoin
}
