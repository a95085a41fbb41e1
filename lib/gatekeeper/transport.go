// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"context"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
)

// Message is outbound text with an optional HTML rendering.
type Message struct {
	Plain string
	HTML  string
}

// IsZero reports whether the message has no plain body. A message
// without a plain body is never sent, even if HTML is set.
func (m Message) IsZero() bool {
	return m.Plain == ""
}

// InviteOutcome classifies the result of an invite.
type InviteOutcome int

const (
	// InviteFailed means the user was not invited. The zero value, so
	// an unset result never reads as success.
	InviteFailed InviteOutcome = iota

	// InviteSucceeded means the homeserver accepted the invite.
	InviteSucceeded

	// InviteAlreadyMember means the user is already joined to or
	// invited into the destination.
	InviteAlreadyMember
)

// String returns the metric label for the outcome.
func (o InviteOutcome) String() string {
	switch o {
	case InviteSucceeded:
		return "succeeded"
	case InviteAlreadyMember:
		return "already_member"
	default:
		return "failed"
	}
}

// InviteResult is the structured outcome of Transport.Invite. Err is
// set for InviteFailed and may carry context for the other outcomes.
type InviteResult struct {
	Outcome InviteOutcome
	Err     error
}

// Converged reports whether the user is now in or invited to the
// destination.
func (r InviteResult) Converged() bool {
	return r.Outcome == InviteSucceeded || r.Outcome == InviteAlreadyMember
}

// ReceiveOptions controls one Transport.Receive call.
type ReceiveOptions struct {
	// Cursor is the position returned by the previous batch. Empty
	// requests the current state from the beginning.
	Cursor string

	// FullState asks for the complete current room state. Used once,
	// for the catch-up at startup.
	FullState bool

	// Timeout bounds how long the transport waits for new events.
	// Zero returns immediately.
	Timeout time.Duration
}

// Batch is one delivery of events and the cursor to resume from.
type Batch struct {
	Events []Event
	Cursor string
}

// Transport is the chat network as the engine sees it.
type Transport interface {
	// Connect authenticates and returns the bot's own user ID. An error
	// is fatal.
	Connect(ctx context.Context) (ref.UserID, error)

	// Receive long-polls for the next batch of events.
	Receive(ctx context.Context, options ReceiveOptions) (*Batch, error)

	// SendMessage posts message to roomID and returns the new event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, message Message) (ref.EventID, error)

	// CreateDirectRoom creates a direct-message room with userID and
	// returns its ID.
	CreateDirectRoom(ctx context.Context, userID ref.UserID) (ref.RoomID, error)

	// Invite invites userID to roomID.
	Invite(ctx context.Context, roomID ref.RoomID, userID ref.UserID) InviteResult

	// ListRooms returns the joined and invited members of every room
	// the bot has joined.
	ListRooms(ctx context.Context) (map[ref.RoomID][]ref.UserID, error)
}
