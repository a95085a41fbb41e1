// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
)

// Session is the set of authenticated Matrix operations the gatekeeper
// performs. *DirectSession is the production implementation; tests of
// higher layers may substitute their own.
type Session interface {
	// UserID returns the bot's fully-qualified Matrix user ID.
	UserID() ref.UserID

	// Sync performs an initial or incremental /sync.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// SendMessage sends an m.room.message and returns its event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)

	// CreateRoom creates a room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// InviteUser invites userID to roomID.
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// GetMembership returns userID's current membership in roomID, or
	// "" when the user has no membership event there.
	GetMembership(ctx context.Context, roomID ref.RoomID, userID ref.UserID) (string, error)

	// Close releases the session's credentials.
	Close() error
}

var _ Session = (*DirectSession)(nil)
