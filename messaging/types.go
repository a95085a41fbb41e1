// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/gatekeeper/lib/ref"
)

// Message formats and types.
const (
	MsgTypeText = "m.text"

	// FormatHTML is the only rich-text format Matrix defines for m.room.message.
	FormatHTML = "org.matrix.custom.html"

	// RelTypeAnnotation marks an m.reaction relation.
	RelTypeAnnotation = "m.annotation"
)

// Membership states carried in m.room.member content.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// MessageContent is the content of an m.room.message event. Format and
// FormattedBody are set together when an HTML rendering is available.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage creates a plain-text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeText, Body: body}
}

// NewHTMLMessage creates a text message with an HTML rendering. An empty
// html falls back to a plain-text message.
func NewHTMLMessage(body, html string) MessageContent {
	content := NewTextMessage(body)
	if html != "" {
		content.Format = FormatHTML
		content.FormattedBody = html
	}
	return content
}

// RelatesTo is the m.relates_to block of an event. Reactions use
// RelType "m.annotation" with the reacted-to EventID and the reaction
// Key (usually an emoji).
type RelatesTo struct {
	RelType string      `json:"rel_type,omitempty"`
	EventID ref.EventID `json:"event_id"`
	Key     string      `json:"key,omitempty"`
}

// ReactionContent is the content of an m.reaction event.
type ReactionContent struct {
	RelatesTo RelatesTo `json:"m.relates_to"`
}

// RoomMemberContent is the content of an m.room.member state event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
}

// CreateRoomRequest holds parameters for POST /createRoom.
type CreateRoomRequest struct {
	Name     string       `json:"name,omitempty"`
	Preset   string       `json:"preset,omitempty"` // "private_chat", "trusted_private_chat", "public_chat"
	Invite   []ref.UserID `json:"invite,omitempty"`
	IsDirect bool         `json:"is_direct,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// Event is a Matrix event as delivered by /sync. Content stays a raw map
// because the same section carries every event type; callers decode the
// content for the types they handle.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds server-added data. PrevContent is the previous
// content of a state event, which distinguishes a fresh join from a
// profile change of an existing member.
type EventUnsigned struct {
	Age           int64          `json:"age,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	PrevContent   map[string]any `json:"prev_content,omitempty"`
}

// SyncOptions controls a /sync request.
type SyncOptions struct {
	Since      string // next_batch from the previous sync; empty for initial sync
	Timeout    int    // long-poll hold in milliseconds
	SetTimeout bool   // send timeout even when zero
	FullState  bool   // return all state for joined rooms, not just changes
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the subset of the /sync response the gatekeeper reads.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups per-room sync data by the bot's membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is sync data for a room the bot has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom is sync data for a room the bot was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is sync data for a room the bot has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection holds timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection holds state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest is the body of POST /rooms/{roomId}/invite.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// SendEventResponse is returned by SendEvent and SendMessage.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by /account/whoami.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}
