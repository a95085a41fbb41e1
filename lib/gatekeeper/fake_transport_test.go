// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
)

// fakeReceive is one queued answer to Receive.
type fakeReceive struct {
	batch *Batch
	err   error
}

type sentMessage struct {
	room    ref.RoomID
	message Message
}

// fakeTransport records every call the engine makes. Receive answers
// from a queue; once the queue is empty it closes drained and blocks
// until the context is cancelled.
//
// Fields are written by the engine goroutine. Tests that run the engine
// in a goroutine read them only after drained is closed or Run returns.
type fakeTransport struct {
	self       ref.UserID
	connectErr error

	receives     []fakeReceive
	receiveCalls []ReceiveOptions
	drained      chan struct{}
	drainOnce    sync.Once

	rooms   map[ref.RoomID][]ref.UserID
	listErr error

	sent     []sentMessage
	sendErrs map[ref.RoomID]error

	directRooms []ref.UserID
	createErr   error

	invites      []ref.UserID
	inviteResult func(ref.UserID) InviteResult
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		self:     testBot,
		drained:  make(chan struct{}),
		sendErrs: make(map[ref.RoomID]error),
	}
}

// queue appends a successful receive carrying events.
func (f *fakeTransport) queue(events ...Event) {
	cursor := fmt.Sprintf("s%d", len(f.receives)+1)
	f.receives = append(f.receives, fakeReceive{batch: &Batch{Events: events, Cursor: cursor}})
}

// queueError appends a failed receive.
func (f *fakeTransport) queueError(err error) {
	f.receives = append(f.receives, fakeReceive{err: err})
}

func (f *fakeTransport) Connect(ctx context.Context) (ref.UserID, error) {
	if f.connectErr != nil {
		return ref.UserID{}, f.connectErr
	}
	return f.self, nil
}

func (f *fakeTransport) Receive(ctx context.Context, options ReceiveOptions) (*Batch, error) {
	f.receiveCalls = append(f.receiveCalls, options)
	if len(f.receives) == 0 {
		f.drainOnce.Do(func() { close(f.drained) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := f.receives[0]
	f.receives = f.receives[1:]
	return next.batch, next.err
}

func (f *fakeTransport) SendMessage(ctx context.Context, roomID ref.RoomID, message Message) (ref.EventID, error) {
	if err := f.sendErrs[roomID]; err != nil {
		return ref.EventID{}, err
	}
	f.sent = append(f.sent, sentMessage{room: roomID, message: message})
	return ref.MustParseEventID(fmt.Sprintf("$sent%d", len(f.sent))), nil
}

func (f *fakeTransport) CreateDirectRoom(ctx context.Context, userID ref.UserID) (ref.RoomID, error) {
	f.directRooms = append(f.directRooms, userID)
	if f.createErr != nil {
		return ref.RoomID{}, f.createErr
	}
	return ref.MustParseRoomID(fmt.Sprintf("!dm%d:test.local", len(f.directRooms))), nil
}

func (f *fakeTransport) Invite(ctx context.Context, roomID ref.RoomID, userID ref.UserID) InviteResult {
	f.invites = append(f.invites, userID)
	if f.inviteResult != nil {
		return f.inviteResult(userID)
	}
	return InviteResult{Outcome: InviteSucceeded}
}

func (f *fakeTransport) ListRooms(ctx context.Context) (map[ref.RoomID][]ref.UserID, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rooms, nil
}

// sentTo returns the messages posted to roomID.
func (f *fakeTransport) sentTo(roomID ref.RoomID) []Message {
	var messages []Message
	for _, sent := range f.sent {
		if sent.room == roomID {
			messages = append(messages, sent.message)
		}
	}
	return messages
}

// directMessages returns the messages posted anywhere but the gated room.
func (f *fakeTransport) directMessages() []Message {
	var messages []Message
	for _, sent := range f.sent {
		if sent.room != testGatedRoom {
			messages = append(messages, sent.message)
		}
	}
	return messages
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	snapshot Snapshot
	loadErr  error
	writeErr error

	welcomed []ref.UserID
	invited  []ref.UserID
	tracked  []ref.EventID
}

func (s *fakeStore) Load(ctx context.Context) (Snapshot, error) {
	return s.snapshot, s.loadErr
}

func (s *fakeStore) RecordWelcomed(ctx context.Context, userID ref.UserID) error {
	s.welcomed = append(s.welcomed, userID)
	return s.writeErr
}

func (s *fakeStore) RecordInvited(ctx context.Context, userID ref.UserID) error {
	s.invited = append(s.invited, userID)
	return s.writeErr
}

func (s *fakeStore) RecordTracked(ctx context.Context, eventID ref.EventID) error {
	s.tracked = append(s.tracked, eventID)
	return s.writeErr
}

var errFakeNetwork = errors.New("connection reset by peer")
