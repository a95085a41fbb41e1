// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
	"github.com/bureau-foundation/gatekeeper/lib/secret"
	"github.com/bureau-foundation/gatekeeper/messaging"
)

// newTestMatrixTransport returns a connected transport backed by a fake
// homeserver. whoami is answered with testBot; every other request goes
// to handler.
func newTestMatrixTransport(t *testing.T, handler http.HandlerFunc) *MatrixTransport {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer bot-token" {
			t.Errorf("unexpected auth header on %s: %q", request.URL.Path, request.Header.Get("Authorization"))
		}
		if request.URL.Path == "/_matrix/client/v3/account/whoami" {
			writeMatrixJSON(writer, http.StatusOK, map[string]string{"user_id": testBot.String()})
			return
		}
		handler(writer, request)
	}))
	t.Cleanup(server.Close)

	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	token, err := secret.NewFromString("bot-token")
	if err != nil {
		t.Fatalf("creating token: %v", err)
	}
	transport, err := NewMatrixTransport(MatrixTransportConfig{
		Client:      client,
		AccessToken: token,
		DeviceID:    "GATEKEEPER",
		GatedRoom:   testGatedRoom,
		Limiter:     rate.NewLimiter(rate.Inf, 0),
	})
	if err != nil {
		t.Fatalf("NewMatrixTransport: %v", err)
	}
	t.Cleanup(func() { transport.Close() })

	self, err := transport.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if self != testBot {
		t.Fatalf("Connect() = %s, want %s", self, testBot)
	}
	return transport
}

func writeMatrixJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func writeMatrixError(writer http.ResponseWriter, status int, code string) {
	writeMatrixJSON(writer, status, map[string]string{"errcode": code, "error": code})
}

func TestMatrixTransportRequiresConnect(t *testing.T) {
	client, _ := messaging.NewClient(messaging.ClientConfig{HomeserverURL: "http://127.0.0.1:1"})
	token, err := secret.NewFromString("bot-token")
	if err != nil {
		t.Fatalf("creating token: %v", err)
	}
	transport, err := NewMatrixTransport(MatrixTransportConfig{Client: client, AccessToken: token, GatedRoom: testGatedRoom})
	if err != nil {
		t.Fatalf("NewMatrixTransport: %v", err)
	}
	defer transport.Close()

	if _, err := transport.Receive(context.Background(), ReceiveOptions{}); err == nil {
		t.Error("Receive before Connect should fail")
	}
	if result := transport.Invite(context.Background(), testSpace, testAlice); result.Outcome != InviteFailed {
		t.Errorf("Invite before Connect = %v, want failed", result.Outcome)
	}
}

func TestMatrixTransportConnectRejectedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writeMatrixError(writer, http.StatusUnauthorized, messaging.ErrCodeUnknownToken)
	}))
	defer server.Close()

	client, _ := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	token, err := secret.NewFromString("revoked")
	if err != nil {
		t.Fatalf("creating token: %v", err)
	}
	transport, _ := NewMatrixTransport(MatrixTransportConfig{Client: client, AccessToken: token, GatedRoom: testGatedRoom})
	defer transport.Close()

	_, err = transport.Connect(context.Background())
	if !messaging.IsAuthError(err) {
		t.Fatalf("Connect() = %v, want auth error", err)
	}
}

const receiveResponse = `{
	"next_batch": "s42",
	"rooms": {"join": {"!gated:test.local": {"timeline": {"events": [
		{"event_id": "$m1", "type": "m.room.member", "sender": "@alice:test.local", "state_key": "@alice:test.local",
		 "content": {"membership": "join"}},
		{"event_id": "$m2", "type": "m.room.member", "sender": "@bob:test.local", "state_key": "@bob:test.local",
		 "content": {"membership": "join", "displayname": "Bobby"},
		 "unsigned": {"prev_content": {"membership": "join"}}},
		{"event_id": "$r1", "type": "m.reaction", "sender": "@alice:test.local",
		 "content": {"m.relates_to": {"rel_type": "m.annotation", "event_id": "$rules", "key": "✅"}}},
		{"event_id": "$r2", "type": "m.reaction", "sender": "@carol:test.local",
		 "content": {"m.relates_to": {"event_id": "$rules", "key": "✔"}}},
		{"event_id": "$r3", "type": "m.reaction", "sender": "@carol:test.local",
		 "content": {"m.relates_to": {"rel_type": "m.reference", "event_id": "$rules"}}},
		{"event_id": "$r4", "type": "m.reaction", "sender": "@carol:test.local",
		 "content": {"m.relates_to": {"rel_type": "m.annotation", "event_id": "not-an-event-id", "key": "✅"}}},
		{"event_id": "$x1", "type": "m.room.message", "sender": "@alice:test.local",
		 "content": {"msgtype": "m.text", "body": "hello"}},
		{"event_id": "$x2", "type": "m.room.member", "sender": "@alice:test.local",
		 "content": {"membership": "join"}}
	]}}}}
}`

func TestMatrixTransportReceiveNormalizesEvents(t *testing.T) {
	transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		query := request.URL.Query()
		if query.Get("since") != "s41" {
			t.Errorf("since = %q, want s41", query.Get("since"))
		}
		if query.Get("timeout") != "30000" {
			t.Errorf("timeout = %q, want 30000", query.Get("timeout"))
		}
		if query.Has("full_state") {
			t.Error("incremental receive requested full_state")
		}
		if !strings.Contains(query.Get("filter"), `"rooms":["!gated:test.local"]`) {
			t.Errorf("filter does not restrict to the gated room: %s", query.Get("filter"))
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(receiveResponse))
	})

	batch, err := transport.Receive(context.Background(), ReceiveOptions{Cursor: "s41", Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if batch.Cursor != "s42" {
		t.Errorf("Cursor = %q, want s42", batch.Cursor)
	}

	want := []Event{
		MembershipChanged{Room: testGatedRoom, Sender: testAlice, Subject: testAlice, Membership: "join"},
		MembershipChanged{Room: testGatedRoom, Sender: testBob, Subject: testBob, Membership: "join", PrevMembership: "join"},
		ReactionObserved{Room: testGatedRoom, Actor: testAlice, Target: testRules, Key: "✅"},
		ReactionObserved{Room: testGatedRoom, Actor: testCarol, Target: testRules, Key: "✔"},
	}
	if !slices.Equal(batch.Events, want) {
		t.Errorf("events:\n got %+v\nwant %+v", batch.Events, want)
	}
}

func TestMatrixTransportFullStateReceive(t *testing.T) {
	transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("full_state") != "true" {
			t.Errorf("full_state = %q, want true", query.Get("full_state"))
		}
		if query.Has("since") || query.Has("timeout") {
			t.Errorf("initial receive sent since/timeout: %s", request.URL.RawQuery)
		}
		writeMatrixJSON(writer, http.StatusOK, map[string]any{"next_batch": "s1"})
	})

	batch, err := transport.Receive(context.Background(), ReceiveOptions{FullState: true})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if batch.Cursor != "s1" || len(batch.Events) != 0 {
		t.Errorf("batch = %+v, want empty with cursor s1", batch)
	}
}

func TestMatrixTransportSendMessage(t *testing.T) {
	transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut || !strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/rooms/!gated:test.local/send/m.room.message/") {
			t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
		}
		var content messaging.MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		if content.Body != "rules" || content.Format != messaging.FormatHTML || content.FormattedBody != "<p>rules</p>" {
			t.Errorf("unexpected content: %+v", content)
		}
		writeMatrixJSON(writer, http.StatusOK, map[string]string{"event_id": "$posted"})
	})

	eventID, err := transport.SendMessage(context.Background(), testGatedRoom, testContent.Rules)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if eventID.String() != "$posted" {
		t.Errorf("event ID = %s, want $posted", eventID)
	}
}

func TestMatrixTransportCreateDirectRoom(t *testing.T) {
	transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/createRoom" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		var body messaging.CreateRoomRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("decoding createRoom: %v", err)
		}
		if !body.IsDirect || body.Preset != "trusted_private_chat" || !slices.Equal(body.Invite, []ref.UserID{testAlice}) {
			t.Errorf("unexpected createRoom body: %+v", body)
		}
		writeMatrixJSON(writer, http.StatusOK, map[string]string{"room_id": "!dm:test.local"})
	})

	roomID, err := transport.CreateDirectRoom(context.Background(), testAlice)
	if err != nil {
		t.Fatalf("CreateDirectRoom: %v", err)
	}
	if roomID.String() != "!dm:test.local" {
		t.Errorf("room ID = %s", roomID)
	}
}

func TestMatrixTransportInviteOutcomes(t *testing.T) {
	tests := []struct {
		name             string
		inviteStatus     int
		inviteCode       string
		membershipStatus int
		membership       string
		want             InviteOutcome
		wantLookup       bool
	}{
		{name: "accepted", inviteStatus: http.StatusOK, want: InviteSucceeded},
		{name: "forbidden, user joined", inviteStatus: http.StatusForbidden, inviteCode: messaging.ErrCodeForbidden,
			membershipStatus: http.StatusOK, membership: "join", want: InviteAlreadyMember, wantLookup: true},
		{name: "forbidden, user already invited", inviteStatus: http.StatusForbidden, inviteCode: messaging.ErrCodeForbidden,
			membershipStatus: http.StatusOK, membership: "invite", want: InviteAlreadyMember, wantLookup: true},
		{name: "forbidden, user banned", inviteStatus: http.StatusForbidden, inviteCode: messaging.ErrCodeForbidden,
			membershipStatus: http.StatusOK, membership: "ban", want: InviteFailed, wantLookup: true},
		{name: "forbidden, never a member", inviteStatus: http.StatusForbidden, inviteCode: messaging.ErrCodeForbidden,
			membershipStatus: http.StatusNotFound, want: InviteFailed, wantLookup: true},
		{name: "rate limited", inviteStatus: http.StatusTooManyRequests, inviteCode: messaging.ErrCodeLimitExceeded,
			want: InviteFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			lookedUp := false
			transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, request *http.Request) {
				switch request.URL.Path {
				case "/_matrix/client/v3/rooms/!space:test.local/invite":
					if test.inviteStatus == http.StatusOK {
						writeMatrixJSON(writer, http.StatusOK, map[string]any{})
						return
					}
					writeMatrixError(writer, test.inviteStatus, test.inviteCode)
				case "/_matrix/client/v3/rooms/!space:test.local/state/m.room.member/@alice:test.local":
					lookedUp = true
					if test.membershipStatus == http.StatusNotFound {
						writeMatrixError(writer, http.StatusNotFound, messaging.ErrCodeNotFound)
						return
					}
					writeMatrixJSON(writer, test.membershipStatus, map[string]string{"membership": test.membership})
				default:
					t.Errorf("unexpected path: %s", request.URL.Path)
				}
			})

			result := transport.Invite(context.Background(), testSpace, testAlice)
			if result.Outcome != test.want {
				t.Errorf("outcome = %v, want %v (err %v)", result.Outcome, test.want, result.Err)
			}
			if result.Outcome == InviteFailed && result.Err == nil {
				t.Error("failed outcome carries no error")
			}
			if lookedUp != test.wantLookup {
				t.Errorf("membership lookup = %v, want %v", lookedUp, test.wantLookup)
			}
		})
	}
}

const membersResponse = `{
	"next_batch": "s1",
	"rooms": {"join": {
		"!dm:test.local": {
			"state": {"events": [
				{"type": "m.room.member", "sender": "@gatekeeper:test.local", "state_key": "@gatekeeper:test.local", "content": {"membership": "join"}},
				{"type": "m.room.member", "sender": "@gatekeeper:test.local", "state_key": "@alice:test.local", "content": {"membership": "invite"}}
			]},
			"timeline": {"events": [
				{"type": "m.room.message", "sender": "@gatekeeper:test.local", "content": {"body": "welcome"}}
			]}
		},
		"!group:test.local": {
			"state": {"events": [
				{"type": "m.room.member", "sender": "@gatekeeper:test.local", "state_key": "@gatekeeper:test.local", "content": {"membership": "join"}},
				{"type": "m.room.member", "sender": "@bob:test.local", "state_key": "@bob:test.local", "content": {"membership": "join"}},
				{"type": "m.room.member", "sender": "@carol:test.local", "state_key": "@carol:test.local", "content": {"membership": "join"}}
			]},
			"timeline": {"events": [
				{"type": "m.room.member", "sender": "@carol:test.local", "state_key": "@carol:test.local", "content": {"membership": "leave"}}
			]}
		}
	}}
}`

func TestMatrixTransportListRooms(t *testing.T) {
	transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("full_state") != "true" {
			t.Errorf("full_state = %q, want true", query.Get("full_state"))
		}
		if strings.Contains(query.Get("filter"), `"rooms"`) {
			t.Error("members filter should cover every joined room")
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(membersResponse))
	})

	rooms, err := transport.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	want := map[ref.RoomID][]ref.UserID{
		ref.MustParseRoomID("!dm:test.local"):    {testAlice, testBot},
		ref.MustParseRoomID("!group:test.local"): {testBob, testBot},
	}
	if len(rooms) != len(want) {
		t.Fatalf("rooms = %v, want %v", rooms, want)
	}
	for roomID, members := range want {
		if !slices.Equal(rooms[roomID], members) {
			t.Errorf("members of %s = %v, want %v", roomID, rooms[roomID], members)
		}
	}

	// After carol left, the group room is indistinguishable from a DM
	// by member count alone.
	if partners := DirectRoomPartners(testBot, rooms); !slices.Equal(partners, []ref.UserID{testAlice, testBob}) {
		t.Errorf("DirectRoomPartners = %v", partners)
	}
}

// Room version 12 room IDs have no server suffix.
const hashRoomsResponse = `{
	"next_batch": "s2",
	"rooms": {"join": {
		"!dm:test.local": {
			"state": {"events": [
				{"type": "m.room.member", "sender": "@gatekeeper:test.local", "state_key": "@gatekeeper:test.local", "content": {"membership": "join"}},
				{"type": "m.room.member", "sender": "@alice:test.local", "state_key": "@alice:test.local", "content": {"membership": "join"}}
			]}
		},
		"!Zm9vYmFyYmF6cXV4": {
			"state": {"events": [
				{"type": "m.room.member", "sender": "@gatekeeper:test.local", "state_key": "@gatekeeper:test.local", "content": {"membership": "join"}},
				{"type": "m.room.member", "sender": "@bob:test.local", "state_key": "@bob:test.local", "content": {"membership": "join"}}
			]},
			"timeline": {"events": [
				{"event_id": "$r1", "type": "m.reaction", "sender": "@bob:test.local",
				 "content": {"m.relates_to": {"rel_type": "m.annotation", "event_id": "$rules", "key": "✅"}}}
			]}
		}
	}}
}`

func TestMatrixTransportAcceptsServerlessRoomIDs(t *testing.T) {
	transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(hashRoomsResponse))
	})
	hashRoom := ref.MustParseRoomID("!Zm9vYmFyYmF6cXV4")

	rooms, err := transport.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if !slices.Equal(rooms[hashRoom], []ref.UserID{testBob, testBot}) {
		t.Errorf("members of %s = %v", hashRoom, rooms[hashRoom])
	}
	if partners := DirectRoomPartners(testBot, rooms); !slices.Equal(partners, []ref.UserID{testAlice, testBob}) {
		t.Errorf("DirectRoomPartners = %v, want alice and bob", partners)
	}

	batch, err := transport.Receive(context.Background(), ReceiveOptions{Cursor: "s1"})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	want := []Event{ReactionObserved{Room: hashRoom, Actor: testBob, Target: testRules, Key: "✅"}}
	if !slices.Equal(batch.Events, want) {
		t.Errorf("events = %+v, want %+v", batch.Events, want)
	}
}

func TestMatrixTransportLogsActionableSyncFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantLog string
	}{
		{
			name:    "revoked token",
			status:  http.StatusUnauthorized,
			body:    `{"errcode": "M_UNKNOWN_TOKEN", "error": "Unknown access token"}`,
			wantLog: "homeserver rejected the access token",
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"errcode": "M_LIMIT_EXCEEDED", "error": "Too many requests", "retry_after_ms": 2500}`,
			wantLog: `"retry_after_ms":2500`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			transport := newTestMatrixTransport(t, func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(test.status)
				writer.Write([]byte(test.body))
			})
			var logs bytes.Buffer
			transport.logger = slog.New(slog.NewJSONHandler(&logs, nil))

			if _, err := transport.Receive(context.Background(), ReceiveOptions{Cursor: "s1"}); err == nil {
				t.Fatal("Receive succeeded, want error")
			}
			if !strings.Contains(logs.String(), test.wantLog) {
				t.Errorf("log output missing %q:\n%s", test.wantLog, logs.String())
			}
		})
	}
}
