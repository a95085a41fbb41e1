// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gatekeeper/lib/ref"
	"github.com/bureau-foundation/gatekeeper/lib/secret"
	"github.com/bureau-foundation/gatekeeper/messaging"
)

// Outbound pacing defaults. A burst of joins produces a welcome DM per
// joiner (two requests each); the homeserver's per-user rate limit
// would otherwise answer with M_LIMIT_EXCEEDED.
const (
	DefaultSendRate  = 2.0
	DefaultSendBurst = 5
)

// MatrixTransportConfig holds the parameters for a MatrixTransport.
type MatrixTransportConfig struct {
	// Client is the unauthenticated homeserver client.
	Client *messaging.Client

	// AccessToken is the bot's token. Connect hands it to the session,
	// which owns it from then on.
	AccessToken *secret.Buffer

	// DeviceID is reported to the homeserver session for logging.
	DeviceID string

	// GatedRoom restricts incremental sync to the watched room.
	GatedRoom ref.RoomID

	// Limiter paces sends, room creation, and invites. Default
	// DefaultSendRate per second with burst DefaultSendBurst.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// MatrixTransport implements Transport over the Matrix client-server API.
type MatrixTransport struct {
	client      *messaging.Client
	accessToken *secret.Buffer
	deviceID    string
	gatedRoom   ref.RoomID
	limiter     *rate.Limiter
	logger      *slog.Logger

	session       messaging.Session
	receiveFilter string
	membersFilter string
}

var _ Transport = (*MatrixTransport)(nil)

// NewMatrixTransport creates a transport. Call Connect before any other
// method.
func NewMatrixTransport(config MatrixTransportConfig) (*MatrixTransport, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("gatekeeper: matrix client is required")
	}
	if config.AccessToken == nil {
		return nil, fmt.Errorf("gatekeeper: access token is required")
	}
	if config.GatedRoom.IsZero() {
		return nil, fmt.Errorf("gatekeeper: gated room is required")
	}
	limiter := config.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(DefaultSendRate), DefaultSendBurst)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MatrixTransport{
		client:        config.Client,
		accessToken:   config.AccessToken,
		deviceID:      config.DeviceID,
		gatedRoom:     config.GatedRoom,
		limiter:       limiter,
		logger:        logger,
		receiveFilter: buildReceiveFilter(config.GatedRoom),
		membersFilter: buildMembersFilter(),
	}, nil
}

// Connect validates the access token with /account/whoami.
func (t *MatrixTransport) Connect(ctx context.Context) (ref.UserID, error) {
	if t.session != nil {
		return t.session.UserID(), nil
	}
	session, err := t.client.Authenticate(ctx, t.accessToken, t.deviceID)
	// Authenticate owns the token from here on, success or failure.
	t.accessToken = nil
	if err != nil {
		return ref.UserID{}, err
	}
	t.session = session
	return session.UserID(), nil
}

// Close releases the session's access token.
func (t *MatrixTransport) Close() error {
	if t.session != nil {
		return t.session.Close()
	}
	if t.accessToken != nil {
		return t.accessToken.Close()
	}
	return nil
}

// Receive performs one /sync and normalizes the timeline events of
// joined rooms. Rooms are visited in ID order so a batch is
// deterministic for a given response.
func (t *MatrixTransport) Receive(ctx context.Context, options ReceiveOptions) (*Batch, error) {
	session, err := t.connected()
	if err != nil {
		return nil, err
	}
	syncOptions := messaging.SyncOptions{
		Since:     options.Cursor,
		FullState: options.FullState,
		Filter:    t.receiveFilter,
	}
	if options.Timeout > 0 {
		syncOptions.Timeout = int(options.Timeout.Milliseconds())
		syncOptions.SetTimeout = true
	}
	response, err := session.Sync(ctx, syncOptions)
	if err != nil {
		t.logSyncFailure(err)
		return nil, err
	}

	batch := &Batch{Cursor: response.NextBatch}
	for _, roomID := range sortedRoomIDs(response.Rooms.Join) {
		for _, event := range response.Rooms.Join[roomID].Timeline.Events {
			if normalized, ok := t.normalize(roomID, event); ok {
				batch.Events = append(batch.Events, normalized)
			}
		}
	}
	return batch, nil
}

// logSyncFailure logs the homeserver errors a plain retry will not fix
// or that carry a server-chosen delay. The engine logs every failure
// generically before its own retry.
func (t *MatrixTransport) logSyncFailure(err error) {
	var matrixErr *messaging.MatrixError
	switch {
	case messaging.IsAuthError(err):
		t.logger.Error("homeserver rejected the access token, sync will fail until it is replaced",
			"room_id", t.gatedRoom,
			"error", err,
		)
	case errors.As(err, &matrixErr) && matrixErr.Code == messaging.ErrCodeLimitExceeded:
		t.logger.Warn("sync rate limited by homeserver",
			"retry_after_ms", matrixErr.RetryAfterMS,
		)
	}
}

// normalize converts a Matrix event into an engine Event. Anything that
// is not a membership change or an annotation reaction is dropped.
func (t *MatrixTransport) normalize(roomID ref.RoomID, event messaging.Event) (Event, bool) {
	switch event.Type {
	case ref.EventTypeRoomMember:
		return normalizeMembership(roomID, event)
	case ref.EventTypeReaction:
		if reaction, ok := decodeTypedReaction(roomID, event); ok {
			return reaction, true
		}
		if reaction, ok := decodeRawReaction(roomID, event); ok {
			return reaction, true
		}
		t.logger.Debug("dropping malformed reaction",
			"room_id", roomID,
			"event_id", event.EventID,
		)
	}
	return nil, false
}

func normalizeMembership(roomID ref.RoomID, event messaging.Event) (Event, bool) {
	if event.StateKey == nil {
		return nil, false
	}
	subject, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return nil, false
	}
	membership, _ := event.Content["membership"].(string)
	changed := MembershipChanged{
		Room:       roomID,
		Sender:     event.Sender,
		Subject:    subject,
		Membership: membership,
	}
	if event.Unsigned != nil {
		changed.PrevMembership, _ = event.Unsigned.PrevContent["membership"].(string)
	}
	return changed, true
}

// decodeTypedReaction handles the standard shape: an m.relates_to block
// with rel_type m.annotation, the target event_id, and the key.
func decodeTypedReaction(roomID ref.RoomID, event messaging.Event) (Event, bool) {
	encoded, err := json.Marshal(event.Content)
	if err != nil {
		return nil, false
	}
	var content messaging.ReactionContent
	if err := json.Unmarshal(encoded, &content); err != nil {
		return nil, false
	}
	relation := content.RelatesTo
	if relation.RelType != messaging.RelTypeAnnotation || relation.EventID.IsZero() || relation.Key == "" {
		return nil, false
	}
	return ReactionObserved{
		Room:   roomID,
		Actor:  event.Sender,
		Target: relation.EventID,
		Key:    relation.Key,
	}, true
}

// decodeRawReaction walks the untyped content for reactions the typed
// decoder rejects. Older servers and some bridges omit rel_type; the
// relation still names the target and key.
func decodeRawReaction(roomID ref.RoomID, event messaging.Event) (Event, bool) {
	relation, ok := event.Content["m.relates_to"].(map[string]any)
	if !ok {
		return nil, false
	}
	if relType, present := relation["rel_type"]; present && relType != messaging.RelTypeAnnotation {
		return nil, false
	}
	rawTarget, _ := relation["event_id"].(string)
	key, _ := relation["key"].(string)
	if key == "" {
		return nil, false
	}
	target, err := ref.ParseEventID(rawTarget)
	if err != nil {
		return nil, false
	}
	return ReactionObserved{
		Room:   roomID,
		Actor:  event.Sender,
		Target: target,
		Key:    key,
	}, true
}

// SendMessage posts message as m.room.message, with an HTML rendering
// when message.HTML is set.
func (t *MatrixTransport) SendMessage(ctx context.Context, roomID ref.RoomID, message Message) (ref.EventID, error) {
	session, err := t.connected()
	if err != nil {
		return ref.EventID{}, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return ref.EventID{}, fmt.Errorf("gatekeeper: waiting for send slot: %w", err)
	}
	return session.SendMessage(ctx, roomID, messaging.NewHTMLMessage(message.Plain, message.HTML))
}

// CreateDirectRoom creates a trusted private chat flagged as a direct
// message and invites userID into it.
func (t *MatrixTransport) CreateDirectRoom(ctx context.Context, userID ref.UserID) (ref.RoomID, error) {
	session, err := t.connected()
	if err != nil {
		return ref.RoomID{}, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return ref.RoomID{}, fmt.Errorf("gatekeeper: waiting for send slot: %w", err)
	}
	response, err := session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Preset:   "trusted_private_chat",
		Invite:   []ref.UserID{userID},
		IsDirect: true,
	})
	if err != nil {
		return ref.RoomID{}, err
	}
	return response.RoomID, nil
}

// Invite invites userID to roomID. The homeserver answers M_FORBIDDEN
// both when the bot lacks permission and when the user is already
// present, so on M_FORBIDDEN the user's membership is read back to tell
// the two apart.
func (t *MatrixTransport) Invite(ctx context.Context, roomID ref.RoomID, userID ref.UserID) InviteResult {
	session, err := t.connected()
	if err != nil {
		return InviteResult{Outcome: InviteFailed, Err: err}
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return InviteResult{Outcome: InviteFailed, Err: fmt.Errorf("gatekeeper: waiting for send slot: %w", err)}
	}

	inviteErr := session.InviteUser(ctx, roomID, userID)
	if inviteErr == nil {
		return InviteResult{Outcome: InviteSucceeded}
	}
	if !messaging.IsMatrixError(inviteErr, messaging.ErrCodeForbidden) {
		return InviteResult{Outcome: InviteFailed, Err: inviteErr}
	}

	membership, err := session.GetMembership(ctx, roomID, userID)
	if err != nil {
		return InviteResult{
			Outcome: InviteFailed,
			Err:     fmt.Errorf("%w (membership check failed: %v)", inviteErr, err),
		}
	}
	switch membership {
	case messaging.MembershipJoin, messaging.MembershipInvite:
		return InviteResult{Outcome: InviteAlreadyMember, Err: inviteErr}
	default:
		return InviteResult{Outcome: InviteFailed, Err: inviteErr}
	}
}

// ListRooms performs a full-state /sync restricted to membership events
// and returns the joined and invited members of every joined room.
func (t *MatrixTransport) ListRooms(ctx context.Context) (map[ref.RoomID][]ref.UserID, error) {
	session, err := t.connected()
	if err != nil {
		return nil, err
	}
	response, err := session.Sync(ctx, messaging.SyncOptions{
		FullState: true,
		Filter:    t.membersFilter,
	})
	if err != nil {
		return nil, err
	}

	rooms := make(map[ref.RoomID][]ref.UserID, len(response.Rooms.Join))
	for roomID, room := range response.Rooms.Join {
		// Timeline events are newer than the state block, so applying
		// them second leaves each user's latest membership.
		current := make(map[ref.UserID]string)
		for _, section := range [][]messaging.Event{room.State.Events, room.Timeline.Events} {
			for _, event := range section {
				if event.Type != ref.EventTypeRoomMember || event.StateKey == nil {
					continue
				}
				member, err := ref.ParseUserID(*event.StateKey)
				if err != nil {
					continue
				}
				membership, _ := event.Content["membership"].(string)
				current[member] = membership
			}
		}

		var members []ref.UserID
		for member, membership := range current {
			if membership == messaging.MembershipJoin || membership == messaging.MembershipInvite {
				members = append(members, member)
			}
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].String() < members[j].String()
		})
		rooms[roomID] = members
	}
	return rooms, nil
}

func (t *MatrixTransport) connected() (messaging.Session, error) {
	if t.session == nil {
		return nil, fmt.Errorf("gatekeeper: transport is not connected")
	}
	return t.session, nil
}

func sortedRoomIDs(rooms map[ref.RoomID]messaging.JoinedRoom) []ref.RoomID {
	roomIDs := make([]ref.RoomID, 0, len(rooms))
	for roomID := range rooms {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Slice(roomIDs, func(i, j int) bool {
		return roomIDs[i].String() < roomIDs[j].String()
	})
	return roomIDs
}

// buildReceiveFilter returns the inline /sync filter for the event
// stream: membership and reaction events in the gated room, with
// presence, ephemeral, and account data suppressed.
func buildReceiveFilter(gatedRoom ref.RoomID) string {
	eventTypes := []ref.EventType{
		ref.EventTypeRoomMember,
		ref.EventTypeReaction,
	}
	emptyTypes := []string{}

	filter := map[string]any{
		"room": map[string]any{
			"rooms": []ref.RoomID{gatedRoom},
			"state": map[string]any{
				"types":             []ref.EventType{ref.EventTypeRoomMember},
				"lazy_load_members": true,
			},
			"timeline": map[string]any{
				"types": eventTypes,
				"limit": 100,
			},
			"ephemeral": map[string]any{
				"types": emptyTypes,
			},
			"account_data": map[string]any{
				"types": emptyTypes,
			},
		},
		"presence": map[string]any{
			"types": emptyTypes,
		},
		"account_data": map[string]any{
			"types": emptyTypes,
		},
	}
	return mustMarshalFilter(filter)
}

// buildMembersFilter returns the filter for ListRooms: member state of
// every joined room and nothing else.
func buildMembersFilter() string {
	memberTypes := []ref.EventType{ref.EventTypeRoomMember}
	emptyTypes := []string{}

	filter := map[string]any{
		"room": map[string]any{
			"state": map[string]any{
				"types": memberTypes,
			},
			"timeline": map[string]any{
				"types": memberTypes,
				"limit": 10,
			},
			"ephemeral": map[string]any{
				"types": emptyTypes,
			},
			"account_data": map[string]any{
				"types": emptyTypes,
			},
		},
		"presence": map[string]any{
			"types": emptyTypes,
		},
		"account_data": map[string]any{
			"types": emptyTypes,
		},
	}
	return mustMarshalFilter(filter)
}

func mustMarshalFilter(filter map[string]any) string {
	data, err := json.Marshal(filter)
	if err != nil {
		panic("gatekeeper: marshaling sync filter: " + err.Error())
	}
	return string(data)
}
