// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/ref"
)

const (
	defaultSyncTimeout = 30 * time.Second
	defaultRetryDelay  = 5 * time.Second
)

// Content is the text the engine sends. A zero Message disables the
// action that would send it.
type Content struct {
	Rules   Message
	Welcome Message
	Tips    Message
}

// Config holds the parameters for an Engine.
type Config struct {
	// GatedRoom is the room whose joins and reactions are watched.
	GatedRoom ref.RoomID

	// RulesEvent is the rules message tracked from startup.
	RulesEvent ref.EventID

	// Destination is the room or space accepted users are invited to.
	Destination ref.RoomID

	// Threshold is the number of joins between rules reposts. Zero or
	// negative reposts on every join.
	Threshold int

	Content Content

	// SyncTimeout is the long-poll bound per receive. Default 30s.
	SyncTimeout time.Duration

	// RetryDelay is the fixed pause after a failed receive. Default 5s.
	RetryDelay time.Duration

	// Clock drives the retry delay. Default clock.Real().
	Clock clock.Clock

	// Logger defaults to a handler that discards output.
	Logger *slog.Logger

	// Metrics defaults to an unregistered set of collectors.
	Metrics *Metrics

	// Store, when set, persists the ledger and tracked messages.
	Store Store
}

// Engine is the gatekeeper state machine. All state is owned by the
// goroutine calling Run; see the package documentation.
type Engine struct {
	transport   Transport
	gatedRoom   ref.RoomID
	rulesEvent  ref.EventID
	destination ref.RoomID
	content     Content
	syncTimeout time.Duration
	retryDelay  time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics
	store       Store

	self       ref.UserID
	ledger     *Ledger
	joins      *JoinCounter
	tracked    *TrackedMessages
	catchingUp bool
	cursor     string
}

// New creates an Engine. It does not contact the transport.
func New(transport Transport, config Config) (*Engine, error) {
	if transport == nil {
		return nil, fmt.Errorf("gatekeeper: transport is required")
	}
	if config.GatedRoom.IsZero() {
		return nil, fmt.Errorf("gatekeeper: GatedRoom is required")
	}
	if config.RulesEvent.IsZero() {
		return nil, fmt.Errorf("gatekeeper: RulesEvent is required")
	}
	if config.Destination.IsZero() {
		return nil, fmt.Errorf("gatekeeper: Destination is required")
	}

	engine := &Engine{
		transport:   transport,
		gatedRoom:   config.GatedRoom,
		rulesEvent:  config.RulesEvent,
		destination: config.Destination,
		content:     config.Content,
		syncTimeout: config.SyncTimeout,
		retryDelay:  config.RetryDelay,
		clock:       config.Clock,
		logger:      config.Logger,
		metrics:     config.Metrics,
		store:       config.Store,
		ledger:      NewLedger(),
		joins:       NewJoinCounter(config.Threshold),
		tracked:     NewTrackedMessages(config.RulesEvent),
	}
	if engine.syncTimeout <= 0 {
		engine.syncTimeout = defaultSyncTimeout
	}
	if engine.retryDelay <= 0 {
		engine.retryDelay = defaultRetryDelay
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}
	if engine.metrics == nil {
		engine.metrics = NewMetrics(nil)
	}
	engine.metrics.tracked.Set(float64(engine.tracked.Len()))
	return engine, nil
}

// Run starts the engine and processes events until ctx is cancelled.
// It returns an error only for fatal startup failures: authentication
// or loading the store. Cancellation returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		batch, err := e.receive(ctx, ReceiveOptions{
			Cursor:  e.cursor,
			Timeout: e.syncTimeout,
		})
		if err != nil {
			return nil
		}
		e.advance(batch.Cursor)
		for _, event := range batch.Events {
			if ctx.Err() != nil {
				return nil
			}
			e.Handle(ctx, event)
		}
	}
}

// Start authenticates, restores persisted state, and performs the
// full-state catch-up. Joins seen during catch-up are history and are
// neither counted nor welcomed. Reactions are still honored so that a
// user who accepted while the bot was down gets invited and sent tips,
// including when they turn out to be in the destination already.
//
// After catch-up, users with an existing two-member room with the bot
// are marked welcomed and the rules are posted once.
func (e *Engine) Start(ctx context.Context) error {
	self, err := e.transport.Connect(ctx)
	if err != nil {
		return fmt.Errorf("gatekeeper: connecting: %w", err)
	}
	e.self = self

	if e.store != nil {
		snapshot, err := e.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("gatekeeper: loading persisted state: %w", err)
		}
		e.restore(snapshot)
	}

	e.logger.Info("starting initial sync",
		"room_id", e.gatedRoom,
		"rules_event_id", e.rulesEvent,
		"repost_every_n_joins", e.joins.Threshold(),
		"invite_space_id", e.destination,
	)
	batch, err := e.receive(ctx, ReceiveOptions{FullState: true})
	if err != nil {
		return err
	}
	e.catchingUp = true
	for _, event := range batch.Events {
		e.Handle(ctx, event)
	}
	e.catchingUp = false
	e.advance(batch.Cursor)
	e.logger.Info("initial sync complete", "events", len(batch.Events))

	e.seedWelcomed(ctx)

	if e.content.Welcome.IsZero() {
		e.logger.Warn("no welcome content configured, welcome DMs disabled")
	}
	if e.content.Tips.IsZero() {
		e.logger.Warn("no tips content configured, tips DMs disabled")
	}
	e.repost(ctx)
	return nil
}

// Handle processes one event to completion. Events from rooms other
// than the gated room are ignored.
func (e *Engine) Handle(ctx context.Context, event Event) {
	switch event := event.(type) {
	case MembershipChanged:
		if event.Room == e.gatedRoom {
			e.handleMembership(ctx, event)
		}
	case ReactionObserved:
		if event.Room == e.gatedRoom {
			e.handleReaction(ctx, event)
		}
	}
}

func (e *Engine) handleMembership(ctx context.Context, event MembershipChanged) {
	if e.catchingUp || !event.IsFreshJoin() {
		return
	}
	if event.Sender == e.self || event.Subject == e.self {
		return
	}

	e.metrics.joins.Inc()
	repost := e.joins.Observe()
	e.logger.Info("join observed",
		"user_id", event.Subject,
		"joins_since_repost", e.joins.Count(),
		"repost", repost,
	)
	if repost {
		e.repost(ctx)
	}
	e.welcome(ctx, event.Subject)
}

func (e *Engine) handleReaction(ctx context.Context, event ReactionObserved) {
	if !e.tracked.Contains(event.Target) {
		return
	}
	accepted := IsAcceptance(event.Key)
	e.metrics.reactions.WithLabelValues(strconv.FormatBool(accepted)).Inc()
	if !accepted {
		e.logger.Info("ignoring non-acceptance reaction",
			"user_id", event.Actor,
			"event_id", event.Target,
			"key", event.Key,
		)
		return
	}
	e.invite(ctx, event.Actor)
}

// invite sends the destination invite and, once the user is in or
// invited, the tips DM. A failed invite leaves the ledger untouched so a
// repeated reaction can retry.
func (e *Engine) invite(ctx context.Context, userID ref.UserID) {
	if userID == e.self || e.ledger.IsInvited(userID) {
		return
	}

	e.logger.Info("acceptance reaction, inviting to destination",
		"user_id", userID,
		"room_id", e.destination,
	)
	result := e.transport.Invite(ctx, e.destination, userID)
	e.metrics.invites.WithLabelValues(result.Outcome.String()).Inc()
	if !result.Converged() {
		e.logger.Error("invite failed",
			"user_id", userID,
			"room_id", e.destination,
			"error", result.Err,
		)
		return
	}
	if result.Outcome == InviteAlreadyMember {
		e.logger.Info("user already in destination", "user_id", userID)
	} else {
		e.logger.Info("invite sent", "user_id", userID)
	}

	e.ledger.MarkInvited(userID)
	e.recordInvited(ctx, userID)
	e.sendTips(ctx, userID)
}

func (e *Engine) welcome(ctx context.Context, userID ref.UserID) {
	if userID == e.self || e.content.Welcome.IsZero() || e.ledger.IsWelcomed(userID) {
		return
	}

	// Marked before sending: a failed DM is not retried.
	e.ledger.MarkWelcomed(userID)
	e.recordWelcomed(ctx, userID)

	e.logger.Info("sending welcome DM", "user_id", userID)
	if err := e.sendDirect(ctx, userID, e.content.Welcome); err != nil {
		e.metrics.welcomeDMs.WithLabelValues(resultFailed).Inc()
		e.logger.Warn("welcome DM failed", "user_id", userID, "error", err)
		return
	}
	e.metrics.welcomeDMs.WithLabelValues(resultSent).Inc()
}

func (e *Engine) sendTips(ctx context.Context, userID ref.UserID) {
	if e.content.Tips.IsZero() {
		e.metrics.tipsDMs.WithLabelValues(resultSkipped).Inc()
		return
	}

	e.logger.Info("sending tips DM", "user_id", userID)
	if err := e.sendDirect(ctx, userID, e.content.Tips); err != nil {
		e.metrics.tipsDMs.WithLabelValues(resultFailed).Inc()
		e.logger.Warn("tips DM failed", "user_id", userID, "error", err)
		return
	}
	e.metrics.tipsDMs.WithLabelValues(resultSent).Inc()
}

func (e *Engine) sendDirect(ctx context.Context, userID ref.UserID, message Message) error {
	roomID, err := e.transport.CreateDirectRoom(ctx, userID)
	if err != nil {
		return fmt.Errorf("creating direct room: %w", err)
	}
	if _, err := e.transport.SendMessage(ctx, roomID, message); err != nil {
		return fmt.Errorf("sending to %s: %w", roomID, err)
	}
	e.logger.Info("direct message sent", "user_id", userID, "room_id", roomID)
	return nil
}

// repost sends the rules to the gated room and tracks the new message.
// The join counter has already been reset by the caller, so a failed
// send waits for the next full interval.
func (e *Engine) repost(ctx context.Context) {
	if e.content.Rules.IsZero() {
		e.metrics.reposts.WithLabelValues(resultSkipped).Inc()
		e.logger.Warn("no rules content configured, skipping rules post")
		return
	}

	eventID, err := e.transport.SendMessage(ctx, e.gatedRoom, e.content.Rules)
	if err != nil {
		e.metrics.reposts.WithLabelValues(resultFailed).Inc()
		e.logger.Error("posting rules failed", "room_id", e.gatedRoom, "error", err)
		return
	}
	e.metrics.reposts.WithLabelValues(resultSent).Inc()
	if e.tracked.Add(eventID) {
		e.recordTracked(ctx, eventID)
	}
	e.metrics.tracked.Set(float64(e.tracked.Len()))
	e.logger.Info("rules posted",
		"event_id", eventID,
		"tracked_messages", e.tracked.Len(),
	)
}

// receive calls Transport.Receive until it succeeds, pausing a fixed
// delay after each failure. It returns an error only when ctx is done.
func (e *Engine) receive(ctx context.Context, options ReceiveOptions) (*Batch, error) {
	for {
		batch, err := e.transport.Receive(ctx, options)
		if err == nil {
			return batch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.metrics.syncFailures.Inc()
		e.logger.Error("receive failed, retrying",
			"error", err,
			"backoff", e.retryDelay,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(e.retryDelay):
		}
	}
}

func (e *Engine) advance(cursor string) {
	if cursor != "" {
		e.cursor = cursor
	}
}

// seedWelcomed marks the partner of every existing direct room as
// welcomed. A listing failure only costs possible duplicate welcomes.
func (e *Engine) seedWelcomed(ctx context.Context) {
	rooms, err := e.transport.ListRooms(ctx)
	if err != nil {
		e.logger.Warn("listing rooms failed, existing DM partners not seeded", "error", err)
		return
	}
	seeded := 0
	for _, partner := range DirectRoomPartners(e.self, rooms) {
		if e.ledger.MarkWelcomed(partner) {
			seeded++
		}
	}
	e.logger.Info("seeded welcomed users from existing DM rooms",
		"rooms", len(rooms),
		"seeded", seeded,
	)
}

func (e *Engine) restore(snapshot Snapshot) {
	for _, userID := range snapshot.Welcomed {
		e.ledger.MarkWelcomed(userID)
	}
	for _, userID := range snapshot.Invited {
		e.ledger.MarkInvited(userID)
	}
	for _, eventID := range snapshot.Tracked {
		e.tracked.Add(eventID)
	}
	e.metrics.tracked.Set(float64(e.tracked.Len()))
	e.logger.Info("restored persisted state",
		"welcomed", e.ledger.WelcomedCount(),
		"invited", e.ledger.InvitedCount(),
		"tracked_messages", e.tracked.Len(),
	)
}

func (e *Engine) recordWelcomed(ctx context.Context, userID ref.UserID) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordWelcomed(ctx, userID); err != nil {
		e.logger.Error("persisting welcomed user failed", "user_id", userID, "error", err)
	}
}

func (e *Engine) recordInvited(ctx context.Context, userID ref.UserID) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordInvited(ctx, userID); err != nil {
		e.logger.Error("persisting invited user failed", "user_id", userID, "error", err)
	}
}

func (e *Engine) recordTracked(ctx context.Context, eventID ref.EventID) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordTracked(ctx, eventID); err != nil {
		e.logger.Error("persisting tracked message failed", "event_id", eventID, "error", err)
	}
}

// Self returns the bot's user ID once Start has connected.
func (e *Engine) Self() ref.UserID { return e.self }

// Welcomed reports whether userID is in the welcomed set.
func (e *Engine) Welcomed(userID ref.UserID) bool { return e.ledger.IsWelcomed(userID) }

// Invited reports whether userID is in the invited set.
func (e *Engine) Invited(userID ref.UserID) bool { return e.ledger.IsInvited(userID) }

// Tracked returns the tracked rules messages in the order they were added.
func (e *Engine) Tracked() []ref.EventID { return e.tracked.List() }

// JoinCount returns the joins counted since the last repost.
func (e *Engine) JoinCount() int { return e.joins.Count() }

// Cursor returns the position the next receive resumes from.
func (e *Engine) Cursor() string { return e.cursor }
