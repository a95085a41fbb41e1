// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gatekeeper implements the rules-acceptance state machine for a
// single gated Matrix room.
//
// The [Engine] consumes normalized room events from a [Transport]. It
// counts fresh joins and reposts the rules message every N joins. It
// sends a one-time welcome DM to each joiner. Acceptance reactions on a
// tracked rules message invite the reactor to the restricted
// destination, followed by a tips DM. Each one-shot action is recorded
// in a [Ledger] so it fires at most once per user.
//
// Events are handled one at a time on the goroutine running
// [Engine.Run]. The ledger, join counter, and tracked message set are
// owned by that goroutine and carry no locks: a check such as "is this
// user already invited?" and the following "mark invited" cannot
// interleave with another event.
//
// [MatrixTransport] is the production Transport. It turns /sync
// responses into [MembershipChanged] and [ReactionObserved] values so
// the engine never sees Matrix wire shapes.
package gatekeeper
