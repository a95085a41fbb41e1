// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-gatekeeper admits users to a Matrix space once they accept a
// room's rules.
//
// The bot watches one room. When a user reacts to a rules message with
// a checkmark (✅, ✔, or ☑, with or without a variation selector) it
// invites them to the configured space and sends them a tips DM. New
// members get a welcome DM on their first join, and every N joins the
// rules are reposted so they stay near the bottom of the timeline.
// Reactions on any reposted copy count the same as the original.
//
// Configuration comes from an optional YAML or JSONC file (--config or
// GATEKEEPER_CONFIG), a .env file, and environment variables, in
// increasing precedence. Message text is read from rules.txt,
// welcome.txt, tips.txt and their .html counterparts in CONTENT_DIR, or
// from RULES_TEXT, WELCOME_HTML, and similar variables.
//
// With STATE_DATABASE set, the welcome and invite ledgers and the list
// of reposted rules messages survive restarts. Without it, users who
// already share a DM room with the bot are treated as welcomed.
//
// With METRICS_LISTEN set, Prometheus metrics are served at /metrics
// and a liveness probe at /healthz.
package main
