// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gatekeeper's configuration and message content.
//
// Settings come from three layers, later layers winning:
//
//   - [Default] values
//   - an optional file named by --config or GATEKEEPER_CONFIG (YAML, or
//     JSON with comments when the name ends in .json or .jsonc)
//   - environment variables, after loading a .env file if one exists
//
// Environment variable names match the container deployment
// (HOMESERVER_URL, BOT_ACCESS_TOKEN, TARGET_ROOM_ID, and so on), so an
// existing env-only setup keeps working without a file.
//
// [LoadContent] reads the rules, welcome, and tips messages from
// <content_dir>/<name>.txt and .html, falling back to the RULES_TEXT,
// RULES_HTML, ... variables. When only the plain text is given, the
// HTML rendering is produced from it as Markdown.
//
// Key exports:
//
//   - [Config] -- every setting, with [Config.Validate]
//   - [Load] -- the layered loader
//   - [LoadContent] and [Content] -- message text
package config
