// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the gatekeeper binary.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// When GitCommit was not injected, the VCS stamp the Go toolchain
// embeds in module builds is used instead.
//
//	go build -ldflags "-X github.com/bureau-foundation/gatekeeper/lib/version.Version=1.0.0" ./cmd/bureau-gatekeeper
package version
