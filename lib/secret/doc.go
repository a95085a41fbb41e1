// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the gatekeeper's Matrix access token outside the
// Go heap.
//
// [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks, and
// unmaps it. The token is copied out with [Buffer.String] only at the
// moment an Authorization header is built.
//
// Tokens come either from configuration ([NewFromString]) or from a
// mounted secret file ([ReadFromPath]).
//
// Depends on golang.org/x/sys/unix.
package secret
