// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds channel helpers for tests that drive a
// goroutine and wait for it to reach a point.
//
// [Receive] and [Closed] are the only places tests block on the wall
// clock. Everything else uses clock.Fake. The bound is [Timeout]: long
// enough that a loaded CI machine never hits it, short enough that a
// hung engine fails the test instead of the whole run.
package testutil
