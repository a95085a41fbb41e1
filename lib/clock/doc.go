// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations the gatekeeper performs
// so that retry delays can be tested without sleeping.
//
// Production code injects [Real]; tests inject [Fake] and move time
// forward explicitly with [FakeClock.Advance]. [FakeClock.WaitForTimers]
// closes the race between a goroutine registering a wait and the test
// advancing past it.
package clock
