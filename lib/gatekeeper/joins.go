// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

// JoinCounter counts qualifying joins since the last rules repost.
type JoinCounter struct {
	threshold int
	count     int
}

// NewJoinCounter returns a counter that triggers every threshold joins.
// A threshold of zero or less triggers on every join.
func NewJoinCounter(threshold int) *JoinCounter {
	return &JoinCounter{threshold: threshold}
}

// Observe records one qualifying join. It returns true when the count
// reaches the threshold, in which case the count is reset to zero and
// the caller should repost the rules.
func (c *JoinCounter) Observe() bool {
	c.count++
	if c.count >= c.threshold {
		c.count = 0
		return true
	}
	return false
}

// Count returns the number of joins observed since the last trigger.
func (c *JoinCounter) Count() int {
	return c.count
}

// Threshold returns the configured repost interval.
func (c *JoinCounter) Threshold() int {
	return c.threshold
}
