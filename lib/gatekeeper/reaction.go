// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import "strings"

// acceptanceGlyphs are the reaction keys that accept the rules:
// U+2705 WHITE HEAVY CHECK MARK, U+2714 HEAVY CHECK MARK, and
// U+2611 BALLOT BOX WITH CHECK.
var acceptanceGlyphs = map[string]struct{}{
	"\u2705": {},
	"\u2714": {},
	"\u2611": {},
}

// variationSelectors removes VS15 (text style) and VS16 (emoji style).
// Clients append these to the same glyph depending on platform.
var variationSelectors = strings.NewReplacer("\ufe0e", "", "\ufe0f", "")

// IsAcceptance reports whether a reaction key is one of the recognized
// checkmark glyphs once variation selectors are removed. Matching is
// exact: a checkmark followed by any other character is not acceptance.
func IsAcceptance(key string) bool {
	_, ok := acceptanceGlyphs[variationSelectors.Replace(key)]
	return ok
}
