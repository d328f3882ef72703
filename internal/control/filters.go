// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package control

import "regexp"

// regexpMustCompilePII builds the combined pattern the redact output filter
// strips: email addresses, US SSNs, and card-number-shaped digit runs.
func regexpMustCompilePII() *regexp.Regexp {
	return regexp.MustCompile(
		`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}` +
			`|\b\d{3}-\d{2}-\d{4}\b` +
			`|\b(?:\d[ -]?){13,16}\b`,
	)
}
