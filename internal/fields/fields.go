// Package fields turns raw submission-field keys and user-agent strings into
// the short human-readable forms used in alert messages.
package fields

import (
	"strings"
	"unicode"
)

// FormatLabel converts a submission field key into a human-friendly label.
//
// Examples:
//
//	urgency_level     -> Urgency Level
//	firstName         -> First Name
//	DuplicatePageForm -> Duplicate Page Form
func FormatLabel(key string) string {
	if key == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(key) + 4)

	prev := rune(0)
	for _, r := range key {
		// Underscore/hyphen runs become a single separator.
		if r == '_' || r == '-' {
			r = ' '
		}
		// Break words before interior capitals not already preceded by a space.
		if unicode.IsUpper(r) && prev != ' ' && prev != 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// SummarizeUserAgent reduces a full user-agent string to "<Browser> on <OS>".
// Empty input stays empty rather than reporting "Other on Other".
func SummarizeUserAgent(ua string) string {
	if ua == "" {
		return ""
	}

	browser := "Other"
	os := "Other"

	// Chrome also advertises Safari, so check the pair first.
	switch {
	case containsFold(ua, "Chrome") && containsFold(ua, "Safari"):
		browser = "Chrome"
	case containsFold(ua, "Safari"):
		browser = "Safari"
	case containsFold(ua, "Firefox"):
		browser = "Firefox"
	case containsFold(ua, "Edg") || containsFold(ua, "Edge"):
		browser = "Edge"
	}

	switch {
	case containsFold(ua, "Windows"):
		os = "Windows"
	case containsFold(ua, "Mac OS X") || containsFold(ua, "Macintosh"):
		os = "macOS"
	case containsFold(ua, "iPhone") || containsFold(ua, "iPad"):
		os = "iOS"
	case containsFold(ua, "Android"):
		os = "Android"
	case containsFold(ua, "Linux"):
		os = "Linux"
	}

	return browser + " on " + os
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
