// Package sms shapes generated text for a narrow, single-line SMS channel.
package sms

import "strings"

// MaxSegment is the length a single SMS segment can carry.
const MaxSegment = 160

// mojibakeEmDash is an em dash that went through a UTF-8 -> cp1252 -> UTF-8
// round trip, which is how some local models emit it.
const mojibakeEmDash = "â€”"

var (
	markerReplacer = strings.NewReplacer("*", "", "_", "")
	dashReplacer   = strings.NewReplacer(mojibakeEmDash, "-", "—", "-")
)

// Sanitize turns arbitrary generated text into a single transport-safe line.
// It is lossy and never fails; applying it twice gives the same result as
// applying it once. The result is not length capped.
func Sanitize(text string) string {
	text = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(text)
	text = strings.TrimSpace(text)
	// markers go first: dropping one can join the bytes of a dash
	text = markerReplacer.Replace(text)
	text = dashReplacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Truncate cuts text to at most limit runes, preferring the last word
// boundary. A limit <= 0 disables truncation.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
