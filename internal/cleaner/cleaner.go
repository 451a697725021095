// Package cleaner reduces a raw message body to the text worth judging:
// markup, quoted replies and signatures stripped, whitespace collapsed,
// length capped. Clean is pure and total.
package cleaner

import (
	"regexp"
	"strings"
)

var (
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	stylePattern  = regexp.MustCompile(`(?is)<(style|script|head)[^>]*>.*?</(style|script|head)>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
	entityReplace = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// signatureMarkers start a trailing block that carries no signal
var signatureMarkers = []string{
	"-- ",
	"--",
	"Sent from my",
	"Get Outlook for",
}

// Clean strips markup, quoted reply lines and signature blocks from a
// raw body and caps the result at maxLen bytes. Empty or absent input
// yields an empty string. Deterministic, no state.
func Clean(raw string, maxLen int) string {
	if raw == "" || maxLen <= 0 {
		return ""
	}

	text := stylePattern.ReplaceAllString(raw, " ")
	text = tagPattern.ReplaceAllString(text, " ")
	text = entityReplace.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isSignatureMarker(trimmed) {
			break
		}
		// Quoted reply content repeats what the owner already has.
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			continue
		}
		kept = append(kept, line)
	}

	text = strings.Join(kept, "\n")
	text = spacePattern.ReplaceAllString(text, " ")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if len(text) > maxLen {
		text = strings.TrimSpace(text[:maxLen])
	}
	return text
}

func isSignatureMarker(line string) bool {
	for _, marker := range signatureMarkers {
		if line == marker || (len(marker) > 3 && strings.HasPrefix(line, marker)) {
			return true
		}
	}
	return false
}
