package output

import "regexp"

var escapeSequencePattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripEscapeCodes removes CSI escape sequences (colors, cursor movement)
// from a line before it reaches any buffer or screen.
func StripEscapeCodes(line string) string {
	return escapeSequencePattern.ReplaceAllString(line, "")
}
