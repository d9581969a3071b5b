package output

import (
	"regexp"
	"strings"
)

const (
	// Base64MinLength is the length above which a token without spaces or
	// colons is treated as an inline blob and dropped.
	Base64MinLength = 100
	// JSONMessageMaxLength caps messages pulled out of JSON error bodies.
	JSONMessageMaxLength = 80
	jsonMessageEllipsis  = "..."
	jsonMessagePrefix    = "       → "
)

var jsonMessagePattern = regexp.MustCompile(`"message"\s*:\s*"([^"]+)"`)

var htmlPrefixes = []string{
	"<!DOCTYPE", "<html", "<head", "<body", "<style", "<div", "<title",
	"<meta", "<link", "<p>", "<ul", "<li", "<a ", "<img", "</", "<!--", "-->",
}

var loneDelimiters = map[string]struct{}{
	"{": {}, "}": {}, "(": {}, ")": {},
}

var cssDeclarations = []string{
	"background-color:", "font-family:", "text-align:", "margin:", "padding:",
}

// FilterNixNoise drops the chatter nix prints when an upstream fetch returns
// an HTML error page, and condenses JSON API errors to their message. The
// second return value is false when the line should be dropped.
func FilterNixNoise(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)

	if trimmed == "" {
		return line, true
	}
	if strings.Contains(line, "is dirty") {
		return "", false
	}
	if looksLikeHTML(trimmed) || looksLikeCSS(trimmed) {
		return "", false
	}
	if len(trimmed) > Base64MinLength && !strings.ContainsAny(trimmed, " :") {
		return "", false
	}
	if strings.HasPrefix(trimmed, "*/") || strings.HasSuffix(trimmed, "*/") {
		return "", false
	}

	if strings.HasPrefix(trimmed, `{"`) && strings.Contains(trimmed, `"message"`) {
		match := jsonMessagePattern.FindStringSubmatch(trimmed)
		if len(match) != 2 {
			return "", false
		}
		return jsonMessagePrefix + truncateMessage(match[1]), true
	}

	return line, true
}

// NixTransform is the line transform used for streamed nix commands.
func NixTransform(line string) (string, bool) {
	return FilterNixNoise(StripEscapeCodes(line))
}

func looksLikeHTML(trimmed string) bool {
	for _, prefix := range htmlPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	_, lone := loneDelimiters[trimmed]
	return lone
}

func looksLikeCSS(trimmed string) bool {
	for _, decl := range cssDeclarations {
		if strings.Contains(trimmed, decl) {
			return true
		}
	}
	if strings.HasPrefix(trimmed, ".") && strings.Contains(trimmed, "{") {
		return true
	}
	return strings.HasPrefix(trimmed, "@media") && strings.Contains(trimmed, "{")
}

func truncateMessage(message string) string {
	if len(message) <= JSONMessageMaxLength {
		return message
	}
	keep := JSONMessageMaxLength - len(jsonMessageEllipsis)
	return message[:keep] + jsonMessageEllipsis
}
