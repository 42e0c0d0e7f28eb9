package llms

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON recovers a JSON document from model output. Providers without
// a native structured-output mechanism answer with prose around the payload;
// the scan order is whole response, then fenced code blocks, then the first
// balanced {...} or [...] substring.
func ExtractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && isJSONContainer(trimmed) {
		return trimmed, true
	}

	for _, match := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(match[1])
		if json.Valid([]byte(candidate)) && isJSONContainer(candidate) {
			return candidate, true
		}
	}

	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		if candidate, ok := balancedSubstring(text, pair[0], pair[1]); ok {
			return candidate, true
		}
	}
	return "", false
}

func isJSONContainer(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// balancedSubstring returns the first balanced open...close span that parses
// as JSON. Depth tracking ignores brackets inside strings.
func balancedSubstring(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}
