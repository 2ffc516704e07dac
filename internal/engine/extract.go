package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

var leadIns = []string{"Here's the FleetIntent:", "FleetIntent:", "JSON:", "Response:", "Here's the plan:"}

// ExtractJSON finds the first JSON object in text. Models wrap their
// answers in code fences, lead-in phrases, or prose; all three are handled.
func ExtractJSON(text string) ([]byte, bool) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), true
		}
	}

	for _, p := range leadIns {
		i := strings.Index(text, p)
		if i < 0 {
			continue
		}
		if obj, ok := balancedObject(text, i+len(p)); ok {
			return obj, true
		}
		break
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if obj, ok := balancedObject(text, start); ok {
			return obj, true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "```"), "```")
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasPrefix(cleaned, "{") && json.Valid([]byte(cleaned)) {
		return []byte(cleaned), true
	}
	return nil, false
}

// balancedObject returns the brace-balanced object starting at the first
// '{' at or after from. Braces inside string literals are not counted.
func balancedObject(text string, from int) ([]byte, bool) {
	start := strings.IndexByte(text[from:], '{')
	if start < 0 {
		return nil, false
	}
	start += from

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := []byte(text[start : i+1])
				if json.Valid(candidate) {
					return candidate, true
				}
				return nil, false
			}
		}
	}
	return nil, false
}
