package llm

import "strings"

// ExtractJSONObject returns the first balanced {...} substring of an LLM
// reply. Replies wrapped in ```json fences are unwrapped first. Returns ""
// when no balanced object is found. String literals are honored so braces
// inside quoted values do not break the balance scan.
func ExtractJSONObject(reply string) string {
	s := stripMarkdownCodeBlock(reply)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripMarkdownCodeBlock removes a surrounding ``` or ```json fence.
// Some providers wrap JSON replies in fenced blocks even when told not to.
func stripMarkdownCodeBlock(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
