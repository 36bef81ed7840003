package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// balanceBrackets appends missing closing brackets at the end of truncated
// model output. Brackets inside string literals are ignored.
func balanceBrackets(text string) string {
	balanceCurly := 0
	balanceSquare := 0
	inString := false
	escape := false

	for _, r := range text {
		if escape {
			escape = false
			continue
		}
		if r == '\\' {
			escape = true
			continue
		}
		if r == '"' {
			inString = !inString
		}
		if !inString {
			switch r {
			case '{':
				balanceCurly++
			case '}':
				balanceCurly--
			case '[':
				balanceSquare++
			case ']':
				balanceSquare--
			}
		}
	}

	balanced := text
	for balanceSquare > 0 {
		balanced += "]"
		balanceSquare--
	}
	for balanceCurly > 0 {
		balanced += "}"
		balanceCurly--
	}
	return balanced
}

// processPotentialJSON trims a candidate and tries bracket balancing before
// giving up. Returns "" when the candidate cannot be made valid.
func processPotentialJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if isValidJSON(trimmed) {
		return trimmed
	}
	balanced := balanceBrackets(trimmed)
	if isValidJSON(balanced) {
		return balanced
	}
	return ""
}

var (
	jsonBlockRegex = regexp.MustCompile("(?s)```json\\s*([\\s\\S]*?)\\s*```")
	anyBlockRegex  = regexp.MustCompile("(?s)```\\s*([\\s\\S]*?)\\s*```")
	objectFallback = regexp.MustCompile(`(?s)({[\s\S]*})`)
)

// ExtractJSONContent pulls a JSON document out of raw model output.
// Models wrap JSON in markdown fences, prepend chatter or truncate the tail,
// so extraction tries progressively looser strategies before giving up.
func ExtractJSONContent(rawText string) string {
	rawText = strings.TrimSpace(rawText)

	// 1. Fenced ```json block.
	if matches := jsonBlockRegex.FindStringSubmatch(rawText); len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	// 2. Any fenced block.
	if matches := anyBlockRegex.FindStringSubmatch(rawText); len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	// 3. Slice between the first { and the last }.
	firstBrace := strings.Index(rawText, "{")
	lastBrace := strings.LastIndex(rawText, "}")
	if firstBrace != -1 {
		var candidate string
		if lastBrace > firstBrace {
			candidate = rawText[firstBrace : lastBrace+1]
		} else {
			candidate = rawText[firstBrace:]
		}
		if result := processPotentialJSON(candidate); result != "" {
			return result
		}
	}

	// 4. Greedy regex fallback.
	if matches := objectFallback.FindStringSubmatch(rawText); len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	// 5. Nothing parsed. Return the trimmed suffix so the caller's
	// unmarshal error carries the offending text.
	if firstBrace != -1 {
		return strings.TrimSpace(rawText[firstBrace:])
	}
	return ""
}

// StringShort truncates a string for logging, appending an ellipsis.
func StringShort(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
