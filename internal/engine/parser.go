package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parsedItem is the tagged per-position result of parsing the generator
// output: either the decoded object, or a placeholder reason explaining
// why this position could not be matched to a real decision.
type parsedItem struct {
	fields map[string]any
	reason string // non-empty marks a placeholder
}

func placeholder(reason string) parsedItem { return parsedItem{reason: reason} }

func (p parsedItem) failed() bool { return p.reason != "" }

var codeFenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// extractCandidates lists plausible JSON substrings of raw generator
// text, in the order they should be attempted: fenced code block content,
// the whole trimmed text, the array following a "decisions" key, and the
// first balanced array anywhere (or the unterminated tail from the first
// '[', which the repair pass can close).
func extractCandidates(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	var candidates []string
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			candidates = append(candidates, inner)
		}
	}
	candidates = append(candidates, s)
	if idx := strings.Index(s, `"decisions"`); idx >= 0 {
		if start := strings.Index(s[idx:], "["); start >= 0 {
			if arr, ok := balanceMatch(s, idx+start); ok {
				candidates = append(candidates, arr)
			}
		}
	}
	if start := strings.Index(s, "["); start >= 0 {
		if arr, ok := balanceMatch(s, start); ok {
			candidates = append(candidates, arr)
		} else {
			candidates = append(candidates, s[start:])
		}
	}
	return candidates
}

// balanceMatch returns the substring from start (an opening bracket or
// brace) through its matching close, tracking string and escape state so
// brackets inside string literals are ignored.
func balanceMatch(s string, start int) (string, bool) {
	if start < 0 || start >= len(s) {
		return "", false
	}
	open := s[start]
	if open != '[' && open != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)

// repairJSON applies the byte-level fixes that recover the common failure
// modes of real generator output: trailing commas before closers, a
// dangling comma at the end of truncated output, and unclosed brackets
// from mid-generation cutoff.
func repairJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ",")

	// Auto-close unbalanced brackets, innermost first. Counting respects
	// string/escape state so literals can't skew the balance.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '[' || c == '{':
			stack = append(stack, c)
		case c == ']' || c == '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '[' {
			s += "]"
		} else {
			s += "}"
		}
	}
	return s
}

// decodeDecisions parses candidate into a decision array, accepting
// either a bare array or an object with a "decisions" array. A repair
// pass is applied when the first parse fails.
func decodeDecisions(candidate string) ([]any, bool) {
	arr, ok := tryDecode(candidate)
	if ok {
		return arr, true
	}
	return tryDecode(repairJSON(candidate))
}

func tryDecode(candidate string) ([]any, bool) {
	var value any
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return nil, false
	}
	switch v := value.(type) {
	case []any:
		return v, true
	case map[string]any:
		if arr, ok := v["decisions"].([]any); ok {
			return arr, true
		}
	}
	return nil, false
}

// parseDecisionItems turns raw generator text into exactly groupCount
// parsedItems. Non-object elements become placeholders in place, short
// arrays are right-padded with placeholders, and a total parse failure
// yields one placeholder per group so nothing downstream is ever dropped.
func parseDecisionItems(raw string, groupCount int) ([]parsedItem, bool) {
	var elements []any
	parsed := false
	for _, candidate := range extractCandidates(raw) {
		if elements, parsed = decodeDecisions(candidate); parsed {
			break
		}
	}
	if !parsed {
		items := make([]parsedItem, groupCount)
		for i := range items {
			items[i] = placeholder("parse_failed")
		}
		return items, false
	}

	items := make([]parsedItem, 0, groupCount)
	for _, el := range elements {
		if len(items) == groupCount {
			break // extra elements have no group to attach to
		}
		if obj, ok := el.(map[string]any); ok {
			items = append(items, parsedItem{fields: obj})
		} else {
			items = append(items, placeholder("parse_failed"))
		}
	}
	for len(items) < groupCount {
		items = append(items, placeholder("parse_failed"))
	}
	return items, true
}

// diagnosticSnippet trims long raw output for logging: first 400 and last
// 200 characters. Short output is returned whole.
func diagnosticSnippet(raw string) string {
	const head, tail = 400, 200
	if len(raw) <= head+tail {
		return raw
	}
	return raw[:head] + " … " + raw[len(raw)-tail:]
}
