package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// StripFences removes markdown code fences from a model response.
// Handles ```json ... ``` and bare ``` ... ``` wrapping.
func StripFences(response string) string {
	text := strings.TrimSpace(response)

	if strings.Contains(text, "```json") {
		start := strings.Index(text, "```json") + 7
		end := strings.LastIndex(text, "```")
		if end > start {
			text = text[start:end]
		}
	} else if strings.Contains(text, "```") {
		start := strings.Index(text, "```") + 3
		end := strings.LastIndex(text, "```")
		if end > start {
			text = text[start:end]
		}
	}

	return strings.TrimSpace(text)
}

// trailingCommaRegex matches a comma followed by a closing brace or
// bracket, the most common malformation in model JSON output.
var trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)

// RepairJSON applies best-effort fixes to malformed model output:
// extract the outermost JSON object or array, then drop trailing
// commas. It does not guarantee valid JSON; callers re-parse.
func RepairJSON(text string) string {
	repaired := extractOutermost(text)
	repaired = trailingCommaRegex.ReplaceAllString(repaired, "$1")
	return strings.TrimSpace(repaired)
}

// extractOutermost returns the first balanced {...} or [...] region,
// respecting string literals and escapes. Returns the input unchanged
// when no opener is found or the region never closes.
func extractOutermost(text string) string {
	start := -1
	var opener, closer byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			opener = text[i]
			if opener == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return text
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

// ParseJSONResponse unmarshals a model response into out. The response
// is fence-stripped first; if the initial parse fails, one repair
// attempt is made before the error is surfaced.
func ParseJSONResponse(response string, out interface{}) error {
	text := StripFences(response)
	if text == "" {
		return fmt.Errorf("empty response")
	}

	firstErr := json.Unmarshal([]byte(text), out)
	if firstErr == nil {
		return nil
	}

	repaired := RepairJSON(text)
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("response is not valid JSON after repair: %w", firstErr)
	}

	return nil
}
