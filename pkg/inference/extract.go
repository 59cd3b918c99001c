package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	errs "postscan/pkg/errors"
	"postscan/pkg/models"
)

// ParseAnalysis parses the model's response text into a PostAnalysis. When the
// full body is not valid JSON (preamble, markdown fences, trailing commentary)
// it falls back to extracting the first balanced JSON object from the text.
func ParseAnalysis(text string) (*models.PostAnalysis, error) {
	trimmed := strings.TrimSpace(text)

	var analysis models.PostAnalysis
	if err := json.Unmarshal([]byte(trimmed), &analysis); err == nil {
		return &analysis, nil
	}

	candidate, ok := ExtractJSONObject(trimmed)
	if !ok {
		return nil, errs.New(errs.ErrorTypeParsing, "no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(candidate), &analysis); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, fmt.Sprintf("extracted JSON is invalid: %v", err))
	}

	return &analysis, nil
}

// ExtractJSONObject returns the first balanced top-level JSON object in text.
// Braces inside string literals are ignored.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

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
				return text[start : i+1], true
			}
		}
	}

	return "", false
}
