package executor

import (
	"errors"

	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
)

// parseJSONWithRepair validates a buffered JSON body, taking exactly one
// repair pass before giving up. hujson handles trailing commas and comments;
// the truncation fallback salvages a body cut off mid-stream by keeping the
// longest balanced prefix.
func parseJSONWithRepair(data []byte) ([]byte, error) {
	if gjson.ValidBytes(data) {
		return data, nil
	}

	if repaired, err := hujson.Standardize(data); err == nil && gjson.ValidBytes(repaired) {
		return repaired, nil
	}

	if truncated := truncateToBalanced(data); truncated != nil && gjson.ValidBytes(truncated) {
		return truncated, nil
	}

	return nil, &ParseError{Err: errors.New("invalid JSON response body")}
}

// truncateToBalanced returns the prefix of data ending at the last position
// where all brackets opened so far are closed, or nil when no such prefix
// exists.
func truncateToBalanced(data []byte) []byte {
	depth := 0
	inString := false
	escaped := false
	lastBalanced := -1

	for i := 0; i < len(data); i++ {
		c := data[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					lastBalanced = i
				}
			}
		}
	}

	if lastBalanced < 0 {
		return nil
	}
	return data[:lastBalanced+1]
}
