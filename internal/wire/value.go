// Package wire implements the line-oriented protocol that carries both
// client traffic and inter-node traffic on the same TCP listener: one
// newline-terminated request in, one newline-terminated JSON response out.
//
// Value decoding goes through bytedance/sonic rather than encoding/json —
// sonic is drop-in JSON-compatible and is already in this module's
// dependency closure (pulled in by gin), so the hot path that round-trips
// every SET/GET value gets the faster codec for free instead of paying for
// a library it already has to build.
package wire

import (
	"strings"

	"github.com/bytedance/sonic"
)

// DecodeValue interprets the remainder of a SET line as JSON when possible,
// falling back to the raw string (with one layer of surrounding double
// quotes stripped, matching the grammar in the spec) otherwise. Either way
// the result round-trips value-preserving through Response.Encode, which
// re-marshals it as a nested JSON value rather than a re-encoded string;
// the original bytes (whitespace, number spelling, key order) are not kept.
func DecodeValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var v any
	if err := sonic.UnmarshalString(trimmed, &v); err == nil {
		return v
	}

	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		return trimmed[1 : len(trimmed)-1]
	}
	return trimmed
}
