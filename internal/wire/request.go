package wire

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bytedance/sonic"
)

// ClientCommand is a parsed client-level request line: SET/GET/DELETE/PING/
// STATUS/SHUTDOWN/FLUSH/SNAPSHOT. Verb is always upper-cased; Key and
// RawValue are empty when the grammar doesn't use them.
type ClientCommand struct {
	Verb     string
	Key      string
	RawValue string // only set for SET — everything after the key, unparsed
}

// PeerMessage is a peer-to-peer JSON message: REGISTER_NODE, REPLICATE,
// ELECTION, HEARTBEAT, SYNC. Fields are kept as a generic map because each
// type carries a different payload shape; the cluster handler pulls out
// what it needs by type.
type PeerMessage struct {
	Type   string
	Fields map[string]any
}

// IsPeerMessage reports whether line is a peer JSON message rather than a
// client command line — distinguished the way the spec mandates: peer
// messages are JSON objects, client commands are bare keyword tokens. We
// dispatch on the first non-whitespace byte rather than the listening
// port, since both kinds of traffic share one listener.
func IsPeerMessage(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "{")
}

// ParsePeerMessage decodes a peer JSON line into a PeerMessage. It fails if
// the object has no "type" field.
func ParsePeerMessage(line string) (PeerMessage, error) {
	var fields map[string]any
	if err := sonic.UnmarshalString(strings.TrimSpace(line), &fields); err != nil {
		return PeerMessage{}, fmt.Errorf("malformed peer message: %w", err)
	}
	t, ok := fields["type"].(string)
	if !ok || t == "" {
		return PeerMessage{}, fmt.Errorf("peer message missing \"type\"")
	}
	return PeerMessage{Type: t, Fields: fields}, nil
}

// ParseClientCommand splits a client request line into verb, key, and raw
// value per the grammar in the spec:
//
//	SET <key> <value-rest-of-line>
//	GET <key>
//	DELETE <key>
//	PING
//	STATUS
//	SHUTDOWN
//	FLUSH
//	SNAPSHOT
//
// Keys contain no whitespace; <value-rest-of-line> is everything from the
// first non-space character after the key through the end of the line.
func ParseClientCommand(line string) (ClientCommand, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ClientCommand{}, fmt.Errorf("empty request")
	}

	fields := strings.SplitN(trimmed, " ", 2)
	verb := strings.ToUpper(fields[0])

	switch verb {
	case "PING", "STATUS", "SHUTDOWN", "FLUSH", "SNAPSHOT":
		return ClientCommand{Verb: verb}, nil

	case "GET", "DELETE":
		if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
			return ClientCommand{}, fmt.Errorf("%s requires a key", verb)
		}
		key := strings.Fields(fields[1])[0]
		return ClientCommand{Verb: verb, Key: key}, nil

	case "SET":
		if len(fields) < 2 {
			return ClientCommand{}, fmt.Errorf("SET requires a key and a value")
		}
		rest := fields[1]
		keyFields := strings.Fields(rest)
		if len(keyFields) == 0 {
			return ClientCommand{}, fmt.Errorf("SET requires a key and a value")
		}
		key := keyFields[0]

		// The value is everything from the first non-space rune after the
		// key through the end of the line, not a second space-split — extra
		// whitespace between verb/key/value must never fold into the key.
		afterKey := rest[strings.Index(rest, key)+len(key):]
		valueStart := strings.IndexFunc(afterKey, func(r rune) bool { return !unicode.IsSpace(r) })
		if valueStart == -1 {
			return ClientCommand{}, fmt.Errorf("SET requires a value")
		}
		return ClientCommand{Verb: verb, Key: key, RawValue: afterKey[valueStart:]}, nil

	default:
		return ClientCommand{}, fmt.Errorf("unknown command %q", fields[0])
	}
}
