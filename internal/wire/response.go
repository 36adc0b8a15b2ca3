package wire

import "github.com/bytedance/sonic"

// Response is the envelope every reply on the wire carries: at minimum a
// Status of "OK" or "ERROR", plus whatever fields the command calls for.
// It is built as a map rather than a fixed struct because the field set
// genuinely varies per command (§4.3) and a struct would need every field
// to carry `omitempty`, which reads worse than just building the map the
// handler actually needs.
type Response map[string]any

// OK builds a bare success envelope.
func OK() Response {
	return Response{"status": "OK"}
}

// OKMessage builds a success envelope carrying a human-readable message.
func OKMessage(msg string) Response {
	return Response{"status": "OK", "message": msg}
}

// Err builds an error envelope.
func Err(msg string) Response {
	return Response{"status": "ERROR", "message": msg}
}

// Encode serializes r to a single JSON line (without the trailing
// newline — the session layer owns framing).
func (r Response) Encode() (string, error) {
	return sonic.MarshalString(r)
}
