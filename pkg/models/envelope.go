package models

import (
	"bytes"
	"encoding/json"
)

// Envelope is the backend's loose success wrapper. Depending on the
// endpoint generation the payload arrives under "data", "result" or as
// a bare object/array, and the success flag may be absent entirely.
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Payload returns whichever payload field is populated.
func (e *Envelope) Payload() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Result
}

// OK reports whether the envelope represents a success. A missing flag
// counts as success when a payload is present.
func (e *Envelope) OK() bool {
	if e.Success != nil {
		return *e.Success
	}
	return len(e.Payload()) > 0
}

// DecodeEnvelope parses a response body into an Envelope. Bare arrays
// and bare objects (no wrapper) are accepted and surfaced as the
// payload, since several endpoint generations respond that way.
func DecodeEnvelope(body []byte) (*Envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}
	if trimmed[0] == '[' {
		var arr json.RawMessage
		if json.Unmarshal(trimmed, &arr) != nil {
			return nil, false
		}
		return &Envelope{Data: arr}, true
	}
	var env Envelope
	if json.Unmarshal(trimmed, &env) != nil {
		return nil, false
	}
	if env.Success == nil && len(env.Payload()) == 0 {
		// bare object without a recognizable wrapper; treat the whole
		// body as the payload
		return &Envelope{Data: append(json.RawMessage(nil), trimmed...)}, true
	}
	return &env, true
}
