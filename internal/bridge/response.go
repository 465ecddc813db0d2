package bridge

import "encoding/json"

// Response is what a bridge call hands back to the widget: either the
// upstream body passed through untouched or an envelope built here.
type Response struct {
	raw    json.RawMessage
	fields map[string]interface{}
}

// Passthrough wraps an upstream JSON body
func Passthrough(raw json.RawMessage) Response {
	return Response{raw: raw}
}

// Envelope builds a response from fields
func Envelope(fields map[string]interface{}) Response {
	return Response{fields: fields}
}

// ErrorEnvelope is the uniform failure shape {error: true, message}
func ErrorEnvelope(message string) Response {
	return Envelope(map[string]interface{}{
		"error":   true,
		"message": message,
	})
}

// MarshalJSON writes the passthrough body or the envelope
func (r Response) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

// IsError reports whether r is an error envelope
func (r Response) IsError() bool {
	if r.fields == nil {
		return false
	}
	v, _ := r.fields["error"].(bool)
	return v
}

// Field returns an envelope field; passthrough bodies are decoded on demand
func (r Response) Field(key string) interface{} {
	if r.fields != nil {
		return r.fields[key]
	}
	var m map[string]interface{}
	if err := json.Unmarshal(r.raw, &m); err != nil {
		return nil
	}
	return m[key]
}

// Message returns the "message" field as a string
func (r Response) Message() string {
	s, _ := r.Field("message").(string)
	return s
}
