package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Event is one access-log record. Optional fields are omitted when empty.
// Scoring only reads Endpoint, ResponseCode, Params, Body, UserID and UserAgent;
// the rest is carried through for display.
type Event struct {
	ID        int64  `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"` // ISO8601
	Level     string `json:"level,omitempty"`
	Message   string `json:"message,omitempty"`
	Method    string `json:"method,omitempty"`
	IP        string `json:"ip,omitempty"`

	Endpoint     string  `json:"endpoint,omitempty"`
	ResponseCode int     `json:"response_code,omitempty"`
	Params       Payload `json:"params,omitempty"`
	Body         Payload `json:"body,omitempty"`
	UserID       *int64  `json:"user_id,omitempty"`
	UserAgent    string  `json:"user_agent,omitempty"`
}

// ScanText is the params text followed by the body text, the form payload
// signatures are matched against.
func (e Event) ScanText() string {
	return e.Params.Text() + e.Body.Text()
}

// HasUserID reports whether the record carries the given user id.
func (e Event) HasUserID(id int64) bool {
	return e.UserID != nil && *e.UserID == id
}

// UnmarshalJSON decodes a record leniently: a missing or wrongly typed field
// is left at its zero value instead of failing the whole record. Only a
// record that is not a JSON object is rejected.
func (e *Event) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid json", ErrMalformedRecord)
	}
	rec := gjson.ParseBytes(data)
	if !rec.IsObject() {
		return fmt.Errorf("%w: expected object, got %s", ErrMalformedRecord, kindOf(rec))
	}

	*e = Event{
		Timestamp:    stringField(rec, "timestamp"),
		Level:        stringField(rec, "level"),
		Message:      stringField(rec, "message"),
		Method:       stringField(rec, "method"),
		IP:           stringField(rec, "ip"),
		Endpoint:     stringField(rec, "endpoint"),
		ResponseCode: int(integerOr(rec, "response_code", 0)),
		Params:       payloadField(rec, "params"),
		Body:         payloadField(rec, "body"),
		UserAgent:    stringField(rec, "user_agent"),
	}
	e.ID = integerOr(rec, "id", 0)
	if id, ok := integerField(rec, "user_id"); ok {
		e.UserID = &id
	}
	return nil
}

func stringField(rec gjson.Result, key string) string {
	if v := rec.Get(key); v.Type == gjson.String {
		return v.Str
	}
	return ""
}

func integerField(rec gjson.Result, key string) (int64, bool) {
	v := rec.Get(key)
	if v.Type != gjson.Number {
		return 0, false
	}
	n := v.Int()
	if float64(n) != v.Num {
		return 0, false
	}
	return n, true
}

func integerOr(rec gjson.Result, key string, def int64) int64 {
	if n, ok := integerField(rec, key); ok {
		return n
	}
	return def
}

func payloadField(rec gjson.Result, key string) Payload {
	v := rec.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return Payload(v.Raw)
}

func kindOf(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "array"
	case v.IsObject():
		return "object"
	case v.Type == gjson.String:
		return "string"
	case v.Type == gjson.Number:
		return "number"
	case v.Type == gjson.True, v.Type == gjson.False:
		return "bool"
	case v.Type == gjson.Null:
		return "null"
	}
	return v.Type.String()
}

// Payload holds a params or body value exactly as it arrived: a JSON string,
// object, array or scalar.
type Payload json.RawMessage

// Text returns the payload as scan text. JSON strings are unquoted, and null
// or absent payloads are empty. Objects and arrays are rendered compactly with
// their keys and strings decoded, so escape sequences cannot split a marker.
func (p Payload) Text() string {
	if len(p) == 0 {
		return ""
	}
	v := gjson.ParseBytes(p)
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.Str
	}
	if !v.IsObject() && !v.IsArray() {
		return string(p)
	}
	var b strings.Builder
	writePlain(&b, v)
	return b.String()
}

func writePlain(b *strings.Builder, v gjson.Result) {
	switch {
	case v.IsObject():
		b.WriteByte('{')
		first := true
		v.ForEach(func(k, val gjson.Result) bool {
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteByte('"')
			b.WriteString(k.Str)
			b.WriteString(`":`)
			writePlain(b, val)
			return true
		})
		b.WriteByte('}')
	case v.IsArray():
		b.WriteByte('[')
		first := true
		v.ForEach(func(_, val gjson.Result) bool {
			if !first {
				b.WriteByte(',')
			}
			first = false
			writePlain(b, val)
			return true
		})
		b.WriteByte(']')
	case v.Type == gjson.String:
		b.WriteByte('"')
		b.WriteString(v.Str)
		b.WriteByte('"')
	default:
		b.WriteString(v.Raw)
	}
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("event: UnmarshalJSON on nil Payload")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// TextPayload wraps s as a JSON string payload.
func TextPayload(s string) Payload {
	b, _ := json.Marshal(s)
	return Payload(b)
}

// JSONPayload encodes v as a structured payload.
func JSONPayload(v any) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return Payload(b), nil
}
