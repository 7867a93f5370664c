package github

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload is a decoded webhook body with typed, presence-aware accessors.
type Payload struct {
	root map[string]interface{}
}

// Field is the outcome of looking up one path in a payload.
type Field struct {
	value   interface{}
	present bool
}

// DecodePayload parses a raw webhook body. Numbers are kept as json.Number
// so that large ids keep their exact text form.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return Payload{}, err
	}
	if dec.More() {
		return Payload{}, fmt.Errorf("trailing data after payload object")
	}
	return Payload{root: raw}, nil
}

// NewPayload wraps an already decoded object.
func NewPayload(raw map[string]interface{}) Payload {
	return Payload{root: raw}
}

// Get walks a dotted path.
func (p Payload) Get(path string) Field {
	v, ok := getPath(p.root, path)
	if !ok || v == nil {
		return Field{}
	}
	return Field{value: v, present: true}
}

// Present reports whether the path held a non-null value.
func (f Field) Present() bool {
	return f.present
}

// String returns the value as a string. Numbers are formatted; other
// types report false.
func (f Field) String() (string, bool) {
	if !f.present {
		return "", false
	}
	switch val := f.value.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val)), true
		}
		return fmt.Sprintf("%f", val), true
	case int:
		return fmt.Sprintf("%d", val), true
	case int64:
		return fmt.Sprintf("%d", val), true
	}
	return "", false
}

// NonEmpty returns the string value only when it is present and not "".
func (f Field) NonEmpty() (string, bool) {
	s, ok := f.String()
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Int returns an integral value.
func (f Field) Int() (int64, bool) {
	if !f.present {
		return 0, false
	}
	switch val := f.value.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	}
	return 0, false
}

// Bool returns a boolean value. Any non-bool value reports false.
func (f Field) Bool() (bool, bool) {
	if !f.present {
		return false, false
	}
	b, ok := f.value.(bool)
	return b, ok
}

// Len returns the length of an array value.
func (f Field) Len() (int, bool) {
	if !f.present {
		return 0, false
	}
	arr, ok := f.value.([]interface{})
	if !ok {
		return 0, false
	}
	return len(arr), true
}

// Time parses an RFC 3339 timestamp.
func (f Field) Time() (time.Time, bool) {
	s, ok := f.NonEmpty()
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
