package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PartialRefundsKey is the reserved metadata key under which the partial-refund
// ledger is persisted. Callers may not write it.
const PartialRefundsKey = "partialRefunds"

// Metadata is an insertion-ordered string-keyed map of JSON values.
// The zero value is ready to use.
type Metadata struct {
	keys   []string
	values map[string]json.RawMessage
}

// Set stores value under key, keeping the original position of an existing key.
func (m *Metadata) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode metadata value for %q: %w", key, err)
	}
	m.setRaw(key, raw)
	return nil
}

func (m *Metadata) setRaw(key string, raw json.RawMessage) {
	if m.values == nil {
		m.values = make(map[string]json.RawMessage)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = raw
}

// Get decodes the value stored under key into dst.
func (m Metadata) Get(key string, dst any) (bool, error) {
	raw, ok := m.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("failed to decode metadata value for %q: %w", key, err)
	}
	return true, nil
}

// Raw returns the encoded value stored under key.
func (m Metadata) Raw(key string) (json.RawMessage, bool) {
	raw, ok := m.values[key]
	return raw, ok
}

// Delete removes key.
func (m *Metadata) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m Metadata) Len() int { return len(m.keys) }

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	var c Metadata
	for _, k := range m.keys {
		raw := make(json.RawMessage, len(m.values[k]))
		copy(raw, m.values[k])
		c.setRaw(k, raw)
	}
	return c
}

// MarshalJSON writes the keys in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(m.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		m.setRaw(key, raw)
	}
	_, err = dec.Token()
	return err
}
