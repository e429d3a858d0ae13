package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is a chat message in its on-disk JSON form. It is deliberately
// schemaless: well-known fields (id, content, timestamp, sender, created_at)
// have typed accessors, and any additional fields supplied by a producer
// round-trip through serialization unchanged.
type Message map[string]json.RawMessage

// New builds a message with the well-known fields populated. The timestamp
// and created_at fields are formatted as RFC 3339.
func New(id int64, content, sender string, at time.Time) Message {
	m := Message{}
	m.set("id", id)
	m.set("content", content)
	m.set("sender", sender)
	m.set("timestamp", at.Format(time.RFC3339))
	m.set("created_at", at.Format(time.RFC3339))
	return m
}

func (m Message) set(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		// v is always a string or an integer here; Marshal cannot fail.
		panic(err)
	}
	m[key] = raw
}

// ID returns the message id. The second return value is false when the id
// field is absent or not an integer.
func (m Message) ID() (int64, bool) {
	raw, ok := m["id"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// Sender returns the sender field, or an empty string when absent.
func (m Message) Sender() string {
	return m.stringField("sender")
}

// Content returns the content field, or an empty string when absent.
func (m Message) Content() string {
	return m.stringField("content")
}

// Time parses the timestamp field as RFC 3339. The second return value is
// false when the field is absent or unparsable.
func (m Message) Time() (time.Time, bool) {
	s := m.stringField("timestamp")
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (m Message) stringField(key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Filename derives the deterministic storage filename for the message:
// <UTC timestamp YYYYMMDD_HHMMSS>_<id>.json. The message's own timestamp
// field is used when present and parsable; otherwise fallback is used.
// Returns an error when the message has no usable id.
func (m Message) Filename(fallback time.Time) (string, error) {
	id, ok := m.ID()
	if !ok {
		return "", fmt.Errorf("message has no integer id field")
	}

	ts := fallback
	if t, ok := m.Time(); ok {
		ts = t
	}

	return fmt.Sprintf("%s_%d.json", ts.UTC().Format("20060102_150405"), id), nil
}

// Encode serializes the message as pretty-printed JSON for human inspection
// in the repository.
func (m Message) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
