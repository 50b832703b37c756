// Package rpctypes contains the request and response types of the JSON-RPC API.
package rpctypes

import (
	"encoding/json"
	"time"
)

// Time is serialized as a RFC3339 string in UTC. The zero value is an empty string.
type Time struct {
	time.Time
}

var (
	_ json.Marshaler   = (*Time)(nil)
	_ json.Unmarshaler = (*Time)(nil)
)

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	t2, err := time.Parse(time.RFC3339, s)
	t.Time = t2
	return err
}
