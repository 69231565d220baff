package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Conversation groups an ordered message log under a title. CreatedAt is
// written as RFC 3339; epoch milliseconds are accepted on read.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	type plain Conversation
	var raw struct {
		plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Conversation(raw.plain)
	ts := bytes.TrimSpace(raw.CreatedAt)
	switch {
	case len(ts) == 0 || bytes.Equal(ts, []byte("null")):
		c.CreatedAt = time.Time{}
	case ts[0] == '"':
		if err := json.Unmarshal(ts, &c.CreatedAt); err != nil {
			return fmt.Errorf("createdAt: %w", err)
		}
	default:
		var ms float64
		if err := json.Unmarshal(ts, &ms); err != nil {
			return fmt.Errorf("createdAt: %w", err)
		}
		c.CreatedAt = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}
