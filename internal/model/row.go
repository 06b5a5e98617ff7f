package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gmfranca/zapboard/internal/gateway"
)

// Decode converts a gateway row into a typed value via a JSON round trip.
// Timestamps must be RFC 3339 strings, which is how the backend emits them.
func Decode[T any](row gateway.Row) (T, error) {
	var out T
	raw, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

// ApplyChatPatch merges a partial chat row into c. Only columns present in
// the patch are applied; everything else keeps its current value. The
// denormalized last_message column updates the derived LastMessage content.
func ApplyChatPatch(c *Chat, patch gateway.Row) {
	for col, val := range patch {
		switch col {
		case "name":
			if s, ok := val.(string); ok {
				c.Name = s
			}
		case "is_group":
			c.IsGroup = truthy(val)
		case "avatar_url":
			if s, ok := val.(string); ok {
				c.AvatarURL = s
			}
		case "phone":
			if s, ok := val.(string); ok {
				c.Phone = s
			}
		case "created_at":
			if t, ok := parseTime(val); ok {
				c.CreatedAt = t
			}
		case "updated_at":
			if t, ok := parseTime(val); ok {
				c.UpdatedAt = t
			}
		case "last_message":
			s, ok := val.(string)
			if !ok {
				continue
			}
			if c.LastMessage == nil {
				c.LastMessage = &Message{ChatID: c.ID}
			}
			c.LastMessage.Content = s
		}
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return false
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
