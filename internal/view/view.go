// Package view derives display state from raw store state. Everything here
// is pure and synchronous.
package view

import (
	"sort"
	"strings"
	"time"

	"github.com/gmfranca/zapboard/internal/model"
)

// FilterChats returns the chats matching the search term: a case-insensitive
// substring of the chat name, the last message content or the phone field.
// An empty term matches everything.
func FilterChats(chats []model.Chat, term string) []model.Chat {
	if term == "" {
		return chats
	}
	needle := strings.ToLower(term)

	var out []model.Chat
	for _, chat := range chats {
		if strings.Contains(strings.ToLower(chat.Name), needle) ||
			strings.Contains(strings.ToLower(chat.Phone), needle) {
			out = append(out, chat)
			continue
		}
		if chat.LastMessage != nil &&
			strings.Contains(strings.ToLower(chat.LastMessage.Content), needle) {
			out = append(out, chat)
		}
	}
	return out
}

// SortChats orders chats by updated_at descending, most recent activity
// first. The sort is stable; ties keep their input order.
func SortChats(chats []model.Chat) []model.Chat {
	out := make([]model.Chat, len(chats))
	copy(out, chats)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// FormatTimestamp renders a chat-list timestamp: time of day within the last
// 24 hours, "Yesterday" between 24 and 48 hours, a short date beyond that.
func FormatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	age := now.Sub(t)
	if age < 0 {
		age = -age
	}
	switch {
	case age < 24*time.Hour:
		return t.Format("15:04")
	case age < 48*time.Hour:
		return "Yesterday"
	default:
		return t.Format("02-Jan-06")
	}
}
