package view

import (
	"testing"
	"time"

	"github.com/gmfranca/zapboard/internal/model"
)

func TestFilterChatsEmptyTermMatchesAll(t *testing.T) {
	chats := []model.Chat{{Name: "Alice"}, {Name: "Bob"}}
	got := FilterChats(chats, "")
	if len(got) != 2 {
		t.Errorf("FilterChats with empty term returned %d chats, want 2", len(got))
	}
}

func TestFilterChatsByName(t *testing.T) {
	chats := []model.Chat{
		{ID: "1", Name: "Engineering"},
		{ID: "2", Name: "Support"},
		{ID: "3", Name: "engineering-alerts"},
	}
	got := FilterChats(chats, "ENGIN")
	if len(got) != 2 {
		t.Fatalf("got %d chats, want 2", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("got ids %s, %s; want 1, 3", got[0].ID, got[1].ID)
	}
}

func TestFilterChatsByLastMessage(t *testing.T) {
	chats := []model.Chat{
		{ID: "1", Name: "Alice", LastMessage: &model.Message{Content: "see you tomorrow"}},
		{ID: "2", Name: "Bob", LastMessage: &model.Message{Content: "ok"}},
		{ID: "3", Name: "Carol"},
	}
	got := FilterChats(chats, "tomorrow")
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("got %v, want only chat 1", got)
	}
}

func TestFilterChatsByPhone(t *testing.T) {
	chats := []model.Chat{
		{ID: "1", Name: "Alice", Phone: "+5511999887766"},
		{ID: "2", Name: "Bob", Phone: "+5521988776655"},
	}
	got := FilterChats(chats, "5511")
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("got %v, want only chat 1", got)
	}
}

func TestFilterChatsNilLastMessage(t *testing.T) {
	chats := []model.Chat{{ID: "1", Name: "Alice"}}
	got := FilterChats(chats, "anything")
	if len(got) != 0 {
		t.Errorf("got %d chats, want 0", len(got))
	}
}

func TestSortChatsNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chats := []model.Chat{
		{ID: "old", UpdatedAt: base.Add(-2 * time.Hour)},
		{ID: "new", UpdatedAt: base},
		{ID: "mid", UpdatedAt: base.Add(-1 * time.Hour)},
	}
	got := SortChats(chats)
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
	if chats[0].ID != "old" {
		t.Error("SortChats mutated its input")
	}
}

func TestSortChatsStableOnTies(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chats := []model.Chat{
		{ID: "a", UpdatedAt: ts},
		{ID: "b", UpdatedAt: ts},
		{ID: "c", UpdatedAt: ts},
	}
	got := SortChats(chats)
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s (ties must keep input order)", i, got[i].ID, id)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero time", time.Time{}, ""},
		{"just now", now.Add(-5 * time.Minute), "11:55"},
		{"almost a day", now.Add(-23*time.Hour - 59*time.Minute), "12:01"},
		{"just over a day", now.Add(-24*time.Hour - 1*time.Minute), "Yesterday"},
		{"almost two days", now.Add(-47*time.Hour - 59*time.Minute), "Yesterday"},
		{"just over two days", now.Add(-48*time.Hour - 1*time.Minute), "08-Mar-26"},
		{"last month", now.Add(-30 * 24 * time.Hour), "08-Feb-26"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimestamp(tt.t, now); got != tt.want {
				t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.t, got, tt.want)
			}
		})
	}
}
