package fetch

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/gateway/localdev"
)

func openBackend(t *testing.T) *localdev.Backend {
	t.Helper()
	b, err := localdev.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func insert(t *testing.T, b *localdev.Backend, table string, row gateway.Row) gateway.Row {
	t.Helper()
	out, err := b.Insert(context.Background(), table, row)
	if err != nil {
		t.Fatalf("insert %s: %v", table, err)
	}
	return out
}

func join(t *testing.T, b *localdev.Backend, chatID, userID string) {
	t.Helper()
	insert(t, b, "chat_participants", gateway.Row{"chat_id": chatID, "user_id": userID})
}

func TestChatsEmptyParticipantSet(t *testing.T) {
	b := openBackend(t)
	user := insert(t, b, "users", gateway.Row{"name": "Alice"})

	chats, err := Chats(context.Background(), b, user.ID())
	if err != nil {
		t.Fatal(err)
	}
	if chats == nil {
		t.Fatal("no memberships should yield an empty collection, not nil")
	}
	if len(chats) != 0 {
		t.Errorf("got %d chats, want 0", len(chats))
	}
}

func TestChatsEnrichment(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	alice := insert(t, b, "users", gateway.Row{"name": "Alice"})
	bob := insert(t, b, "users", gateway.Row{"name": "Bob"})
	tag := insert(t, b, "tags", gateway.Row{"name": "vip", "color": "#f00"})

	chat := insert(t, b, "chats", gateway.Row{"name": "Team"})
	join(t, b, chat.ID(), alice.ID())
	join(t, b, chat.ID(), bob.ID())
	insert(t, b, "chat_tags", gateway.Row{"chat_id": chat.ID(), "tag_id": tag.ID()})

	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": bob.ID(),
		"content": "old", "is_read": true, "created_at": "2026-03-01T10:00:00Z",
	})
	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": bob.ID(),
		"content": "latest", "is_read": false, "created_at": "2026-03-01T11:00:00Z",
	})
	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": alice.ID(),
		"content": "mine unread", "is_read": false, "created_at": "2026-03-01T10:30:00Z",
	})

	chats, err := Chats(ctx, b, alice.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	got := chats[0]

	if got.LastMessage == nil || got.LastMessage.Content != "latest" {
		t.Errorf("LastMessage = %+v, want the newest message", got.LastMessage)
	}
	if got.LastMessage != nil && got.LastMessage.SenderName != "Bob" {
		t.Errorf("LastMessage sender = %q, want Bob", got.LastMessage.SenderName)
	}
	// Alice's own unread message does not count against her.
	if got.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", got.UnreadCount)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "vip" {
		t.Errorf("Tags = %+v, want [vip]", got.Tags)
	}
}

func TestChatsScopedToMemberships(t *testing.T) {
	b := openBackend(t)

	alice := insert(t, b, "users", gateway.Row{"name": "Alice"})
	bob := insert(t, b, "users", gateway.Row{"name": "Bob"})

	mine := insert(t, b, "chats", gateway.Row{"name": "Mine"})
	other := insert(t, b, "chats", gateway.Row{"name": "Other"})
	join(t, b, mine.ID(), alice.ID())
	join(t, b, other.ID(), bob.ID())

	chats, err := Chats(context.Background(), b, alice.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Name != "Mine" {
		t.Errorf("got %+v, want only the chat alice joined", chats)
	}
}

func TestMessagesOrderAndSenderNames(t *testing.T) {
	b := openBackend(t)

	alice := insert(t, b, "users", gateway.Row{"name": "Alice"})
	chat := insert(t, b, "chats", gateway.Row{"name": "Team"})

	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": alice.ID(),
		"content": "second", "created_at": "2026-03-01T11:00:00Z",
	})
	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": alice.ID(),
		"content": "first", "created_at": "2026-03-01T10:00:00Z",
	})

	msgs, err := Messages(context.Background(), b, chat.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("messages out of order: %q, %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].SenderName != "Alice" {
		t.Errorf("SenderName = %q, want Alice", msgs[0].SenderName)
	}
}

func TestMessagesUnknownSenderFallback(t *testing.T) {
	b := openBackend(t)

	// Sender rows can lag behind messages on a fresh sync.
	ghost := insert(t, b, "users", gateway.Row{"name": ""})
	chat := insert(t, b, "chats", gateway.Row{"name": "Team"})
	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": ghost.ID(), "content": "hi",
	})

	msgs, err := Messages(context.Background(), b, chat.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].SenderName != "Unknown" {
		t.Errorf("SenderName = %q, want Unknown", msgs[0].SenderName)
	}
}

func TestMessagesEmptyChatID(t *testing.T) {
	msgs, err := Messages(context.Background(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if msgs != nil {
		t.Errorf("got %v, want nil without touching the gateway", msgs)
	}
}

func TestChatByID(t *testing.T) {
	b := openBackend(t)

	alice := insert(t, b, "users", gateway.Row{"name": "Alice"})
	chat := insert(t, b, "chats", gateway.Row{"name": "Team"})
	insert(t, b, "messages", gateway.Row{
		"chat_id": chat.ID(), "sender_id": alice.ID(), "content": "hello",
	})

	got, err := ChatByID(context.Background(), b, chat.ID(), alice.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Team" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "hello" {
		t.Errorf("LastMessage = %+v", got.LastMessage)
	}

	if _, err := ChatByID(context.Background(), b, "missing", alice.ID()); err == nil {
		t.Error("missing chat should fail")
	}
}
