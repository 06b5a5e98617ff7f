package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/bus"
	"github.com/gmfranca/zapboard/internal/fetch"
	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/gateway/localdev"
	"github.com/gmfranca/zapboard/internal/model"
)

func newTestStore(t *testing.T) (*Store, *localdev.Backend, *bus.Bus) {
	t.Helper()
	backend, err := localdev.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	b := bus.New()
	return New(backend, b, zap.NewNop()), backend, b
}

func seedUser(t *testing.T, backend *localdev.Backend, name string) gateway.Row {
	t.Helper()
	row, err := backend.Insert(context.Background(), "users", gateway.Row{"name": name, "email": name + "@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	return row
}

func seedChat(t *testing.T, backend *localdev.Backend, userID, name string) gateway.Row {
	t.Helper()
	ctx := context.Background()
	chat, err := backend.Insert(ctx, "chats", gateway.Row{"name": name})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Insert(ctx, "chat_participants", gateway.Row{"chat_id": chat.ID(), "user_id": userID}); err != nil {
		t.Fatal(err)
	}
	return chat
}

func TestLoad(t *testing.T) {
	store, backend, b := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, backend, "alice")
	seedChat(t, backend, user.ID(), "Team")
	backend.SetSessionUser(user.ID())

	ch, unsub := b.Subscribe("state.user", 10)
	defer unsub()

	if err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if got := store.CurrentUser(); got == nil || got.ID != user.ID() {
		t.Fatalf("CurrentUser = %+v", got)
	}
	if store.Chats().Status != fetch.Ready || len(store.Chats().Items) != 1 {
		t.Errorf("chats = %+v, want one ready chat", store.Chats())
	}
	if store.Users().Status != fetch.Ready {
		t.Errorf("users status = %v, want Ready", store.Users().Status)
	}
	if store.Tags().Status != fetch.Ready {
		t.Errorf("tags status = %v, want Ready", store.Tags().Status)
	}

	select {
	case evt := <-ch:
		if _, ok := evt.Payload.(model.User); !ok {
			t.Errorf("state.user payload type = %T", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no state.user event published")
	}
}

func TestLoadWithoutSession(t *testing.T) {
	store, _, _ := newTestStore(t)
	if err := store.Load(context.Background()); !errors.Is(err, gateway.ErrNotAuthenticated) {
		t.Errorf("Load = %v, want ErrNotAuthenticated", err)
	}
}

func TestSelectChatClearsMessagesAndBumpsEpoch(t *testing.T) {
	store, _, b := newTestStore(t)

	ch, unsub := b.Subscribe("state.active_chat", 10)
	defer unsub()

	before := store.ActiveSelection().Epoch
	chat := model.Chat{ID: "c1", Name: "Team"}
	store.SelectChat(&chat)

	sel := store.ActiveSelection()
	if sel.ChatID != "c1" {
		t.Errorf("ChatID = %q, want c1", sel.ChatID)
	}
	if sel.Epoch != before+1 {
		t.Errorf("Epoch = %d, want %d", sel.Epoch, before+1)
	}
	if store.Messages().Status != fetch.Loading {
		t.Errorf("messages status = %v, want Loading", store.Messages().Status)
	}

	select {
	case evt := <-ch:
		got, ok := evt.Payload.(Selection)
		if !ok || got != sel {
			t.Errorf("event payload = %+v, want %+v", evt.Payload, sel)
		}
	case <-time.After(time.Second):
		t.Error("no state.active_chat event published")
	}
}

func TestSelectNilDeselects(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.SelectChat(&model.Chat{ID: "c1"})
	store.SelectChat(nil)

	if store.ActiveChat() != nil {
		t.Error("ActiveChat should be nil after deselect")
	}
	if store.Messages().Status != fetch.Ready {
		t.Errorf("messages status = %v, want Ready empty after deselect", store.Messages().Status)
	}
}

func TestStaleMessageFetchDiscarded(t *testing.T) {
	store, _, _ := newTestStore(t)

	store.SelectChat(&model.Chat{ID: "a"})
	selA := store.ActiveSelection()
	store.SelectChat(&model.Chat{ID: "b"})
	selB := store.ActiveSelection()

	// The fetch started for chat a completes after the user moved to chat b.
	store.CommitMessages(selA, []model.Message{{ID: "m1", ChatID: "a"}}, nil)
	if store.Messages().Status != fetch.Loading {
		t.Errorf("stale commit applied: status = %v, want Loading", store.Messages().Status)
	}

	store.CommitMessages(selB, []model.Message{{ID: "m2", ChatID: "b"}}, nil)
	msgs := store.Messages()
	if msgs.Status != fetch.Ready || len(msgs.Items) != 1 || msgs.Items[0].ID != "m2" {
		t.Errorf("messages = %+v, want only chat b's message", msgs)
	}

	// A late replay of the stale result cannot clobber the current one.
	store.CommitMessages(selA, []model.Message{{ID: "m1", ChatID: "a"}}, nil)
	if got := store.Messages().Items[0].ID; got != "m2" {
		t.Errorf("messages item = %s, want m2", got)
	}
}

func TestCommitMessagesFailure(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.SelectChat(&model.Chat{ID: "a"})
	sel := store.ActiveSelection()

	store.CommitMessages(sel, nil, errors.New("boom"))
	msgs := store.Messages()
	if msgs.Status != fetch.Failed || msgs.Err == nil {
		t.Errorf("messages = %+v, want Failed with error", msgs)
	}
}

func TestUpsertChatFromFeedIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t)

	chat := model.Chat{ID: "c1", Name: "Team", UpdatedAt: time.Now().UTC()}
	store.UpsertChatFromFeed(chat)
	store.UpsertChatFromFeed(chat)

	items := store.Chats().Items
	if len(items) != 1 {
		t.Fatalf("got %d chats after duplicate upsert, want 1", len(items))
	}
}

func TestUpsertChatFromFeedPreservesEnrichment(t *testing.T) {
	store, _, _ := newTestStore(t)

	enriched := model.Chat{
		ID: "c1", Name: "Team",
		LastMessage: &model.Message{Content: "hi"},
		UnreadCount: 3,
		Tags:        []model.Tag{{ID: "t1", Name: "vip"}},
	}
	store.UpsertChatFromFeed(enriched)

	// A raw feed row carries no derived fields.
	store.UpsertChatFromFeed(model.Chat{ID: "c1", Name: "Renamed"})

	got := store.Chats().Items[0]
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "hi" {
		t.Errorf("LastMessage = %+v, enrichment should survive", got.LastMessage)
	}
	if got.UnreadCount != 3 || len(got.Tags) != 1 {
		t.Errorf("UnreadCount = %d, Tags = %v", got.UnreadCount, got.Tags)
	}
}

func TestChatsStaySortedAfterFeedMerges(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.CommitChats([]model.Chat{
		{ID: "a", UpdatedAt: base.Add(-2 * time.Hour)},
		{ID: "b", UpdatedAt: base.Add(-1 * time.Hour)},
	}, nil)

	// Patching the older chat to newer activity moves it to the front.
	store.PatchChatFromFeed("a", gateway.Row{"updated_at": base.Format(time.RFC3339)})
	items := store.Chats().Items
	if items[0].ID != "a" {
		t.Errorf("after patch, front = %s, want a", items[0].ID)
	}

	store.TouchChatFromMessage("b", "newest", base.Add(time.Hour))
	items = store.Chats().Items
	if items[0].ID != "b" {
		t.Errorf("after touch, front = %s, want b", items[0].ID)
	}
	if items[0].LastMessage == nil || items[0].LastMessage.Content != "newest" {
		t.Errorf("touch did not update the preview: %+v", items[0].LastMessage)
	}
}

func TestPatchChatFromFeedIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.CommitChats([]model.Chat{{ID: "c1", Name: "Old"}}, nil)

	patch := gateway.Row{"name": "New", "updated_at": "2026-03-05T08:00:00Z"}
	store.PatchChatFromFeed("c1", patch)
	store.PatchChatFromFeed("c1", patch)

	items := store.Chats().Items
	if len(items) != 1 {
		t.Fatalf("got %d chats after duplicate patch, want 1", len(items))
	}
	if items[0].Name != "New" {
		t.Errorf("Name = %q, want New", items[0].Name)
	}
}

func TestPatchChatFromFeedUnknownIDEstablishesEntry(t *testing.T) {
	store, _, _ := newTestStore(t)

	store.PatchChatFromFeed("ghost", gateway.Row{"name": "Early", "updated_at": "2026-03-01T12:00:00Z"})
	items := store.Chats().Items
	if len(items) != 1 || items[0].ID != "ghost" || items[0].Name != "Early" {
		t.Errorf("items = %+v, want entry established from the patch", items)
	}
}

func TestPatchChatFromFeedUpdatesActiveChat(t *testing.T) {
	store, _, _ := newTestStore(t)

	chat := model.Chat{ID: "c1", Name: "Old"}
	store.CommitChats([]model.Chat{chat}, nil)
	store.SelectChat(&chat)

	store.PatchChatFromFeed("c1", gateway.Row{"name": "New"})
	if got := store.ActiveChat(); got == nil || got.Name != "New" {
		t.Errorf("ActiveChat = %+v, want patched name", got)
	}
}

func TestRemoveChatFromFeedDeselectsActive(t *testing.T) {
	store, _, _ := newTestStore(t)

	chat := model.Chat{ID: "c1", Name: "Team"}
	store.CommitChats([]model.Chat{chat}, nil)
	store.SelectChat(&chat)

	store.RemoveChatFromFeed("c1")
	if store.ActiveChat() != nil {
		t.Error("deleted active chat should be deselected")
	}
	if len(store.Chats().Items) != 0 {
		t.Errorf("chats = %+v, want empty", store.Chats().Items)
	}
}

func TestVisibleChats(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.CommitChats([]model.Chat{
		{ID: "1", Name: "Engineering", UpdatedAt: base.Add(-time.Hour)},
		{ID: "2", Name: "Support", UpdatedAt: base},
	}, nil)

	got := store.VisibleChats()
	if len(got) != 2 || got[0].ID != "2" {
		t.Errorf("VisibleChats = %+v, want sorted newest first", got)
	}

	store.SetSearchTerm("engin")
	got = store.VisibleChats()
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("filtered VisibleChats = %+v, want only Engineering", got)
	}
}

func TestSendMessageWithoutSelection(t *testing.T) {
	store, backend, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SendMessage(ctx, "hello"); err != nil {
		t.Errorf("send without user and chat = %v, want nil no-op", err)
	}
	rows, _ := backend.Select(ctx, "messages", gateway.Query{})
	if len(rows) != 0 {
		t.Errorf("found %d messages, want 0", len(rows))
	}
}

func TestSendMessage(t *testing.T) {
	store, backend, _ := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, backend, "alice")
	chatRow := seedChat(t, backend, user.ID(), "Team")
	backend.SetSessionUser(user.ID())
	if err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}

	chats := store.Chats().Items
	store.SelectChat(&chats[0])

	if err := store.SendMessage(ctx, "hello there"); err != nil {
		t.Fatal(err)
	}

	rows, err := backend.Select(ctx, "messages", gateway.Query{Filter: gateway.Eq("chat_id", chatRow.ID())})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d messages, want 1", len(rows))
	}
	if rows[0].String("sender_id") != user.ID() || rows[0].String("sent_by") != "alice@example.com" {
		t.Errorf("message row = %+v", rows[0])
	}

	chatRows, _ := backend.Select(ctx, "chats", gateway.Query{Filter: gateway.Eq("id", chatRow.ID())})
	if chatRows[0].String("last_message") != "hello there" {
		t.Errorf("chat last_message = %q, want the sent content", chatRows[0].String("last_message"))
	}

	items := store.Chats().Items
	if items[0].LastMessage == nil || items[0].LastMessage.Content != "hello there" {
		t.Errorf("list preview = %+v, want sent content", items[0].LastMessage)
	}
}

// failingTouchGateway breaks the chat touch after a successful message insert.
type failingTouchGateway struct {
	gateway.Gateway
}

func (g *failingTouchGateway) Update(context.Context, string, gateway.Filter, gateway.Row) ([]gateway.Row, error) {
	return nil, errors.New("update unavailable")
}

func TestSendMessageAcceptsFailedChatTouch(t *testing.T) {
	backend, err := localdev.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	store := New(&failingTouchGateway{Gateway: backend}, bus.New(), zap.NewNop())
	ctx := context.Background()

	user := seedUser(t, backend, "alice")
	seedChat(t, backend, user.ID(), "Team")
	backend.SetSessionUser(user.ID())
	if err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}
	chats := store.Chats().Items
	store.SelectChat(&chats[0])

	if err := store.SendMessage(ctx, "hello"); err != nil {
		t.Errorf("send with failed chat touch = %v, want accepted", err)
	}
	rows, _ := backend.Select(ctx, "messages", gateway.Query{})
	if len(rows) != 1 {
		t.Errorf("found %d messages, want 1 despite failed touch", len(rows))
	}
}

func TestCreateChat(t *testing.T) {
	store, backend, _ := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, backend, "alice")
	bob := seedUser(t, backend, "bob")
	backend.SetSessionUser(alice.ID())
	if err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}

	chat, err := store.CreateChat(ctx, []string{bob.ID()}, "Pair", nil)
	if err != nil {
		t.Fatal(err)
	}
	if chat.Name != "Pair" {
		t.Errorf("chat name = %q", chat.Name)
	}
	if chat.IsGroup {
		t.Error("single extra participant should not make a group")
	}

	parts, _ := backend.Select(ctx, "chat_participants", gateway.Query{Filter: gateway.Eq("chat_id", chat.ID)})
	if len(parts) != 2 {
		t.Errorf("got %d participants, want creator plus bob", len(parts))
	}

	if active := store.ActiveChat(); active == nil || active.ID != chat.ID {
		t.Errorf("ActiveChat = %+v, want the created chat selected", active)
	}
	if len(store.Chats().Items) != 1 {
		t.Errorf("chats = %+v, want the created chat listed", store.Chats().Items)
	}
}

func TestCreateChatFailureLeavesNothing(t *testing.T) {
	store, backend, _ := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, backend, "alice")
	backend.SetSessionUser(alice.ID())
	if err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := store.CreateChat(ctx, []string{"no-such-user"}, "Broken", nil)
	if err == nil {
		t.Fatal("create with unknown participant should fail")
	}

	if len(store.Chats().Items) != 0 {
		t.Errorf("chats = %+v, want none after failed create", store.Chats().Items)
	}
	if store.ActiveChat() != nil {
		t.Error("no chat should be selected after failed create")
	}
	rows, _ := backend.Select(ctx, "chats", gateway.Query{})
	if len(rows) != 0 {
		t.Errorf("found %d chat rows after failed create, want 0", len(rows))
	}
}

func TestCreateChatRequiresSession(t *testing.T) {
	store, _, _ := newTestStore(t)
	if _, err := store.CreateChat(context.Background(), nil, "x", nil); !errors.Is(err, gateway.ErrNotAuthenticated) {
		t.Errorf("CreateChat without session = %v, want ErrNotAuthenticated", err)
	}
}
