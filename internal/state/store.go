// Package state holds the dashboard's canonical in-memory state: the
// authenticated user, the chat collection, the active chat and its messages,
// the users and tags collections, and the UI search state. The store is the
// only writer of these collections; the reconciler and fetchers feed it, the
// presentation layer reads from it and is notified over the bus.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/bus"
	"github.com/gmfranca/zapboard/internal/fetch"
	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/model"
	"github.com/gmfranca/zapboard/internal/view"
)

// Selection identifies one chat selection. The epoch increments on every
// SelectChat, so results of a fetch started for an earlier selection can be
// recognized and discarded.
type Selection struct {
	ChatID string
	Epoch  uint64
}

// Store is the session state store.
type Store struct {
	gw     gateway.Gateway
	bus    *bus.Bus
	logger *zap.Logger

	mu           sync.RWMutex
	currentUser  *model.User
	chats        fetch.Result[model.Chat]
	users        fetch.Result[model.User]
	tags         fetch.Result[model.Tag]
	messages     fetch.Result[model.Message]
	activeChat   *model.Chat
	epoch        uint64
	searchTerm   string
	filteredView bool
}

// New creates an empty store.
func New(gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		gw:           gw,
		bus:          b,
		logger:       logger,
		filteredView: true,
	}
}

// Load resolves the session user and fetches the three top-level
// collections. It returns gateway.ErrNotAuthenticated when there is no
// session; per-collection fetch failures are recorded in the collection
// results, not returned.
func (s *Store) Load(ctx context.Context) error {
	row, err := s.gw.CurrentUser(ctx)
	if err != nil {
		return err
	}
	user, err := model.Decode[model.User](row)
	if err != nil {
		return fmt.Errorf("decode session user: %w", err)
	}

	s.mu.Lock()
	s.currentUser = &user
	s.mu.Unlock()
	s.bus.Publish("state.user", user)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		chats, err := fetch.Chats(ctx, s.gw, user.ID)
		s.CommitChats(chats, err)
	}()
	go func() {
		defer wg.Done()
		users, err := fetch.Users(ctx, s.gw)
		s.CommitUsers(users, err)
	}()
	go func() {
		defer wg.Done()
		tags, err := fetch.Tags(ctx, s.gw)
		s.CommitTags(tags, err)
	}()
	wg.Wait()
	return nil
}

// RefreshChats re-runs the chat fetch. This is the manual retry path after a
// Failed result.
func (s *Store) RefreshChats(ctx context.Context) {
	s.mu.RLock()
	user := s.currentUser
	s.mu.RUnlock()
	if user == nil {
		return
	}
	chats, err := fetch.Chats(ctx, s.gw, user.ID)
	s.CommitChats(chats, err)
}

// CurrentUser returns the authenticated user, or nil.
func (s *Store) CurrentUser() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

// Chats returns the chat collection result.
func (s *Store) Chats() fetch.Result[model.Chat] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats
}

// Users returns the user collection result.
func (s *Store) Users() fetch.Result[model.User] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users
}

// Tags returns the tag collection result.
func (s *Store) Tags() fetch.Result[model.Tag] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags
}

// Messages returns the active chat's message collection result.
func (s *Store) Messages() fetch.Result[model.Message] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

// ActiveChat returns the selected chat, or nil.
func (s *Store) ActiveChat() *model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChat
}

// ActiveSelection returns the current selection and its epoch.
func (s *Store) ActiveSelection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel := Selection{Epoch: s.epoch}
	if s.activeChat != nil {
		sel.ChatID = s.activeChat.ID
	}
	return sel
}

// SearchTerm returns the current search term.
func (s *Store) SearchTerm() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchTerm
}

// SetSearchTerm updates the search term.
func (s *Store) SetSearchTerm(term string) {
	s.mu.Lock()
	s.searchTerm = term
	s.mu.Unlock()
	s.bus.Publish("state.search", term)
}

// FilteredView returns whether the filtered chat list is shown.
func (s *Store) FilteredView() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filteredView
}

// SetFilteredView toggles the filtered chat list.
func (s *Store) SetFilteredView(filtered bool) {
	s.mu.Lock()
	s.filteredView = filtered
	s.mu.Unlock()
	s.bus.Publish("state.search", s.SearchTerm())
}

// VisibleChats derives the display chat list: sorted by latest activity,
// filtered by the search term.
func (s *Store) VisibleChats() []model.Chat {
	s.mu.RLock()
	items := s.chats.Items
	term := s.searchTerm
	s.mu.RUnlock()
	return view.FilterChats(view.SortChats(items), term)
}

// SelectChat makes chat the active chat (nil deselects). The previous chat's
// messages are cleared immediately so they are never rendered under the new
// chat's header; the message fetch and feed subscription for the new chat
// are driven by the reconciler, which watches state.active_chat.
func (s *Store) SelectChat(chat *model.Chat) {
	s.mu.Lock()
	if chat != nil {
		copied := *chat
		s.activeChat = &copied
		s.messages = fetch.Result[model.Message]{}
	} else {
		s.activeChat = nil
		s.messages = fetch.Done[model.Message](nil)
	}
	s.epoch++
	sel := Selection{Epoch: s.epoch}
	if chat != nil {
		sel.ChatID = chat.ID
	}
	s.mu.Unlock()

	s.bus.Publish("state.messages", nil)
	s.bus.Publish("state.active_chat", sel)
}

// CommitMessages records a message fetch outcome for the given selection.
// Results for a selection that is no longer current are discarded silently:
// they belong to a chat the user has already navigated away from.
func (s *Store) CommitMessages(sel Selection, msgs []model.Message, err error) {
	s.mu.Lock()
	if sel.Epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding stale message fetch",
			zap.String("chat_id", sel.ChatID),
			zap.Uint64("epoch", sel.Epoch))
		return
	}
	if err != nil {
		s.messages = fetch.Fail[model.Message](err)
	} else {
		s.messages = fetch.Done(msgs)
	}
	s.mu.Unlock()
	s.bus.Publish("state.messages", nil)
}

// CommitChats records a chat fetch outcome.
func (s *Store) CommitChats(chats []model.Chat, err error) {
	s.mu.Lock()
	if err != nil {
		s.chats = fetch.Fail[model.Chat](err)
	} else {
		s.chats = fetch.Done(view.SortChats(chats))
	}
	s.mu.Unlock()
	s.bus.Publish("state.chats", nil)
}

// CommitUsers records a user fetch outcome.
func (s *Store) CommitUsers(users []model.User, err error) {
	s.mu.Lock()
	if err != nil {
		s.users = fetch.Fail[model.User](err)
	} else {
		s.users = fetch.Done(users)
	}
	s.mu.Unlock()
	s.bus.Publish("state.users", nil)
}

// CommitTags records a tag fetch outcome.
func (s *Store) CommitTags(tags []model.Tag, err error) {
	s.mu.Lock()
	if err != nil {
		s.tags = fetch.Fail[model.Tag](err)
	} else {
		s.tags = fetch.Done(tags)
	}
	s.mu.Unlock()
	s.bus.Publish("state.tags", nil)
}

// UpsertChatFromFeed inserts or replaces a chat by id and re-sorts the
// collection. When the incoming chat carries no enrichment, derived fields
// of an existing entry are preserved. Duplicate INSERT deliveries collapse
// into a replace, keeping the merge idempotent.
func (s *Store) UpsertChatFromFeed(chat model.Chat) {
	s.mu.Lock()
	items := s.chats.Items
	replaced := false
	for i := range items {
		if items[i].ID == chat.ID {
			if chat.LastMessage == nil {
				chat.LastMessage = items[i].LastMessage
			}
			if chat.Tags == nil {
				chat.Tags = items[i].Tags
			}
			if chat.UnreadCount == 0 {
				chat.UnreadCount = items[i].UnreadCount
			}
			items[i] = chat
			replaced = true
			break
		}
	}
	if !replaced {
		items = append([]model.Chat{chat}, items...)
	}
	s.chats.Items = view.SortChats(items)
	s.chats.Status = fetch.Ready
	s.mu.Unlock()
	s.bus.Publish("state.chats", nil)
}

// PatchChatFromFeed merges a partial chat row by id. An unknown id means the
// event raced ahead of the initial fetch, so the entry is established from
// the patch. The collection is re-sorted afterwards: feed delivery order does
// not track updated_at order.
func (s *Store) PatchChatFromFeed(id string, patch gateway.Row) {
	s.mu.Lock()
	items := s.chats.Items
	found := false
	for i := range items {
		if items[i].ID == id {
			model.ApplyChatPatch(&items[i], patch)
			found = true
			break
		}
	}
	if !found {
		chat := model.Chat{ID: id}
		model.ApplyChatPatch(&chat, patch)
		items = append(items, chat)
	}
	s.chats.Items = view.SortChats(items)
	s.chats.Status = fetch.Ready
	active := s.activeChat
	if active != nil && active.ID == id {
		model.ApplyChatPatch(active, patch)
	}
	s.mu.Unlock()
	s.bus.Publish("state.chats", nil)
}

// RemoveChatFromFeed drops a chat by id. Deselects it first if active.
func (s *Store) RemoveChatFromFeed(id string) {
	s.mu.RLock()
	wasActive := s.activeChat != nil && s.activeChat.ID == id
	s.mu.RUnlock()
	if wasActive {
		s.SelectChat(nil)
	}

	s.mu.Lock()
	items := s.chats.Items
	for i := range items {
		if items[i].ID == id {
			s.chats.Items = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.bus.Publish("state.chats", nil)
}

// TouchChatFromMessage bumps a chat's activity after a message: updated_at,
// the derived last message preview, and the sort position.
func (s *Store) TouchChatFromMessage(chatID, content string, at time.Time) {
	s.mu.Lock()
	items := s.chats.Items
	for i := range items {
		if items[i].ID != chatID {
			continue
		}
		items[i].UpdatedAt = at
		if items[i].LastMessage == nil {
			items[i].LastMessage = &model.Message{ChatID: chatID}
		}
		items[i].LastMessage.Content = content
		items[i].LastMessage.CreatedAt = at
		break
	}
	s.chats.Items = view.SortChats(items)
	s.mu.Unlock()
	s.bus.Publish("state.chats", nil)
}

// SendMessage inserts a message from the current user into the active chat,
// then touches the parent chat so the list reorders without waiting for the
// feed round trip. With no active chat or no session it does nothing. A
// failed chat touch after a successful insert is logged and accepted: the
// list order catches up on the next feed event or refresh.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	s.mu.RLock()
	user := s.currentUser
	chat := s.activeChat
	s.mu.RUnlock()
	if user == nil || chat == nil {
		return nil
	}

	_, err := s.gw.Insert(ctx, "messages", gateway.Row{
		"chat_id":   chat.ID,
		"sender_id": user.ID,
		"content":   content,
		"sent_by":   user.Email,
		"is_read":   false,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.gw.Update(ctx, "chats", gateway.Eq("id", chat.ID), gateway.Row{
		"updated_at":   now.Format(time.RFC3339Nano),
		"last_message": content,
	})
	if err != nil {
		s.logger.Warn("chat touch failed after send; list order will catch up on next event",
			zap.String("chat_id", chat.ID), zap.Error(err))
	}

	s.TouchChatFromMessage(chat.ID, content, now)
	return nil
}

// CreateChat creates a chat with its participants and tags through the
// backend's atomic procedure, then selects it. The current user is always
// included as a participant. Any failure aborts the whole creation.
func (s *Store) CreateChat(ctx context.Context, participantIDs []string, name string, tagIDs []string) (*model.Chat, error) {
	s.mu.RLock()
	user := s.currentUser
	s.mu.RUnlock()
	if user == nil {
		return nil, gateway.ErrNotAuthenticated
	}

	row, err := s.gw.Call(ctx, "create_chat_with_participants", map[string]any{
		"chat_name":       name,
		"participant_ids": append(append([]string{}, participantIDs...), user.ID),
		"tag_ids":         tagIDs,
		"is_group":        len(participantIDs) > 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	chat, err := model.Decode[model.Chat](row)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.UpsertChatFromFeed(chat)
	s.SelectChat(&chat)
	return &chat, nil
}
