// Package fetch loads the dashboard's collections from the gateway. Each
// fetcher performs one logical load and returns the items or an error;
// callers hold the tri-state Result.
package fetch

import (
	"context"
	"fmt"

	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/model"
)

// unknownSender is the display name used when a message's sender row is
// missing from the users collection.
const unknownSender = "Unknown"

// Chats loads every chat the user participates in, newest activity first,
// enriched with tags, the most recent message and the unread count. An empty
// participant set is an empty ready collection, not an error.
func Chats(ctx context.Context, gw gateway.Gateway, userID string) ([]model.Chat, error) {
	parts, err := gw.Select(ctx, "chat_participants", gateway.Query{Filter: gateway.Eq("user_id", userID)})
	if err != nil {
		return nil, fmt.Errorf("participant lookup: %w", err)
	}
	if len(parts) == 0 {
		return []model.Chat{}, nil
	}

	chatIDs := make([]string, 0, len(parts))
	for _, p := range parts {
		chatIDs = append(chatIDs, p.String("chat_id"))
	}

	rows, err := gw.Select(ctx, "chats", gateway.Query{
		Filter:     gateway.Filter{{Column: "id", Op: gateway.OpIn, Value: chatIDs}},
		OrderBy:    "updated_at",
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat lookup: %w", err)
	}

	users, err := usersByID(ctx, gw)
	if err != nil {
		return nil, err
	}
	tags, err := tagsByID(ctx, gw)
	if err != nil {
		return nil, err
	}

	chats := make([]model.Chat, 0, len(rows))
	for _, row := range rows {
		chat, err := model.Decode[model.Chat](row)
		if err != nil {
			return nil, err
		}
		if err := enrichChat(ctx, gw, &chat, userID, users, tags); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// ChatByID loads a single chat with the same enrichment as Chats.
func ChatByID(ctx context.Context, gw gateway.Gateway, chatID, viewerID string) (*model.Chat, error) {
	rows, err := gw.Select(ctx, "chats", gateway.Query{Filter: gateway.Eq("id", chatID)})
	if err != nil {
		return nil, fmt.Errorf("chat lookup: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("chat %q not found", chatID)
	}
	chat, err := model.Decode[model.Chat](rows[0])
	if err != nil {
		return nil, err
	}
	users, err := usersByID(ctx, gw)
	if err != nil {
		return nil, err
	}
	tags, err := tagsByID(ctx, gw)
	if err != nil {
		return nil, err
	}
	if err := enrichChat(ctx, gw, &chat, viewerID, users, tags); err != nil {
		return nil, err
	}
	return &chat, nil
}

// Messages loads a chat's messages oldest first, each with the sender's
// display name. An empty chat id resolves to an absent collection without
// touching the gateway.
func Messages(ctx context.Context, gw gateway.Gateway, chatID string) ([]model.Message, error) {
	if chatID == "" {
		return nil, nil
	}

	rows, err := gw.Select(ctx, "messages", gateway.Query{
		Filter:  gateway.Eq("chat_id", chatID),
		OrderBy: "created_at",
	})
	if err != nil {
		return nil, fmt.Errorf("message lookup: %w", err)
	}

	users, err := usersByID(ctx, gw)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := model.Decode[model.Message](row)
		if err != nil {
			return nil, err
		}
		msg.SenderName = senderName(users, msg.SenderID)
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Users loads all users, newest first.
func Users(ctx context.Context, gw gateway.Gateway) ([]model.User, error) {
	rows, err := gw.Select(ctx, "users", gateway.Query{OrderBy: "created_at", Descending: true})
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		u, err := model.Decode[model.User](row)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// Tags loads all tags.
func Tags(ctx context.Context, gw gateway.Gateway) ([]model.Tag, error) {
	rows, err := gw.Select(ctx, "tags", gateway.Query{})
	if err != nil {
		return nil, fmt.Errorf("tag lookup: %w", err)
	}
	tags := make([]model.Tag, 0, len(rows))
	for _, row := range rows {
		t, err := model.Decode[model.Tag](row)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, nil
}

func enrichChat(ctx context.Context, gw gateway.Gateway, chat *model.Chat, viewerID string, users map[string]model.User, tags map[string]model.Tag) error {
	links, err := gw.Select(ctx, "chat_tags", gateway.Query{Filter: gateway.Eq("chat_id", chat.ID)})
	if err != nil {
		return fmt.Errorf("chat tag lookup: %w", err)
	}
	for _, link := range links {
		if tag, ok := tags[link.String("tag_id")]; ok {
			chat.Tags = append(chat.Tags, tag)
		}
	}

	last, err := gw.Select(ctx, "messages", gateway.Query{
		Filter:     gateway.Eq("chat_id", chat.ID),
		OrderBy:    "created_at",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return fmt.Errorf("last message lookup: %w", err)
	}
	if len(last) > 0 {
		msg, err := model.Decode[model.Message](last[0])
		if err != nil {
			return err
		}
		msg.SenderName = senderName(users, msg.SenderID)
		chat.LastMessage = &msg
	}

	unread, err := gw.Select(ctx, "messages", gateway.Query{
		Filter: gateway.Eq("chat_id", chat.ID).
			And("is_read", gateway.OpEq, false).
			And("sender_id", gateway.OpNeq, viewerID),
	})
	if err != nil {
		return fmt.Errorf("unread lookup: %w", err)
	}
	chat.UnreadCount = len(unread)

	return nil
}

func usersByID(ctx context.Context, gw gateway.Gateway) (map[string]model.User, error) {
	rows, err := gw.Select(ctx, "users", gateway.Query{})
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	users := make(map[string]model.User, len(rows))
	for _, row := range rows {
		u, err := model.Decode[model.User](row)
		if err != nil {
			return nil, err
		}
		users[u.ID] = u
	}
	return users, nil
}

func tagsByID(ctx context.Context, gw gateway.Gateway) (map[string]model.Tag, error) {
	rows, err := gw.Select(ctx, "tags", gateway.Query{})
	if err != nil {
		return nil, fmt.Errorf("tag lookup: %w", err)
	}
	tags := make(map[string]model.Tag, len(rows))
	for _, row := range rows {
		t, err := model.Decode[model.Tag](row)
		if err != nil {
			return nil, err
		}
		tags[t.ID] = t
	}
	return tags, nil
}

func senderName(users map[string]model.User, senderID string) string {
	if u, ok := users[senderID]; ok && u.Name != "" {
		return u.Name
	}
	return unknownSender
}
