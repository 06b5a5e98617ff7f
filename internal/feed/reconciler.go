// Package feed folds backend change events into the session store. It owns
// the feed subscriptions: one long-lived chats channel and at most one
// messages channel, scoped to the active chat.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/bus"
	"github.com/gmfranca/zapboard/internal/fetch"
	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/model"
	"github.com/gmfranca/zapboard/internal/state"
)

// Reconciler applies change-feed events to the store.
type Reconciler struct {
	gw     gateway.Gateway
	store  *state.Store
	bus    *bus.Bus
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	chatSub gateway.Subscription
	msgSub  gateway.Subscription
}

// New creates a reconciler.
func New(gw gateway.Gateway, store *state.Store, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{gw: gw, store: store, bus: b, logger: logger}
}

// Start subscribes the chats channel and begins watching chat selection
// changes on the bus. Selection changes swap the single messages channel.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	chatSub, err := r.gw.Subscribe(r.ctx, "chats", nil, r.handleChatEvent)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.chatSub = chatSub
	r.mu.Unlock()

	ch, unsub := r.bus.Subscribe("state.active_chat", 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				sel, ok := evt.Payload.(state.Selection)
				if !ok {
					continue
				}
				r.swapMessageFeed(sel)
			case <-r.ctx.Done():
				r.teardown()
				return
			}
		}
	}()

	return nil
}

// Stop tears down every subscription.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// swapMessageFeed replaces the messages subscription for a new selection.
// The previous channel is unsubscribed first so two channels never deliver
// into the same message-list slot, then the fresh fetch runs.
func (r *Reconciler) swapMessageFeed(sel state.Selection) {
	r.mu.Lock()
	if r.msgSub != nil {
		r.msgSub.Unsubscribe()
		r.msgSub = nil
	}
	r.mu.Unlock()

	if sel.ChatID == "" {
		return
	}

	chatID := sel.ChatID
	sub, err := r.gw.Subscribe(r.ctx, "messages", gateway.Eq("chat_id", chatID), func(evt gateway.ChangeEvent) {
		r.handleMessageEvent(chatID, evt)
	})
	if err != nil {
		r.logger.Error("message feed subscribe failed", zap.String("chat_id", chatID), zap.Error(err))
	} else {
		r.mu.Lock()
		r.msgSub = sub
		r.mu.Unlock()
	}

	msgs, err := fetch.Messages(r.ctx, r.gw, chatID)
	r.store.CommitMessages(sel, msgs, err)
}

func (r *Reconciler) handleChatEvent(evt gateway.ChangeEvent) {
	switch evt.Type {
	case gateway.ChangeInsert:
		id := evt.New.ID()
		if id == "" {
			return
		}
		viewerID := ""
		if u := r.store.CurrentUser(); u != nil {
			viewerID = u.ID
		}
		// Best-effort enrichment: re-read the chat with its tags and last
		// message; fall back to the raw event row.
		if enriched, err := fetch.ChatByID(r.ctx, r.gw, id, viewerID); err == nil {
			r.store.UpsertChatFromFeed(*enriched)
			return
		}
		chat, err := model.Decode[model.Chat](evt.New)
		if err != nil {
			r.logger.Warn("undecodable chat insert event", zap.String("chat_id", id), zap.Error(err))
			return
		}
		r.store.UpsertChatFromFeed(chat)

	case gateway.ChangeUpdate:
		id := evt.New.ID()
		if id == "" {
			return
		}
		r.store.PatchChatFromFeed(id, evt.New)

	case gateway.ChangeDelete:
		id := evt.Old.ID()
		if id == "" {
			return
		}
		r.store.RemoveChatFromFeed(id)
	}
}

// handleMessageEvent reacts to message changes in the active chat. The event
// payload is never applied directly: sender-name enrichment and read-state
// need a join, so the whole collection is re-fetched instead. The selection
// is re-checked at delivery time; events for a chat the user has left are
// dropped.
func (r *Reconciler) handleMessageEvent(chatID string, evt gateway.ChangeEvent) {
	sel := r.store.ActiveSelection()
	if sel.ChatID != chatID {
		return
	}

	switch evt.Type {
	case gateway.ChangeInsert:
		msgs, err := fetch.Messages(r.ctx, r.gw, chatID)
		r.store.CommitMessages(sel, msgs, err)
		r.store.TouchChatFromMessage(chatID, evt.New.String("content"), eventTime(evt.New))

	case gateway.ChangeUpdate, gateway.ChangeDelete:
		msgs, err := fetch.Messages(r.ctx, r.gw, chatID)
		r.store.CommitMessages(sel, msgs, err)
	}
}

func (r *Reconciler) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgSub != nil {
		r.msgSub.Unsubscribe()
		r.msgSub = nil
	}
	if r.chatSub != nil {
		r.chatSub.Unsubscribe()
		r.chatSub = nil
	}
}

func eventTime(row gateway.Row) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, row.String("created_at")); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
