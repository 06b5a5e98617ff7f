package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/gmfranca/zapboard/internal/model"
	"github.com/gmfranca/zapboard/internal/view"
)

// ChatList is the left-hand chat table.
type ChatList struct {
	*tview.Table
	chats      []model.Chat
	selectedFn func() (int, int)
}

// NewChatList creates the chat list table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Chats ")

	cl := &ChatList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the chat list with new data.
func (cl *ChatList) Update(chats []model.Chat) {
	cl.chats = chats
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	now := time.Now()
	for i, chat := range chats {
		row := i + 1
		name := chat.Name
		if name == "" && chat.Phone != "" {
			name = chat.Phone
		}
		if chat.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, chat.UnreadCount)
		}
		if len(chat.Tags) > 0 {
			name += " " + tagBadges(chat.Tags)
		}

		preview := ""
		ts := chat.UpdatedAt
		if chat.LastMessage != nil {
			preview = chat.LastMessage.Content
			if !chat.LastMessage.CreatedAt.IsZero() {
				ts = chat.LastMessage.CreatedAt
			}
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+preview).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+view.FormatTimestamp(ts, now)).SetMaxWidth(12))
	}
}

// SelectedChat returns the currently highlighted chat, or nil.
func (cl *ChatList) SelectedChat() *model.Chat {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.chats) {
		return &cl.chats[idx]
	}
	return nil
}

func tagBadges(tags []model.Tag) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = "[" + t.Name + "]"
	}
	return strings.Join(names, "")
}
