package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/gmfranca/zapboard/internal/fetch"
	"github.com/gmfranca/zapboard/internal/model"
)

// MessageView displays the active chat's thread.
type MessageView struct {
	*tview.TextView
	viewerID string
}

// NewMessageView creates the thread view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetViewer sets the user id whose messages render as "You".
func (mv *MessageView) SetViewer(id string) {
	mv.viewerID = id
}

// SetChatName updates the title with the chat name.
func (mv *MessageView) SetChatName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the thread with the current collection result.
func (mv *MessageView) Update(msgs fetch.Result[model.Message]) {
	mv.Clear()

	switch msgs.Status {
	case fetch.Loading:
		_, _ = fmt.Fprint(mv, "[::d]Loading...[-:-:-]")
		return
	case fetch.Failed:
		_, _ = fmt.Fprintf(mv, "[red]Load failed: %v[-]\nPress r to retry.", msgs.Err)
		return
	}

	for _, m := range msgs.Items {
		sender := m.SenderName
		if m.SenderID == mv.viewerID {
			sender = "You"
		}
		ts := m.CreatedAt.Local().Format("15:04")
		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n", sender, ts, m.Content)
	}

	mv.ScrollToEnd()
}
