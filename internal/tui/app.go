// Package tui renders the dashboard: the chat list with live search on the
// left, the active thread and composer on the right, a status bar below. All
// state lives in the store; the shell redraws on bus notifications and never
// mutates collections itself.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/bus"
	"github.com/gmfranca/zapboard/internal/state"
	"github.com/gmfranca/zapboard/internal/status"
	"github.com/gmfranca/zapboard/internal/tui/views"
)

// App is the TUI application shell.
type App struct {
	app    *tview.Application
	store  *state.Store
	bus    *bus.Bus
	logger *zap.Logger

	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	search    *views.SearchInput
	statusBar *views.StatusBar

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(store *state.Store, b *bus.Bus, sessionName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		store:     store,
		bus:       b,
		logger:    logger,
		chatList:  views.NewChatList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		search:    views.NewSearchInput(),
		statusBar: views.NewStatusBar(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if chat := a.chatList.SelectedChat(); chat != nil {
			a.store.SelectChat(chat)
			a.msgView.SetChatName(chat.Name)
			a.app.SetFocus(a.composer.InputField)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.store.SendMessage(a.ctx, text); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.flashFor("Send failed: "+err.Error(), 5*time.Second)
				})
			}
		}()
	})

	a.search.SetOnChange(func(term string) {
		a.store.SetSearchTerm(term)
	})
	a.search.SetOnDone(func() {
		a.app.SetFocus(a.chatList)
	})
}

func (a *App) setupLayout() {
	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.search, 1, 0, false).
		AddItem(a.chatList, 0, 1, true)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	main := tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Text inputs handle their own keys.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		switch {
		case event.Key() == tcell.KeyEscape:
			a.store.SelectChat(nil)
			a.msgView.SetChatName("Messages")
			a.app.SetFocus(a.chatList)
			return nil
		case event.Key() == tcell.KeyRune && event.Rune() == 'q':
			a.Stop()
			return nil
		case event.Key() == tcell.KeyRune && event.Rune() == '/':
			a.app.SetFocus(a.search.InputField)
			return nil
		case event.Key() == tcell.KeyRune && event.Rune() == 'i':
			if a.store.ActiveChat() != nil {
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
		case event.Key() == tcell.KeyRune && event.Rune() == 'r':
			go a.store.RefreshChats(a.ctx)
			return nil
		}
		return event
	})
}

// Run starts the TUI and blocks until it stops.
func (a *App) Run() error {
	go a.watchBus()

	a.app.QueueUpdateDraw(func() {
		a.refreshChats()
		a.refreshUser()
	})

	return a.app.Run()
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// watchBus redraws on store and session notifications. Events carry no
// collection data; the redraw reads the store.
func (a *App) watchBus() {
	stateCh, unsubState := a.bus.Subscribe("state.", 256)
	defer unsubState()
	sessCh, unsubSess := a.bus.Subscribe("session.", 16)
	defer unsubSess()

	for {
		select {
		case evt := <-stateCh:
			switch evt.Topic {
			case "state.chats", "state.search":
				a.app.QueueUpdateDraw(a.refreshChats)
			case "state.messages", "state.active_chat":
				a.app.QueueUpdateDraw(a.refreshMessages)
			case "state.user":
				a.app.QueueUpdateDraw(a.refreshUser)
			}
		case evt := <-sessCh:
			if change, ok := evt.Payload.(status.Change); ok {
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetStatus(string(change.To))
				})
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) refreshChats() {
	a.chatList.Update(a.store.VisibleChats())
	a.statusBar.SetSearch(a.store.SearchTerm())
}

func (a *App) refreshMessages() {
	a.msgView.Update(a.store.Messages())
	if chat := a.store.ActiveChat(); chat != nil {
		a.msgView.SetChatName(chat.Name)
	} else {
		a.msgView.SetChatName("Messages")
	}
}

func (a *App) refreshUser() {
	if u := a.store.CurrentUser(); u != nil {
		a.msgView.SetViewer(u.ID)
	}
}

// flashFor briefly surfaces an error then clears it.
func (a *App) flashFor(msg string, d time.Duration) {
	a.statusBar.SetFlash(msg)
	time.AfterFunc(d, func() {
		a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash("") })
	})
}
