package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// SearchInput is the live chat filter field.
type SearchInput struct {
	*tview.InputField
	onChange func(term string)
	onDone   func()
}

// NewSearchInput creates the search field.
func NewSearchInput() *SearchInput {
	input := tview.NewInputField().
		SetLabel(" / ").
		SetFieldWidth(0)

	s := &SearchInput{InputField: input}

	// Live filtering: every keystroke narrows the list.
	input.SetChangedFunc(func(text string) {
		if s.onChange != nil {
			s.onChange(text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			s.SetText("")
			if s.onChange != nil {
				s.onChange("")
			}
		}
		if s.onDone != nil {
			s.onDone()
		}
	})

	return s
}

// SetOnChange sets the callback for every term change.
func (s *SearchInput) SetOnChange(fn func(term string)) {
	s.onChange = fn
}

// SetOnDone sets the callback when the field is left.
func (s *SearchInput) SetOnDone(fn func()) {
	s.onDone = fn
}
