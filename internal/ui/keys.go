// Package ui holds key bindings and terminal helpers shared by vperf's
// interactive views.
package ui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keyboard bindings of the watch view. The navigation
// bindings mirror the metric table's own keys so they show up in help.
type KeyMap struct {
	Quit key.Binding
	Help key.Binding

	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding

	NextWindow key.Binding
	PrevWindow key.Binding
	Refresh    key.Binding
	Yank       key.Binding
	Plot       key.Binding
}

func bind(help, desc string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
}

// DefaultKeyMap returns the default keyboard bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: bind("q", "quit", "q", "ctrl+c"),
		Help: bind("?", "more keys", "?", "h"),

		Up:       bind("↑/k", "previous metric", "up", "k"),
		Down:     bind("↓/j", "next metric", "down", "j"),
		PageUp:   bind("pgup", "page up", "pgup", "ctrl+u"),
		PageDown: bind("pgdn", "page down", "pgdown", "ctrl+d"),
		Home:     bind("g", "first metric", "home", "g"),
		End:      bind("G", "last metric", "end", "G"),

		NextWindow: bind("tab", "wider window", "tab", "w"),
		PrevWindow: bind("shift+tab", "narrower window", "shift+tab", "W"),
		Refresh:    bind("r", "query now", "r"),
		Yank:       bind("y", "copy report as json", "y"),
		Plot:       bind("p", "charts", "p"),
	}
}

// ShortHelp is the footer line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextWindow, k.Refresh, k.Yank, k.Help, k.Quit}
}

// FullHelp groups every binding by purpose.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PageUp, k.PageDown, k.Home, k.End},
		{k.NextWindow, k.PrevWindow, k.Refresh, k.Plot},
		{k.Yank, k.Help, k.Quit},
	}
}
