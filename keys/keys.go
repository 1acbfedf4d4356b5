// Package keys defines the global key bindings the UI shell listens for: a
// closed KeyName enum, one key.Binding per name, and a string->KeyName
// lookup so the menu can highlight whichever binding was just pressed.
package keys

import "github.com/charmbracelet/bubbles/key"

// KeyName identifies a bound action. -1 means "no key is highlighted".
type KeyName int

const (
	KeyUp KeyName = iota
	KeyDown
	KeyNew
	KeyEnter
	KeyDetach
	KeyStop
	KeyRestart
	KeyDelete
	KeyReauth
	KeyRefresh
	KeyHelp
	KeyQuit
	// KeySubmitName is the binding shown while a text input overlay is open;
	// it maps to the same physical key as KeyEnter but carries its own help
	// text ("submit" instead of "attach").
	KeySubmitName
	// KeyBrowse is the "b browse" hint the menu shows while the new-session
	// file browser is open; no key handler acts on it.
	KeyBrowse
)

// GlobalkeyBindings is the single source of truth for each action's key(s)
// and help text.
var GlobalkeyBindings = map[KeyName]key.Binding{
	KeyUp:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	KeyDown:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	KeyNew:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new")),
	KeyEnter:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "attach")),
	KeyDetach:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "detach")),
	KeyStop:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	KeyRestart: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
	KeyDelete:  key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "delete")),
	KeyReauth:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "reauth")),
	KeyRefresh: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "refresh")),
	KeyHelp:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	KeyQuit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),

	KeySubmitName: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	KeyBrowse:     key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "browse")),
}

// GlobalKeyStringsMap maps a pressed key's string form to its KeyName, built
// once from GlobalkeyBindings so the two never drift apart.
var GlobalKeyStringsMap = func() map[string]KeyName {
	m := make(map[string]KeyName)
	for name, binding := range GlobalkeyBindings {
		if name == KeySubmitName {
			// Shares "enter" with KeyEnter; the lookup resolves "enter" to
			// KeyEnter, and KeySubmitName appears only as a menu hint.
			continue
		}
		for _, k := range binding.Keys() {
			m[k] = name
		}
	}
	return m
}()
