package transport

// Keyboard is an adapter-neutral inline keyboard.
// Each button carries either callback Data or a URL.
type Keyboard struct {
	Rows [][]Button
}

type Button struct {
	Text string
	Data string
	URL  string
}

// Row is a helper for building keyboards inline.
func Row(buttons ...Button) []Button { return buttons }

// NewKeyboard builds a keyboard from rows, skipping empty ones.
func NewKeyboard(rows ...[]Button) *Keyboard {
	kb := &Keyboard{}
	for _, r := range rows {
		if len(r) > 0 {
			kb.Rows = append(kb.Rows, r)
		}
	}
	return kb
}
