package repl

import "strings"

// KeyCode names the keys the REPL understands beyond plain text.
type KeyCode int

const (
	KeyRune KeyCode = iota
	KeyBackspace
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyEnter
	KeyTab
	KeyEscape
	KeyInterrupt // Ctrl-C
	KeySoftReset // Ctrl-D
)

// Key is a single key press. Text carries the typed characters for KeyRune.
type Key struct {
	Code KeyCode
	Text string
}

// Rune returns the key press for typed text.
func Rune(text string) Key {
	return Key{Code: KeyRune, Text: text}
}

// Bytes returns what the device expects on the wire for k.
func (k Key) Bytes() []byte {
	switch k.Code {
	case KeyBackspace:
		return []byte{0x08}
	case KeyUp:
		return []byte("\x1b[A")
	case KeyDown:
		return []byte("\x1b[B")
	case KeyRight:
		return []byte("\x1b[C")
	case KeyLeft:
		return []byte("\x1b[D")
	case KeyEnter:
		return []byte("\r")
	case KeyTab:
		return []byte("\t")
	case KeyEscape:
		return []byte{0x1b}
	case KeyInterrupt:
		return []byte{0x03}
	case KeySoftReset:
		return []byte{0x04}
	default:
		return []byte(k.Text)
	}
}

// ParseKey translates a key name ("up", "C-c", "Backspace") into a Key.
// Anything else is typed text.
func ParseKey(name string) Key {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "backspace":
		return Key{Code: KeyBackspace}
	case "up":
		return Key{Code: KeyUp}
	case "down":
		return Key{Code: KeyDown}
	case "left":
		return Key{Code: KeyLeft}
	case "right":
		return Key{Code: KeyRight}
	case "enter", "return":
		return Key{Code: KeyEnter}
	case "tab":
		return Key{Code: KeyTab}
	case "escape", "esc":
		return Key{Code: KeyEscape}
	case "c-c":
		return Key{Code: KeyInterrupt}
	case "c-d":
		return Key{Code: KeySoftReset}
	default:
		return Rune(name)
	}
}
