package repl

import (
	"bytes"
	"testing"
)

func TestKeyBytes(t *testing.T) {
	tests := []struct {
		key  Key
		want []byte
	}{
		{Key{Code: KeyBackspace}, []byte{0x08}},
		{Key{Code: KeyUp}, []byte{0x1b, 0x5b, 0x41}},
		{Key{Code: KeyDown}, []byte{0x1b, 0x5b, 0x42}},
		{Key{Code: KeyRight}, []byte("\x1b[C")},
		{Key{Code: KeyLeft}, []byte("\x1b[D")},
		{Key{Code: KeyEnter}, []byte("\r")},
		{Key{Code: KeyTab}, []byte("\t")},
		{Key{Code: KeyEscape}, []byte{0x1b}},
		{Key{Code: KeyInterrupt}, []byte{0x03}},
		{Key{Code: KeySoftReset}, []byte{0x04}},
		{Rune("a"), []byte{0x61}},
		{Rune("é"), []byte{0xc3, 0xa9}},
	}
	for _, tt := range tests {
		if got := tt.key.Bytes(); !bytes.Equal(got, tt.want) {
			t.Errorf("%+v.Bytes() = % x, want % x", tt.key, got, tt.want)
		}
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name string
		want Key
	}{
		{"Backspace", Key{Code: KeyBackspace}},
		{"up", Key{Code: KeyUp}},
		{"DOWN", Key{Code: KeyDown}},
		{"left", Key{Code: KeyLeft}},
		{"right", Key{Code: KeyRight}},
		{"Enter", Key{Code: KeyEnter}},
		{"tab", Key{Code: KeyTab}},
		{"esc", Key{Code: KeyEscape}},
		{"C-c", Key{Code: KeyInterrupt}},
		{"C-d", Key{Code: KeySoftReset}},
		{"x", Rune("x")},
		{"print", Rune("print")},
	}
	for _, tt := range tests {
		if got := ParseKey(tt.name); got != tt.want {
			t.Errorf("ParseKey(%q) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}
