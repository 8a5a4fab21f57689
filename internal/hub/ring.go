package hub

import (
	"strings"
	"unicode/utf8"
)

const defaultScrollback = 64 * 1024

// ringBuf keeps the last max bytes of a pane's text.
type ringBuf struct {
	max  int
	text strings.Builder
}

func newRingBuf(max int) *ringBuf {
	if max <= 0 {
		max = defaultScrollback
	}
	return &ringBuf{max: max}
}

func (r *ringBuf) write(s string) {
	r.text.WriteString(s)
	if r.text.Len() <= r.max {
		return
	}
	cur := r.text.String()
	cut := len(cur) - r.max
	for cut < len(cur) && !utf8.RuneStart(cur[cut]) {
		cut++
	}
	r.text.Reset()
	r.text.WriteString(cur[cut:])
}

func (r *ringBuf) reset() {
	r.text.Reset()
}

func (r *ringBuf) String() string {
	return r.text.String()
}
