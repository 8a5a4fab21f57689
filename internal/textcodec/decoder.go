// Package textcodec decodes byte streams in a fixed text encoding.
//
// Transports hand over arbitrary chunks, so a multi-byte sequence may be
// split across reads. The Decoder carries the incomplete tail to the next
// call instead of reporting it as malformed.
package textcodec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when no encoding name is configured.
const DefaultEncoding = "utf-8"

// DecodeError reports bytes that are not valid in the decoder's encoding.
// The text returned alongside it has the bad bytes replaced with U+FFFD.
type DecodeError struct {
	Encoding string
	Offset   int
	Byte     byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s byte 0x%02x at offset %d", e.Encoding, e.Byte, e.Offset)
}

// Decoder is not safe for concurrent use; each stream owns one.
type Decoder struct {
	name    string
	utf8    bool
	enc     encoding.Encoding
	tr      transform.Transformer
	pending []byte
}

// New returns a Decoder for an encoding label such as "utf-8" or "latin1".
func New(name string) (*Decoder, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultEncoding
	}
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(name)
	}
	return &Decoder{
		name: canonical,
		utf8: canonical == "utf-8",
		enc:  enc,
		tr:   enc.NewDecoder(),
	}, nil
}

// Lookup resolves an encoding label.
func Lookup(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	return enc, nil
}

// Name returns the canonical encoding name.
func (d *Decoder) Name() string { return d.name }

// Decode converts p, holding back an incomplete trailing sequence.
// A non-nil *DecodeError still comes with usable text.
func (d *Decoder) Decode(p []byte) (string, error) {
	return d.run(p, false)
}

// Flush decodes whatever is held back at end of stream.
func (d *Decoder) Flush() (string, error) {
	if len(d.pending) == 0 {
		return "", nil
	}
	return d.run(nil, true)
}

func (d *Decoder) run(p []byte, atEOF bool) (string, error) {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}
	if len(src) == 0 {
		return "", nil
	}

	var (
		out      []byte
		consumed int
		dst      = make([]byte, 4*len(src)+utf8.UTFMax)
	)
	for {
		nDst, nSrc, err := d.tr.Transform(dst, src[consumed:], atEOF)
		out = append(out, dst[:nDst]...)
		consumed += nSrc

		if errors.Is(err, transform.ErrShortDst) {
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
			continue
		}
		if errors.Is(err, transform.ErrShortSrc) {
			d.pending = append([]byte(nil), src[consumed:]...)
			break
		}
		if err != nil {
			return string(out), fmt.Errorf("decode %s: %w", d.name, err)
		}
		break
	}

	return string(out), d.validate(src[:consumed], out)
}

func (d *Decoder) validate(b, out []byte) error {
	if !d.utf8 {
		return d.validateDecoded(b, out)
	}
	if utf8.Valid(b) {
		return nil
	}
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return &DecodeError{Encoding: d.name, Offset: i, Byte: b[i]}
		}
		i += size
	}
	return nil
}

// validateDecoded finds the first source byte that the transformer turned
// into U+FFFD. An encoding that can represent U+FFFD itself is reported
// as malformed when the input carries that character.
func (d *Decoder) validateDecoded(b, out []byte) error {
	if !bytes.ContainsRune(out, utf8.RuneError) {
		return nil
	}
	dst := make([]byte, 4*len(b)+utf8.UTFMax)
	// A bad lead byte may only be replaced once the byte after it is seen,
	// so the offending sequence starts where the previous prefix stopped.
	start := 0
	for n := 1; n <= len(b); n++ {
		nDst, nSrc, _ := d.enc.NewDecoder().Transform(dst, b[:n], false)
		if bytes.ContainsRune(dst[:nDst], utf8.RuneError) {
			return &DecodeError{Encoding: d.name, Offset: start, Byte: b[start]}
		}
		start = nSrc
	}
	if start >= len(b) {
		return nil
	}
	return &DecodeError{Encoding: d.name, Offset: start, Byte: b[start]}
}
