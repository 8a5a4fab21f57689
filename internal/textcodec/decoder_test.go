package textcodec

import (
	"errors"
	"testing"
)

func TestDecodeSplitMultibyteSequence(t *testing.T) {
	d, err := New("utf-8")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	euro := []byte("€") // e2 82 ac
	got, err := d.Decode(append([]byte("price "), euro[:2]...))
	if err != nil {
		t.Fatalf("first Decode error = %v", err)
	}
	if got != "price " {
		t.Fatalf("first Decode = %q, want %q", got, "price ")
	}

	got, err = d.Decode(append(euro[2:], '5'))
	if err != nil {
		t.Fatalf("second Decode error = %v", err)
	}
	if got != "€5" {
		t.Fatalf("second Decode = %q, want %q", got, "€5")
	}
}

func TestDecodeInvalidByteIsReportedNotFatal(t *testing.T) {
	d, err := New("utf-8")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := d.Decode([]byte{'o', 'k', 0xff, '!'})
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if decErr.Offset != 2 || decErr.Byte != 0xff {
		t.Fatalf("DecodeError = %+v, want offset 2 byte 0xff", decErr)
	}
	if got != "ok�!" {
		t.Fatalf("text = %q, want replacement marker", got)
	}

	got, err = d.Decode([]byte("next"))
	if err != nil || got != "next" {
		t.Fatalf("decoder did not recover: %q, %v", got, err)
	}
}

func TestFlushTruncatedSequence(t *testing.T) {
	d, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Name() != "utf-8" {
		t.Fatalf("default encoding = %q, want utf-8", d.Name())
	}

	if got, err := d.Decode([]byte{'a', 0xe2, 0x82}); err != nil || got != "a" {
		t.Fatalf("Decode = %q, %v", got, err)
	}

	got, err := d.Flush()
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Flush error = %v, want *DecodeError", err)
	}
	if got == "" {
		t.Fatal("Flush returned no replacement text")
	}

	if got, err := d.Flush(); got != "" || err != nil {
		t.Fatalf("second Flush = %q, %v", got, err)
	}
}

func TestDecodeLatin1(t *testing.T) {
	d, err := New("latin1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := d.Decode([]byte{'c', 'a', 'f', 0xe9})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "café" {
		t.Fatalf("Decode = %q, want café", got)
	}
}

func TestNewUnknownEncoding(t *testing.T) {
	if _, err := New("no-such-encoding"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestDecodeInvalidShiftJIS(t *testing.T) {
	d, err := New("shift_jis")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 0x81 opens a two-byte sequence but '1' cannot trail it.
	got, err := d.Decode([]byte{'a', 0x81, '1'})
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if decErr.Encoding != "shift_jis" || decErr.Offset != 1 || decErr.Byte != 0x81 {
		t.Fatalf("DecodeError = %+v, want shift_jis offset 1 byte 0x81", decErr)
	}
	if got != "a�1" {
		t.Fatalf("text = %q, want replacement marker", got)
	}

	// 0x82 0xa0 is HIRAGANA LETTER A.
	got, err = d.Decode([]byte{0x82, 0xa0})
	if err != nil || got != "あ" {
		t.Fatalf("valid Decode = %q, %v", got, err)
	}
}

func TestFlushTruncatedShiftJIS(t *testing.T) {
	d, err := New("shift_jis")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, err := d.Decode([]byte{'x', 0x82}); err != nil || got != "x" {
		t.Fatalf("Decode = %q, %v", got, err)
	}

	_, err = d.Flush()
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Flush error = %v, want *DecodeError", err)
	}
	if decErr.Offset != 0 || decErr.Byte != 0x82 {
		t.Fatalf("DecodeError = %+v, want offset 0 byte 0x82", decErr)
	}
}
