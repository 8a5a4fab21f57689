package sink

import (
	"errors"
	"strings"
	"testing"
)

type plainSink struct {
	text strings.Builder
}

func (p *plainSink) Append(text string) { p.text.WriteString(text) }
func (p *plainSink) Clear()             { p.text.Reset() }

func TestFailUsesReporterWhenAvailable(t *testing.T) {
	rec := &Recorder{}
	Fail(rec, errors.New("boom"))

	if len(rec.Appends()) != 0 {
		t.Fatalf("appends = %v, want none", rec.Appends())
	}
	errs := rec.Errors()
	if len(errs) != 1 || errs[0].Error() != "boom" {
		t.Fatalf("errors = %v, want [boom]", errs)
	}
}

func TestFailRendersPlainText(t *testing.T) {
	p := &plainSink{}
	Fail(p, errors.New("device lost"))

	if got := p.text.String(); got != "\n[device lost]\n" {
		t.Fatalf("text = %q", got)
	}
}

func TestFailIgnoresNil(t *testing.T) {
	p := &plainSink{}
	Fail(p, nil)
	Fail(nil, errors.New("x"))
	if p.text.Len() != 0 {
		t.Fatalf("unexpected text %q", p.text.String())
	}
}

func TestRecorderClearResetsAppends(t *testing.T) {
	rec := &Recorder{}
	rec.Append("a")
	rec.Append("b")
	rec.Clear()
	rec.Append("c")

	if rec.Clears() != 1 {
		t.Fatalf("clears = %d, want 1", rec.Clears())
	}
	if rec.Text() != "c" {
		t.Fatalf("text = %q, want c", rec.Text())
	}
}

func TestWriterAppends(t *testing.T) {
	var b strings.Builder
	w := NewWriter(&b)
	w.Append("hello ")
	w.Append("world")
	if b.String() != "hello world" {
		t.Fatalf("got %q", b.String())
	}
}
