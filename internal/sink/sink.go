package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// TextSink is the visible console surface a session writes into.
// A sink receives from at most one session at a time.
type TextSink interface {
	Append(text string)
	Clear()
}

// Reporter is implemented by sinks that render failures apart from
// ordinary output.
type Reporter interface {
	Report(err error)
}

// Fail surfaces err on s. Sinks without a Reporter get the error as a
// bracketed plain-text line so a failure is never silent.
func Fail(s TextSink, err error) {
	if s == nil || err == nil {
		return
	}
	if r, ok := s.(Reporter); ok {
		r.Report(err)
		return
	}
	s.Append("\n[" + err.Error() + "]\n")
}

// Writer forwards appended text to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (s *Writer) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, text)
}

// Clear cannot erase a stream, so it only marks the boundary.
func (s *Writer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, "\n")
}

// Recorder keeps every call it receives. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	appends []string
	errs    []error
	clears  int
}

func (r *Recorder) Append(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends = append(r.appends, text)
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.appends = nil
}

func (r *Recorder) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Appends returns the texts appended since the last Clear.
func (r *Recorder) Appends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.appends...)
}

func (r *Recorder) Clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.appends, "")
}

func (r *Recorder) String() string {
	return fmt.Sprintf("Recorder{appends: %d, clears: %d, errors: %d}", len(r.Appends()), r.Clears(), len(r.Errors()))
}
