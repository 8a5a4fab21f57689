package process

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/puppy/internal/loop"
	"github.com/user/puppy/internal/sink"
	"github.com/user/puppy/internal/textcodec"
)

// waitDelay bounds how long Wait keeps draining pipes held open by
// grandchildren after the child itself has exited.
const waitDelay = 2 * time.Second

// Options configure a Session.
type Options struct {
	// Encoding of the child's standard streams. Defaults to utf-8.
	Encoding string
	// Env is merged over the inherited environment for every run.
	Env map[string]string
	// OnExit is posted to the dispatcher after every run ends, killed or not.
	OnExit func(Exit)
	Logger *slog.Logger
}

// DefaultEnv forces a Python child to write its standard streams in enc
// and without block buffering.
func DefaultEnv(enc string) map[string]string {
	if strings.TrimSpace(enc) == "" {
		enc = textcodec.DefaultEncoding
	}
	return map[string]string{
		"PYTHONIOENCODING": enc,
		"PYTHONUNBUFFERED": "1",
	}
}

// Session owns at most one child process and forwards its output to a sink.
// Stdout is delivered one complete line at a time, stderr as soon as it
// arrives.
type Session struct {
	id        string
	out       sink.TextSink
	loop      loop.Dispatcher
	encoding  string
	env       map[string]string
	onExit    func(Exit)
	logger    *slog.Logger
	createdAt time.Time

	mu    sync.Mutex
	state State
	cur   *run

	// held by a delivery from its attached check until the sink returns
	deliverMu sync.Mutex
}

type run struct {
	cmd    *exec.Cmd
	ready  chan struct{}
	lines  lineBuffer
	outDec *textcodec.Decoder
	errDec *textcodec.Decoder
	exit   Exit
}

// NewSession creates an idle session writing into out through d.
func NewSession(id string, out sink.TextSink, d loop.Dispatcher, opts Options) (*Session, error) {
	if out == nil {
		return nil, errors.New("process: sink is required")
	}
	if d == nil {
		d = loop.Inline{}
	}
	if _, err := textcodec.New(opts.Encoding); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := make(map[string]string, len(opts.Env))
	for k, v := range opts.Env {
		env[k] = v
	}
	return &Session{
		id:        id,
		out:       out,
		loop:      d,
		encoding:  opts.Encoding,
		env:       env,
		onExit:    opts.OnExit,
		logger:    logger.With("session_id", id),
		createdAt: time.Now(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a process is attached.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// PID returns the attached process id, or 0.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.cmd.Process == nil {
		return 0
	}
	return s.cur.cmd.Process.Pid
}

// Start spawns command in workDir. It returns ErrAlreadyRunning if a
// process is attached; the caller must Kill it first.
func (s *Session) Start(command string, args []string, workDir string) error {
	if strings.TrimSpace(command) == "" {
		return &SpawnError{Command: command, Err: errors.New("empty command")}
	}

	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	r, err := s.newRun(command, args, workDir)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := r.cmd.Start(); err != nil {
		close(r.ready)
		s.state = StateTerminated
		s.mu.Unlock()

		spawnErr := &SpawnError{Command: command, Err: err}
		s.logger.Warn("process spawn failed", "command", command, "error", err)
		s.loop.Post(func() { sink.Fail(s.out, spawnErr) })
		return spawnErr
	}
	r.exit.StartedAt = time.Now()
	s.cur = r
	s.state = StateRunning
	pid := r.cmd.Process.Pid
	s.mu.Unlock()

	s.logger.Info("process started", "command", command, "args", args, "dir", workDir, "pid", pid)

	// Clear is queued ahead of any output of this run.
	s.loop.Post(s.out.Clear)
	close(r.ready)

	go s.wait(r)
	return nil
}

// Kill terminates the attached process immediately. It is a no-op when
// nothing is attached. Output of the killed run is dropped from here on.
func (s *Session) Kill() error {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	s.cur = nil
	s.state = StateTerminated
	r.exit.Killed = true
	s.mu.Unlock()
	s.settle()

	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	s.logger.Info("killing process", "pid", r.cmd.Process.Pid)
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("process: kill %s: %w", s.id, err)
	}
	return nil
}

// Note appends text to the sink while no process is attached, such as a
// status line after a run ended. It reports whether text was written.
func (s *Session) Note(text string) bool {
	s.mu.Lock()
	idle := s.cur == nil
	s.mu.Unlock()
	if !idle || text == "" {
		return false
	}
	s.out.Append(text)
	return true
}

// settle waits for a delivery that passed its attached check before the
// run was detached. On the dispatcher that delivery may be the caller
// itself, and no other delivery can be running, so there is nothing to wait for.
func (s *Session) settle() {
	if s.loop.OnLoop() {
		return
	}
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

func (s *Session) newRun(command string, args []string, workDir string) (*run, error) {
	outDec, err := textcodec.New(s.encoding)
	if err != nil {
		return nil, err
	}
	errDec, err := textcodec.New(s.encoding)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = workDir
	cmd.Env = mergeEnv(os.Environ(), s.env)
	cmd.WaitDelay = waitDelay

	r := &run{
		cmd:    cmd,
		ready:  make(chan struct{}),
		outDec: outDec,
		errDec: errDec,
		exit: Exit{
			SessionID: s.id,
			Command:   command,
			Args:      append([]string(nil), args...),
			Dir:       workDir,
			Code:      -1,
		},
	}
	cmd.Stdout = &streamWriter{s: s, r: r, deliver: s.deliverStdout}
	cmd.Stderr = &streamWriter{s: s, r: r, deliver: s.deliverStderr}
	return r, nil
}

// attached reports whether r is still the session's live run.
func (s *Session) attached(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur == r
}

func (s *Session) deliverStdout(r *run, data []byte) {
	if !s.attached(r) {
		return
	}
	for _, line := range r.lines.push(data) {
		if !s.emit(r, r.outDec, line) {
			return
		}
	}
}

func (s *Session) deliverStderr(r *run, data []byte) {
	if !s.attached(r) {
		return
	}
	s.emit(r, r.errDec, data)
}

// emit decodes data and appends it. It returns false once r is detached.
func (s *Session) emit(r *run, dec *textcodec.Decoder, data []byte) bool {
	text, err := dec.Decode(data)
	return s.publish(r, text, err)
}

func (s *Session) publish(r *run, text string, err error) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.attached(r) {
		return false
	}
	if text != "" {
		s.out.Append(text)
	}
	if err != nil {
		s.logger.Warn("undecodable process output", "error", err)
		sink.Fail(s.out, err)
	}
	return true
}

func (s *Session) wait(r *run) {
	err := r.cmd.Wait()
	ended := time.Now()
	code := -1
	if r.cmd.ProcessState != nil {
		code = r.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		err = nil
	}
	s.loop.Post(func() { s.finish(r, ended, code, err) })
}

// finish runs on the dispatcher after all output of r has been posted.
func (s *Session) finish(r *run, ended time.Time, code int, waitErr error) {
	if s.attached(r) {
		if rest := r.lines.flush(); len(rest) > 0 {
			s.emit(r, r.outDec, rest)
		}
		text, err := r.outDec.Flush()
		s.publish(r, text, err)
		text, err = r.errDec.Flush()
		s.publish(r, text, err)
	}

	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
		s.state = StateTerminated
	}
	exit := r.exit
	s.mu.Unlock()

	exit.EndedAt = ended
	exit.Code = code
	exit.Err = waitErr
	s.logger.Info("process exited", "code", code, "killed", exit.Killed, "duration", ended.Sub(exit.StartedAt))

	if s.onExit != nil {
		s.onExit(exit)
	}
}

// streamWriter receives a child stream from os/exec's copy goroutine and
// posts each chunk to the dispatcher.
type streamWriter struct {
	s       *Session
	r       *run
	deliver func(*run, []byte)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	<-w.r.ready
	if !w.s.attached(w.r) {
		// keep draining so the child never blocks on a full pipe
		return len(p), nil
	}
	data := bytes.Clone(p)
	w.s.loop.Post(func() { w.deliver(w.r, data) })
	return len(p), nil
}

// maxLineLength caps a pending stdout line. A child that keeps writing
// without a newline (a progress counter printed with end="") gets its
// output delivered in pieces of this size instead of held forever.
const maxLineLength = 64 << 10

// lineBuffer splits a byte stream into complete lines.
type lineBuffer struct {
	partial []byte
}

// push returns every complete line (terminator included) now available,
// followed by the pending tail if it reached maxLineLength.
func (b *lineBuffer) push(p []byte) [][]byte {
	b.partial = append(b.partial, p...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, b.partial[:i+1])
		b.partial = b.partial[i+1:]
	}
	if len(b.partial) >= maxLineLength {
		lines = append(lines, b.partial)
		b.partial = nil
	}
	if len(lines) > 0 && b.partial != nil {
		b.partial = append([]byte(nil), b.partial...)
	}
	return lines
}

// flush returns the incomplete tail, if any.
func (b *lineBuffer) flush() []byte {
	rest := b.partial
	b.partial = nil
	return rest
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[key]; ok {
			continue
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+overlay[k])
	}
	return merged
}
