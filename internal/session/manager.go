package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/puppy/internal/db"
	"github.com/user/puppy/internal/loop"
	"github.com/user/puppy/internal/metrics"
	"github.com/user/puppy/internal/process"
	"github.com/user/puppy/internal/project"
	"github.com/user/puppy/internal/repl"
	"github.com/user/puppy/internal/sink"
)

// REPLPane is the pane the serial console writes into.
const REPLPane = "repl"

const outputPanePrefix = "output:"

// closeGrace bounds how long Close waits for killed programs to be recorded.
const closeGrace = 5 * time.Second

// ErrNoInput is returned when keys are sent to a pane that takes no input.
var ErrNoInput = errors.New("pane does not accept input")

// OutputPane returns the pane a project's program writes into.
func OutputPane(projectName string) string {
	return outputPanePrefix + projectName
}

// PaneFunc returns the sink for a pane id.
type PaneFunc func(id string) sink.TextSink

type Options struct {
	// Interpreter and InterpreterArgs run a project's entry file.
	Interpreter     string
	InterpreterArgs []string
	Encoding        string
	Enumerator      repl.Enumerator
	// OpenPort defaults to repl.OpenSerial.
	OpenPort repl.Opener
	// OnExit is called on the dispatcher after a project's run was recorded.
	OnExit func(projectName string, exit process.Exit)
	Logger *slog.Logger
}

type Status struct {
	Project *db.Project `json:"project"`
	State   string      `json:"state"`
	PID     int         `json:"pid,omitempty"`
}

type DeviceStatus struct {
	// Port is where discovery currently finds a micro:bit.
	Port string `json:"port,omitempty"`
	// Open is the port the REPL is attached to.
	Open string `json:"open,omitempty"`
}

// Manager is the workbench: one program session per project and one REPL.
type Manager struct {
	projects *project.Manager
	runs     *db.RunRepo
	procs    *process.Manager
	repl     *repl.Session
	metrics  *metrics.Metrics
	panes    PaneFunc
	enum     repl.Enumerator

	command string
	args    []string
	onExit  func(string, process.Exit)
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]*db.Project
	// one per started run until handleExit has recorded it
	inflight sync.WaitGroup
}

func NewManager(d loop.Dispatcher, projects *project.Manager, runs *db.RunRepo, panes PaneFunc, m *metrics.Metrics, opts Options) (*Manager, error) {
	if projects == nil || runs == nil || panes == nil || m == nil {
		return nil, fmt.Errorf("session manager: missing dependency")
	}
	if strings.TrimSpace(opts.Interpreter) == "" {
		return nil, fmt.Errorf("session manager: interpreter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enum := opts.Enumerator
	if enum == nil {
		enum = repl.SystemEnumerator{}
	}

	sm := &Manager{
		projects: projects,
		runs:     runs,
		metrics:  m,
		panes:    panes,
		enum:     enum,
		command:  opts.Interpreter,
		args:     append([]string(nil), opts.InterpreterArgs...),
		onExit:   opts.OnExit,
		logger:   logger,
		running:  make(map[string]*db.Project),
	}

	sm.procs = process.NewManager(d, process.Options{
		Encoding: opts.Encoding,
		Env:      process.DefaultEnv(opts.Encoding),
		OnExit:   sm.handleExit,
		Logger:   logger,
	})

	rs, err := repl.NewSession(REPLPane, m.Sink(panes(REPLPane), metrics.KindREPL), d, repl.Options{
		Encoding: opts.Encoding,
		Open:     opts.OpenPort,
		OnLost: func(err *repl.DeviceLostError) {
			logger.Warn("micro:bit disconnected", "port", err.Port)
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	sm.repl = rs
	return sm, nil
}

// Run starts the project's entry file, killing the program already running
// in its pane first.
func (sm *Manager) Run(ctx context.Context, projectName string) error {
	p, err := sm.projects.Get(ctx, projectName)
	if err != nil {
		return err
	}

	paneID := OutputPane(p.Name)
	sess, err := sm.procs.GetOrCreate(paneID, sm.metrics.Sink(sm.panes(paneID), metrics.KindProcess))
	if err != nil {
		return err
	}
	if err := sess.Kill(); err != nil {
		return err
	}

	sm.mu.Lock()
	sm.running[paneID] = p
	sm.mu.Unlock()

	args := append(append([]string(nil), sm.args...), p.Entry)
	// counted before Start: a quick program can exit before Start returns
	sm.inflight.Add(1)
	sm.metrics.RunningPrograms.Inc()
	if err := sess.Start(sm.command, args, p.Root); err != nil {
		sm.inflight.Done()
		sm.metrics.RunningPrograms.Dec()
		var spawnErr *process.SpawnError
		if errors.As(err, &spawnErr) {
			sm.metrics.SpawnFailures.Inc()
		}
		return err
	}
	sm.metrics.SessionsStarted.WithLabelValues(metrics.KindProcess).Inc()

	if err := sm.projects.Touch(ctx, p); err != nil {
		sm.logger.Warn("failed to touch project", "project", p.Name, "error", err)
	}
	return nil
}

// Kill stops the project's program. Nothing it printed after this point
// reaches its pane. Killing a project with nothing running is a no-op.
func (sm *Manager) Kill(ctx context.Context, projectName string) error {
	p, err := sm.projects.Get(ctx, projectName)
	if err != nil {
		return err
	}
	sess, err := sm.procs.Get(OutputPane(p.Name))
	if err != nil {
		return nil
	}
	return sess.Kill()
}

func (sm *Manager) Status(ctx context.Context, projectName string) (*Status, error) {
	p, err := sm.projects.Get(ctx, projectName)
	if err != nil {
		return nil, err
	}
	st := &Status{Project: p, State: process.StateIdle.String()}
	if sess, err := sm.procs.Get(OutputPane(p.Name)); err == nil {
		st.State = sess.State().String()
		st.PID = sess.PID()
	}
	return st, nil
}

func (sm *Manager) Runs(ctx context.Context, projectName string, limit int) ([]*db.Run, error) {
	p, err := sm.projects.Get(ctx, projectName)
	if err != nil {
		return nil, err
	}
	return sm.runs.ListByProject(ctx, p.ID, limit)
}

// handleExit runs on the dispatcher for every finished run.
func (sm *Manager) handleExit(exit process.Exit) {
	defer sm.inflight.Done()
	sm.metrics.RunningPrograms.Dec()

	sm.mu.Lock()
	p := sm.running[exit.SessionID]
	sm.mu.Unlock()
	if p == nil {
		return
	}

	if !exit.Killed {
		if sess, err := sm.procs.Get(exit.SessionID); err == nil {
			sess.Note(exitLine(exit))
		}
	}

	item := &db.Run{
		ProjectID: p.ID,
		Command:   exit.Command,
		Args:      exit.Args,
		Dir:       exit.Dir,
		StartedAt: exit.StartedAt,
		EndedAt:   exit.EndedAt,
		ExitCode:  exit.Code,
		Killed:    exit.Killed,
	}
	if exit.Err != nil {
		item.Error = exit.Err.Error()
	}
	if err := sm.runs.Create(context.Background(), item); err != nil {
		sm.logger.Warn("failed to record run", "project", p.Name, "error", err)
	}

	if sm.onExit != nil {
		sm.onExit(p.Name, exit)
	}
}

func exitLine(exit process.Exit) string {
	if exit.Err != nil {
		return fmt.Sprintf("\n[program failed: %v]\n", exit.Err)
	}
	return fmt.Sprintf("\n[program exited with code %d]\n", exit.Code)
}

// DiscoverDevice returns the port of the first attached micro:bit.
func (sm *Manager) DiscoverDevice() (string, error) {
	return repl.Discover(sm.enum)
}

func (sm *Manager) Device() DeviceStatus {
	st := DeviceStatus{Open: sm.repl.PortName()}
	if port, err := sm.DiscoverDevice(); err == nil {
		st.Port = port
	}
	return st
}

// OpenREPL attaches the console to port, discovering the device when port
// is empty. It returns the port that was opened.
func (sm *Manager) OpenREPL(port string) (string, error) {
	if port == "" {
		found, err := sm.DiscoverDevice()
		if err != nil {
			return "", err
		}
		port = found
	}
	if err := sm.repl.Open(port); err != nil {
		return "", err
	}
	sm.metrics.SessionsStarted.WithLabelValues(metrics.KindREPL).Inc()
	return port, nil
}

func (sm *Manager) CloseREPL() error {
	return sm.repl.Close()
}

func (sm *Manager) SendKey(pane string, key repl.Key) error {
	if pane != REPLPane {
		return fmt.Errorf("%w: %s", ErrNoInput, pane)
	}
	return sm.repl.SendKey(key)
}

func (sm *Manager) SendText(pane string, text string) error {
	if pane != REPLPane {
		return fmt.Errorf("%w: %s", ErrNoInput, pane)
	}
	return sm.repl.SendText(text)
}

// DeviceChanged is the device watcher's callback. A device that vanishes
// while open is torn down by the REPL's own read failure.
func (sm *Manager) DeviceChanged(ev repl.DeviceEvent) {
	if ev.Attached {
		sm.logger.Info("micro:bit attached", "port", ev.Port)
		return
	}
	sm.logger.Info("micro:bit detached", "port", ev.Port)
}

// Close kills every program and waits for their runs to be recorded. It
// must not be called from the dispatcher.
func (sm *Manager) Close() {
	sm.procs.Close()

	recorded := make(chan struct{})
	go func() {
		sm.inflight.Wait()
		close(recorded)
	}()
	select {
	case <-recorded:
	case <-time.After(closeGrace):
		sm.logger.Warn("programs still exiting at shutdown")
	}

	if err := sm.repl.Close(); err != nil {
		sm.logger.Warn("failed to close repl", "error", err)
	}
}
