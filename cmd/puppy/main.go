package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/user/puppy/internal/api"
	"github.com/user/puppy/internal/config"
	"github.com/user/puppy/internal/db"
	"github.com/user/puppy/internal/hub"
	"github.com/user/puppy/internal/loop"
	"github.com/user/puppy/internal/metrics"
	"github.com/user/puppy/internal/process"
	"github.com/user/puppy/internal/project"
	"github.com/user/puppy/internal/repl"
	"github.com/user/puppy/internal/server"
	"github.com/user/puppy/internal/session"
	"github.com/user/puppy/internal/sink"
)

const (
	defaultProject  = "hello_world"
	defaultTemplate = "hello-world"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	slog.SetDefault(newLogger(os.Stderr, level))

	command := "serve"
	args := cfg.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	switch command {
	case "serve":
		err = serve(ctx, cfg)
	case "run":
		code, err = runOnce(ctx, cfg, args)
	case "devices":
		err = listDevices(os.Stdout, repl.SystemEnumerator{})
	default:
		err = fmt.Errorf("unknown command %q (want serve, run or devices)", command)
	}
	if err != nil {
		slog.Error(command+" failed", "error", err)
		if code == 0 {
			code = 1
		}
	}
	stop()
	os.Exit(code)
}

// newLogger writes text for a human at a terminal and JSON otherwise.
func newLogger(w *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func openProjects(ctx context.Context, cfg *config.Config) (*db.DB, *project.Manager, error) {
	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	projects, err := project.NewManager(cfg.ProjectRoot, database.Projects())
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return database, projects, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	database, projects, err := openProjects(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if _, err := projects.Ensure(ctx, defaultProject, defaultTemplate); err != nil {
		return fmt.Errorf("prepare %s project: %w", defaultProject, err)
	}

	interpreter, interpreterArgs, err := cfg.InterpreterCommand()
	if err != nil {
		return err
	}

	// the loop outlives ctx so programs killed at shutdown are still recorded;
	// it stops after the workbench is closed
	lp := loop.New()
	go lp.Run(context.Background())
	defer func() {
		lp.Close()
		<-lp.Done()
	}()

	m := metrics.New()
	var wb *session.Manager
	h := hub.New(cfg.Token, func(pane string, in hub.Input) {
		var err error
		if in.Key != "" {
			err = wb.SendKey(pane, repl.ParseKey(in.Key))
		} else {
			err = wb.SendText(pane, in.Text)
		}
		if err != nil {
			slog.Warn("input rejected", "pane", pane, "error", err)
		}
	})

	wb, err = session.NewManager(lp, projects, database.Runs(),
		func(id string) sink.TextSink { return h.Pane(id) }, m,
		session.Options{
			Interpreter:     interpreter,
			InterpreterArgs: interpreterArgs,
			Encoding:        cfg.Encoding,
		})
	if err != nil {
		return err
	}
	defer wb.Close()

	watcher, err := repl.NewWatcher(cfg.DeviceDir, repl.SystemEnumerator{}, func(ev repl.DeviceEvent) {
		lp.Post(func() { wb.DeviceChanged(ev) })
	}, slog.Default())
	if err != nil {
		slog.Warn("device watcher unavailable", "dir", cfg.DeviceDir, "error", err)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	go h.Run(ctx)

	srv := server.New(cfg, h, api.NewRouter(projects, wb, cfg.Token), m.Handler())
	fmt.Printf("\npuppy running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}
	return srv.Start(ctx)
}

// runOnce runs one project with its output on stdout and returns the
// program's exit code.
func runOnce(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	if len(args) != 1 {
		return 2, errors.New("usage: puppy [flags] run <project>")
	}
	name := args[0]

	database, projects, err := openProjects(ctx, cfg)
	if err != nil {
		return 1, err
	}
	defer database.Close()

	interpreter, interpreterArgs, err := cfg.InterpreterCommand()
	if err != nil {
		return 1, err
	}

	// the loop outlives ctx so the exit of a killed run is still delivered
	lp := loop.New()
	defer lp.Close()
	go lp.Run(context.Background())

	stdout := sink.NewWriter(os.Stdout)
	exits := make(chan process.Exit, 1)
	wb, err := session.NewManager(lp, projects, database.Runs(),
		func(id string) sink.TextSink {
			if id == session.REPLPane {
				return sink.NewWriter(io.Discard)
			}
			return stdout
		}, metrics.New(),
		session.Options{
			Interpreter:     interpreter,
			InterpreterArgs: interpreterArgs,
			Encoding:        cfg.Encoding,
			OnExit:          func(_ string, exit process.Exit) { exits <- exit },
		})
	if err != nil {
		return 1, err
	}
	defer wb.Close()

	if err := wb.Run(ctx, name); err != nil {
		return 1, err
	}

	var exit process.Exit
	select {
	case exit = <-exits:
	case <-ctx.Done():
		// ctx is already cancelled here
		if err := wb.Kill(context.Background(), name); err != nil {
			return 1, err
		}
		exit = <-exits
	}

	if exit.Killed {
		return 130, nil
	}
	if exit.Err != nil {
		return 1, exit.Err
	}
	if exit.Code < 0 {
		return 1, nil
	}
	return exit.Code, nil
}

func listDevices(w io.Writer, enum repl.Enumerator) error {
	ports, err := enum.Ports()
	if err != nil {
		return err
	}
	width := len("PORT")
	for _, p := range ports {
		width = max(width, len(p.PortName))
	}
	fmt.Fprintf(w, "%-*s  %-9s  %s\n", width, "PORT", "VID:PID", "MICRO:BIT")
	found := false
	for _, p := range ports {
		mark := ""
		if p.VendorID == repl.VendorID && p.ProductID == repl.ProductID {
			if !found {
				mark = "yes"
			}
			found = true
		}
		fmt.Fprintf(w, "%-*s  %04x:%04x  %s\n", width, p.PortName, p.VendorID, p.ProductID, mark)
	}
	if !found {
		return repl.ErrDeviceNotFound
	}
	return nil
}
