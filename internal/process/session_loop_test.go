package process

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/puppy/internal/loop"
)

// countingSink is written from the loop goroutine while the test goroutine
// inspects it.
type countingSink struct {
	appends atomic.Int64
	late    atomic.Int64
	killed  atomic.Bool

	mu      sync.Mutex
	target  int64
	reached chan struct{}
}

func (c *countingSink) Append(string) {
	if c.killed.Load() {
		c.late.Add(1)
	}
	n := c.appends.Add(1)
	c.mu.Lock()
	if c.reached != nil && n >= c.target {
		close(c.reached)
		c.reached = nil
	}
	c.mu.Unlock()
}

func (c *countingSink) Clear() {}

func (c *countingSink) expect(n int64) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appends.Store(0)
	c.target = n
	c.reached = make(chan struct{})
	return c.reached
}

func startTestLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestKillRacingDeliveryOnLoop(t *testing.T) {
	if _, err := exec.LookPath("yes"); err != nil {
		t.Skip("yes not available")
	}
	l := startTestLoop(t)
	out := &countingSink{}
	exits := make(chan Exit, 1)
	s, err := NewSession("chatty", out, l, Options{OnExit: func(e Exit) { exits <- e }})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Kill() })

	for i := 0; i < 100; i++ {
		out.killed.Store(false)
		reached := out.expect(50)
		if err := s.Start("yes", nil, t.TempDir()); err != nil {
			t.Fatalf("run %d: Start: %v", i, err)
		}
		select {
		case <-reached:
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: output never arrived", i)
		}

		if err := s.Kill(); err != nil {
			t.Fatalf("run %d: Kill: %v", i, err)
		}
		out.killed.Store(true)

		select {
		case e := <-exits:
			if !e.Killed {
				t.Fatalf("run %d: exit = %+v, want killed", i, e)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: no exit after Kill", i)
		}
		if n := out.late.Load(); n != 0 {
			t.Fatalf("run %d: %d appends after Kill returned", i, n)
		}
	}
}

type loopKillingSink struct {
	countingSink
	s     *Session
	after atomic.Int64
}

func (k *loopKillingSink) Append(text string) {
	if k.countingSink.killed.Load() {
		k.after.Add(1)
	}
	k.countingSink.Append(text)
	if strings.Contains(text, "stop") {
		_ = k.s.Kill()
		k.countingSink.killed.Store(true)
	}
}

func TestKillFromSinkOnLoop(t *testing.T) {
	l := startTestLoop(t)
	out := &loopKillingSink{}
	exits := make(chan Exit, 1)
	s, err := NewSession("reentrant", out, l, Options{OnExit: func(e Exit) { exits <- e }})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	out.s = s

	script := `echo one; echo stop; while :; do echo more; done`
	if err := s.Start("sh", []string{"-c", script}, t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case e := <-exits:
		if !e.Killed {
			t.Fatalf("exit = %+v, want killed", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Kill from inside the sink did not stop the program")
	}
	if n := out.after.Load(); n != 0 {
		t.Fatalf("%d appends after the sink killed the run", n)
	}
}
