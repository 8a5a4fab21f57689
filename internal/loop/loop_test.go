package loop

import (
	"context"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-l.Done():
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return l
}

func TestLoopRunsInOrder(t *testing.T) {
	l := startLoop(t)

	got := make(chan int, 100)
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got <- i })
	}

	for want := 0; want < 100; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("callback %d ran at position %d", v, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d", want)
		}
	}
}

func TestLoopPostFromCallback(t *testing.T) {
	l := startLoop(t)

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoopDropsAfterClose(t *testing.T) {
	l := New()
	l.Close()

	ran := false
	l.Post(func() { ran = true })

	go l.Run(context.Background())
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if ran {
		t.Fatal("callback posted after Close ran")
	}
}

func TestInlineRunsImmediately(t *testing.T) {
	ran := false
	Inline{}.Post(func() { ran = true })
	if !ran {
		t.Fatal("inline callback did not run")
	}
}

func TestLoopOnLoop(t *testing.T) {
	l := startLoop(t)

	if l.OnLoop() {
		t.Fatal("test goroutine reported as the loop")
	}
	got := make(chan bool, 1)
	l.Post(func() { got <- l.OnLoop() })
	select {
	case on := <-got:
		if !on {
			t.Fatal("callback not reported as running on the loop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	other := make(chan bool, 1)
	go func() { other <- l.OnLoop() }()
	if <-other {
		t.Fatal("unrelated goroutine reported as the loop")
	}
}

func TestLoopOnLoopBeforeRun(t *testing.T) {
	if New().OnLoop() {
		t.Fatal("loop that never ran reported an owner")
	}
	if !(Inline{}).OnLoop() {
		t.Fatal("inline dispatcher must count every caller as on the loop")
	}
}

func TestGoidDistinguishesGoroutines(t *testing.T) {
	here := goid()
	if here == 0 {
		t.Fatal("goid() = 0")
	}
	there := make(chan uint64, 1)
	go func() { there <- goid() }()
	if id := <-there; id == here || id == 0 {
		t.Fatalf("goid() on another goroutine = %d, here = %d", id, here)
	}
}
