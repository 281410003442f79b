package uitimer

import (
	"testing"
	"time"

	"github.com/charlie0129/watchpm/pkg/tasks"
)

func TestLoopTimers(t *testing.T) {
	l := NewLoop(0)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	var clock, battery int
	l.Add("clock", time.Second, func() { clock++ })
	l.Add("battery", 5*time.Second, func() { battery++ })

	if got := l.RunOnce(); got != 2 {
		t.Errorf("RunOnce() = %d, want 2 on first run", got)
	}
	if got := l.RunOnce(); got != 0 {
		t.Errorf("RunOnce() = %d, want 0 before any period elapsed", got)
	}

	now = now.Add(time.Second)
	l.RunOnce()
	if clock != 2 || battery != 1 {
		t.Errorf("clock=%d battery=%d, want 2 and 1", clock, battery)
	}
}

func TestPauseResumeReady(t *testing.T) {
	l := NewLoop(0)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	runs := 0
	tm := l.Add("clock", time.Minute, func() { runs++ })
	l.RunOnce()

	reg := tasks.NewRegistry(l, 0)
	if got := reg.SuspendAll(); got != 1 {
		t.Fatalf("SuspendAll() = %d, want 1", got)
	}
	if !tm.Paused() {
		t.Errorf("timer not paused")
	}
	now = now.Add(2 * time.Minute)
	l.RunOnce()
	if runs != 1 {
		t.Errorf("paused timer ran, runs = %d", runs)
	}

	reg.ResumeAll()
	now = now.Add(time.Millisecond)
	l.RunOnce()
	if runs != 2 {
		t.Errorf("runs after resume = %d, want 2", runs)
	}

	// Ready forces the next run before the period elapses.
	tm.Ready()
	l.RunOnce()
	if runs != 3 || tm.Runs() != 3 {
		t.Errorf("runs after Ready = %d (%d), want 3", runs, tm.Runs())
	}
}

func TestLockTimeout(t *testing.T) {
	l := NewLoop(0)
	if !l.Lock(0) {
		t.Fatalf("Lock() on free lock = false")
	}
	start := time.Now()
	if l.Lock(20 * time.Millisecond) {
		t.Errorf("Lock() on held lock = true")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Errorf("Lock() returned before timeout")
	}
	l.Unlock()
	if !l.Lock(0) {
		t.Errorf("Lock() after Unlock = false")
	}
	l.Unlock()
}

func TestInvalidation(t *testing.T) {
	l := NewLoop(0)
	l.Invalidate()
	l.SetInvalidation(false)
	l.Invalidate()
	if l.Invalidating() {
		t.Errorf("Invalidating() = true after disable")
	}
	l.SetInvalidation(true)
	l.Invalidate()
	if got := l.Redraws(); got != 2 {
		t.Errorf("Redraws() = %d, want 2", got)
	}
}
