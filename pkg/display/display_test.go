package display

import (
	"errors"
	"testing"
	"time"
)

type fakeBacklight struct {
	on, off int
	err     error
}

func (f *fakeBacklight) BacklightOn() error {
	if f.err != nil {
		return f.err
	}
	f.on++
	return nil
}

func (f *fakeBacklight) BacklightOff() error {
	if f.err != nil {
		return f.err
	}
	f.off++
	return nil
}

func TestControllerIdempotent(t *testing.T) {
	bl := &fakeBacklight{}
	c := NewController(bl)

	if err := c.On(); err != nil {
		t.Fatalf("On() error = %v", err)
	}
	if bl.on != 0 {
		t.Errorf("On() while on touched hardware %d times", bl.on)
	}

	for i := 0; i < 2; i++ {
		if err := c.Off(); err != nil {
			t.Fatalf("Off() error = %v", err)
		}
	}
	if bl.off != 1 || !c.IsOff() {
		t.Errorf("Off() twice: hardware calls = %d, IsOff() = %v, want 1, true", bl.off, c.IsOff())
	}

	for i := 0; i < 2; i++ {
		if err := c.On(); err != nil {
			t.Fatalf("On() error = %v", err)
		}
	}
	if bl.on != 1 || c.IsOff() {
		t.Errorf("On() twice: hardware calls = %d, IsOff() = %v, want 1, false", bl.on, c.IsOff())
	}
}

func TestControllerErrorKeepsState(t *testing.T) {
	bl := &fakeBacklight{err: errors.New("pwm busy")}
	c := NewController(bl)

	if err := c.Off(); err == nil {
		t.Fatalf("Off() error = nil, want error")
	}
	if c.IsOff() {
		t.Errorf("IsOff() = true after failed Off()")
	}
}

type fakeLocker struct {
	failFirst int
	calls     int
	timeouts  []time.Duration
	locked    bool
}

func (f *fakeLocker) Lock(timeout time.Duration) bool {
	f.calls++
	f.timeouts = append(f.timeouts, timeout)
	if f.calls <= f.failFirst {
		return false
	}
	f.locked = true
	return true
}

func (f *fakeLocker) Unlock() { f.locked = false }

func TestLockWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failFirst int
		want      bool
		wantCalls int
		wantSleep int
	}{
		{name: "first try", failFirst: 0, want: true, wantCalls: 1, wantSleep: 0},
		{name: "third try", failFirst: 2, want: true, wantCalls: 3, wantSleep: 2},
		{name: "last try", failFirst: 4, want: true, wantCalls: 5, wantSleep: 4},
		{name: "never", failFirst: 100, want: false, wantCalls: 5, wantSleep: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var slept []time.Duration
			orig := sleepFunc
			sleepFunc = func(d time.Duration) { slept = append(slept, d) }
			defer func() { sleepFunc = orig }()

			l := &fakeLocker{failFirst: tt.failFirst}
			got := LockWithRetry(l, DefaultLockPolicy())
			if got != tt.want {
				t.Errorf("LockWithRetry() = %v, want %v", got, tt.want)
			}
			if l.calls != tt.wantCalls {
				t.Errorf("Lock() calls = %d, want %d", l.calls, tt.wantCalls)
			}
			if len(slept) != tt.wantSleep {
				t.Errorf("delays = %d, want %d", len(slept), tt.wantSleep)
			}
			for _, d := range l.timeouts {
				if d != 200*time.Millisecond {
					t.Errorf("Lock() timeout = %v, want 200ms", d)
				}
			}
		})
	}
}
