package button

import (
	"testing"
	"time"
)

type fakeLine struct{ down bool }

func (l *fakeLine) ButtonPressed() bool { return l.down }

type recorder struct {
	activity int
	short    []time.Duration
	long     []time.Duration
}

func newTestWatcher() (*Watcher, *fakeLine, *recorder) {
	line := &fakeLine{}
	rec := &recorder{}
	w := NewWatcher(line, Config{}, Handlers{
		OnActivity:   func() { rec.activity++ },
		OnShortPress: func(d time.Duration) { rec.short = append(rec.short, d) },
		OnLongPress:  func(d time.Duration) { rec.long = append(rec.long, d) },
	})
	return w, line, rec
}

// press holds the line for held, sampling every 50ms from start.
func press(w *Watcher, line *fakeLine, start time.Time, held time.Duration) time.Time {
	now := start
	line.down = true
	for ; now.Sub(start) < held; now = now.Add(50 * time.Millisecond) {
		w.Step(now)
	}
	line.down = false
	w.Step(now)
	return now
}

func TestShortPress(t *testing.T) {
	w, line, rec := newTestWatcher()
	press(w, line, time.Unix(100, 0), 200*time.Millisecond)

	if len(rec.short) != 1 || rec.short[0] != 200*time.Millisecond {
		t.Errorf("short presses = %v, want [200ms]", rec.short)
	}
	if rec.activity != 1 {
		t.Errorf("activity = %d, want 1", rec.activity)
	}
	if len(rec.long) != 0 {
		t.Errorf("long presses = %v, want none", rec.long)
	}
}

func TestMediumPressIsNeitherShortNorLong(t *testing.T) {
	w, line, rec := newTestWatcher()
	press(w, line, time.Unix(100, 0), time.Second)
	if len(rec.short) != 0 || len(rec.long) != 0 {
		t.Errorf("short=%v long=%v, want none", rec.short, rec.long)
	}
}

func TestLongPressFiresOnce(t *testing.T) {
	w, line, rec := newTestWatcher()
	press(w, line, time.Unix(100, 0), 5*time.Second)

	if len(rec.long) != 1 || rec.long[0] != 3*time.Second {
		t.Errorf("long presses = %v, want [3s]", rec.long)
	}
	if len(rec.short) != 0 {
		t.Errorf("short presses = %v after long press", rec.short)
	}
}

func TestDebounce(t *testing.T) {
	w, line, rec := newTestWatcher()
	end := press(w, line, time.Unix(100, 0), 100*time.Millisecond)

	// Bounce 100ms after release: activity counts but no press starts.
	line.down = true
	w.Step(end.Add(100 * time.Millisecond))
	line.down = false
	w.Step(end.Add(150 * time.Millisecond))
	if len(rec.short) != 1 {
		t.Errorf("short presses = %d, want 1 (bounce ignored)", len(rec.short))
	}
	if rec.activity != 2 {
		t.Errorf("activity = %d, want 2", rec.activity)
	}

	press(w, line, end.Add(400*time.Millisecond), 100*time.Millisecond)
	if len(rec.short) != 2 {
		t.Errorf("short presses = %d, want 2 after debounce window", len(rec.short))
	}
}

func TestDefaults(t *testing.T) {
	w := NewWatcher(&fakeLine{}, Config{}, Handlers{})
	if w.cfg != DefaultConfig() {
		t.Errorf("config = %+v, want defaults", w.cfg)
	}
	w.Step(time.Now())
}
