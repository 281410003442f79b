package uptime

import (
	"errors"
	"testing"
	"time"

	"github.com/charlie0129/watchpm/pkg/kv"
)

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) Now() time.Time { return f.t }

func newTracker(t *testing.T, dir string, now *fakeNow) *Tracker {
	t.Helper()
	store, err := kv.Open(dir)
	if err != nil {
		t.Fatalf("kv.Open() error = %v", err)
	}
	tr, err := NewTracker(store, now.Now)
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	return tr
}

func TestTrackerAccumulatesAcrossBoots(t *testing.T) {
	dir := t.TempDir()
	now := &fakeNow{t: time.Unix(1000, 0)}

	tr := newTracker(t, dir, now)
	if _, err := tr.Stats(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Stats() before Init error = %v, want ErrNotInitialized", err)
	}
	if err := tr.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	now.t = now.t.Add(90 * time.Minute)
	if err := tr.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Saving twice must not count the session twice.
	if err := tr.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	st, _ := tr.Stats()
	if st.BootCount != 1 || st.CurrentUptimeSec != 5400 || st.TotalUptimeSec != 5400 {
		t.Errorf("Stats() = %+v, want boot 1, 5400s", st)
	}

	tr2 := newTracker(t, dir, now)
	if err := tr2.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	now.t = now.t.Add(10 * time.Minute)

	st, _ = tr2.Stats()
	if st.BootCount != 2 {
		t.Errorf("BootCount = %d, want 2", st.BootCount)
	}
	if st.CurrentUptimeSec != 600 || st.TotalUptimeSec != 6000 {
		t.Errorf("Stats() = %+v, want current 600, total 6000", st)
	}
}

func TestTrackerReset(t *testing.T) {
	dir := t.TempDir()
	now := &fakeNow{t: time.Unix(0, 0)}
	tr := newTracker(t, dir, now)
	_ = tr.Init()
	now.t = now.t.Add(time.Hour)

	if err := tr.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	st, _ := tr.Stats()
	if st != (Stats{}) {
		t.Errorf("Stats() after Reset = %+v, want zero", st)
	}

	tr2 := newTracker(t, dir, now)
	_ = tr2.Init()
	st, _ = tr2.Stats()
	if st.BootCount != 1 || st.TotalUptimeSec != 0 {
		t.Errorf("Stats() after reset and reboot = %+v, want boot 1, total 0", st)
	}
}

func TestSaveBeforeInit(t *testing.T) {
	tr := newTracker(t, t.TempDir(), &fakeNow{})
	if err := tr.Save(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Save() error = %v, want ErrNotInitialized", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		sec  uint64
		want string
	}{
		{0, "0m"},
		{59, "0m"},
		{60, "1m"},
		{3599, "59m"},
		{3600, "1h 0m"},
		{3*3600 + 25*60, "3h 25m"},
		{86400, "1d 0h 0m"},
		{2*86400 + 5*3600 + 7*60 + 30, "2d 5h 7m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.sec); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}
