package daemon

import (
	"testing"
	"time"

	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/types"
)

func TestSleepRecorderDropsOldest(t *testing.T) {
	r := NewSleepRecorder(3)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		r.AddRecord(types.SleepRecord{Start: base.Add(time.Duration(i) * time.Minute), Duration: time.Second})
	}

	got := r.GetRecords()
	if len(got) != 3 {
		t.Fatalf("GetRecords() len = %d, want 3", len(got))
	}
	if !got[0].Start.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("oldest record = %v, want %v", got[0].Start, base.Add(2*time.Minute))
	}
	if got := r.TotalSlept(); got != 3*time.Second {
		t.Errorf("TotalSlept() = %v, want 3s", got)
	}

	r.ClearRecords()
	if got := r.GetRecords(); len(got) != 0 {
		t.Errorf("GetRecords() after clear = %v, want empty", got)
	}
}

func TestSleepRecorder_GetRecordsIn(t *testing.T) {
	tests := []struct {
		name   string
		starts []time.Duration
		last   time.Duration
		want   int
	}{
		{
			name:   "all recent",
			starts: []time.Duration{30 * time.Second, 20 * time.Second, 10 * time.Second},
			last:   time.Minute,
			want:   3,
		},
		{
			name:   "old records excluded",
			starts: []time.Duration{70 * time.Second, 60 * time.Second, 40 * time.Second, 10 * time.Second},
			last:   50 * time.Second,
			want:   2,
		},
		{
			name:   "nothing recent",
			starts: []time.Duration{10 * time.Minute},
			last:   time.Minute,
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSleepRecorder(historySize)
			for _, ago := range tt.starts {
				r.AddRecord(types.SleepRecord{Start: time.Now().Add(-ago)})
			}
			got := r.GetRecordsIn(tt.last)
			if len(got) != tt.want {
				t.Errorf("GetRecordsIn() = %v, want %v", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Start.After(got[i-1].Start) {
					t.Errorf("GetRecordsIn() not newest first at %d", i)
				}
			}
		})
	}
}

func TestSleepRecorderAddWake(t *testing.T) {
	r := NewSleepRecorder(historySize)
	start := time.Now()
	r.AddWake(sleep.WakeRecord{Start: start, Duration: 2 * time.Second, Cause: sleep.CauseGPIO, Button: true})

	got := r.GetRecords()
	if len(got) != 1 {
		t.Fatalf("GetRecords() len = %d, want 1", len(got))
	}
	if got[0].Cause != sleep.CauseGPIO || !got[0].Button || got[0].Touch {
		t.Errorf("record = %+v, want gpio button wake", got[0])
	}
	if !got[0].Start.Equal(start) {
		t.Errorf("record start = %v, want %v", got[0].Start, start)
	}
}
