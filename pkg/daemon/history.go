package daemon

import (
	"sync"
	"time"

	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/types"
)

const historySize = 60

// SleepRecorder records the last N light sleeps.
type SleepRecorder struct {
	MaxRecordCount int
	Records        []types.SleepRecord
	mu             *sync.Mutex
}

// NewSleepRecorder returns a new SleepRecorder.
func NewSleepRecorder(maxRecordCount int) *SleepRecorder {
	return &SleepRecorder{
		MaxRecordCount: maxRecordCount,
		Records:        make([]types.SleepRecord, 0),
		mu:             &sync.Mutex{},
	}
}

// AddWake adds a record for a completed light sleep.
func (r *SleepRecorder) AddWake(w sleep.WakeRecord) {
	r.AddRecord(types.SleepRecord{
		// Round to strip monotonic clock reading.
		Start:    w.Start.Round(0),
		Duration: w.Duration,
		Cause:    w.Cause,
		Button:   w.Button,
		Touch:    w.Touch,
	})
}

// AddRecord adds a new record, dropping the oldest when full.
func (r *SleepRecorder) AddRecord(rec types.SleepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.MaxRecordCount <= 0 {
		return
	}
	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, rec)
}

// ClearRecords clears all records.
func (r *SleepRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Records = make([]types.SleepRecord, 0)
}

// GetRecords returns a copy of the records, oldest first.
func (r *SleepRecorder) GetRecords() []types.SleepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.SleepRecord, len(r.Records))
	copy(out, r.Records)
	return out
}

// GetRecordsIn returns the records that started within the last duration,
// newest first.
func (r *SleepRecorder) GetRecordsIn(last time.Duration) []types.SleepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.SleepRecord
	for i := len(r.Records) - 1; i >= 0; i-- {
		if time.Since(r.Records[i].Start) > last {
			break
		}
		out = append(out, r.Records[i])
	}
	return out
}

// TotalSlept sums the duration of all records.
func (r *SleepRecorder) TotalSlept() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total time.Duration
	for _, rec := range r.Records {
		total += rec.Duration
	}
	return total
}
