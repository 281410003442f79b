package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestCronParse(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse("@every 1m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)

	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler("test", func() error { return nil }, nil, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}

	if err := s.Schedule("not a cron"); err == nil {
		t.Fatalf("Schedule accepted an invalid expression")
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler("test", func() error { return nil }, nil, nil)
	if err := s.Skip(); err == nil {
		t.Fatalf("Skip() without schedule should fail")
	}
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	skipped, _ := s.Status()
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	task := func() error {
		taskCh <- struct{}{}
		return errors.New("disk full")
	}
	preCheck := func() error {
		atomic.AddInt32(&preChecks, 1)
		return nil
	}
	onError := func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	}

	s := NewScheduler("test", task, preCheck, onError)
	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed task")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatalf("precheck should have been executed")
	}

	next, _ := s.Status()
	if !next.After(time.Now()) {
		t.Errorf("next run = %v, want in the future", next)
	}
}

func TestSchedulerPreCheckSkips(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	checked := make(chan struct{}, 1)

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}
	preCheck := func() error {
		select {
		case checked <- struct{}{}:
		default:
		}
		return errors.New("asleep")
	}

	s := NewScheduler("test", task, preCheck, nil)
	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-checked:
	case <-time.After(time.Second):
		t.Fatalf("precheck was not called")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, skipped := s.Counts(); skipped == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("skip was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-taskCh:
		t.Fatalf("task should not execute when precheck fails")
	default:
	}
}
