package overlay

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAlarmFiresOnce(t *testing.T) {
	var count int32
	a := NewAlarm(func() { atomic.AddInt32(&count, 1) })
	a.Schedule(10 * time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected exactly one fire, got %d", got)
	}
}

func TestAlarmRescheduleReplacesPending(t *testing.T) {
	var count int32
	a := NewAlarm(func() { atomic.AddInt32(&count, 1) })
	a.Schedule(50 * time.Millisecond)
	a.Schedule(10 * time.Millisecond) // replaces the first schedule

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected exactly one fire after reschedule, got %d", got)
	}
}

func TestAlarmCancel(t *testing.T) {
	var count int32
	a := NewAlarm(func() { atomic.AddInt32(&count, 1) })
	a.Schedule(20 * time.Millisecond)
	a.Cancel()

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Fatalf("expected cancellation to prevent firing, got %d", got)
	}
}

func TestAlarmSelfCancelFromCallback(t *testing.T) {
	var count int32
	var a *Alarm
	a = NewAlarm(func() {
		atomic.AddInt32(&count, 1)
		a.Cancel() // must not deadlock
	})
	a.Schedule(10 * time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected exactly one fire, got %d", got)
	}
}
