package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestArmFiresCallback(t *testing.T) {
	ts := NewTimerScheduler()
	defer ts.Stop()

	fired := make(chan string, 1)
	ts.Arm("s1", time.Now().Add(10*time.Millisecond), func(id string) { fired <- id })

	select {
	case id := <-fired:
		if id != "s1" { t.Fatalf("fired with id %q", id) }
	case <-time.After(2 * time.Second):
		t.Fatalf("timer never fired")
	}
}

func TestPastDeadlineFiresImmediately(t *testing.T) {
	ts := NewTimerScheduler()
	defer ts.Stop()

	fired := make(chan struct{}, 1)
	ts.Arm("s1", time.Now().Add(-time.Minute), func(string) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("over-deadline arm should fire at once")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	ts := NewTimerScheduler()
	defer ts.Stop()

	var calls atomic.Int32
	ts.Arm("s1", time.Now().Add(30*time.Millisecond), func(string) { calls.Add(1) })
	ts.Cancel("s1")

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 0 { t.Fatalf("cancelled timer fired %d times", n) }
}

func TestRearmReplacesPendingTimer(t *testing.T) {
	ts := NewTimerScheduler()
	defer ts.Stop()

	var first, second atomic.Int32
	ts.Arm("s1", time.Now().Add(30*time.Millisecond), func(string) { first.Add(1) })
	ts.Arm("s1", time.Now().Add(60*time.Millisecond), func(string) { second.Add(1) })

	time.Sleep(200 * time.Millisecond)
	if n := first.Load(); n != 0 { t.Fatalf("replaced timer fired %d times", n) }
	if n := second.Load(); n != 1 { t.Fatalf("replacement fired %d times", n) }
}

func TestIndependentSessions(t *testing.T) {
	ts := NewTimerScheduler()
	defer ts.Stop()

	var a, b atomic.Int32
	ts.Arm("a", time.Now().Add(10*time.Millisecond), func(string) { a.Add(1) })
	ts.Arm("b", time.Now().Add(10*time.Millisecond), func(string) { b.Add(1) })
	ts.Cancel("a")

	time.Sleep(100 * time.Millisecond)
	if a.Load() != 0 { t.Fatalf("cancelled session fired") }
	if b.Load() != 1 { t.Fatalf("unrelated cancel suppressed the other timer") }
}

func TestStopCancelsEverything(t *testing.T) {
	ts := NewTimerScheduler()

	var calls atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		ts.Arm(id, time.Now().Add(30*time.Millisecond), func(string) { calls.Add(1) })
	}
	ts.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 0 { t.Fatalf("%d timers fired after Stop", n) }
}

func TestCancelUnknownIsNoop(t *testing.T) {
	ts := NewTimerScheduler()
	defer ts.Stop()
	ts.Cancel("never-armed")
}
