package timeoutwheel_test

import (
	"testing"
	"time"

	"github.com/nabbar/edgeproxy/timeoutwheel"
)

func TestScheduleFiresAfterTicks(t *testing.T) {
	w := timeoutwheel.New(8, 10*time.Millisecond)

	var fired []timeoutwheel.Expiry
	w.Schedule(1, timeoutwheel.Idle, 30*time.Millisecond, func(e timeoutwheel.Expiry) {
		fired = append(fired, e)
	})

	for i := 0; i < 2; i++ {
		w.Tick()
	}
	if len(fired) != 0 {
		t.Fatalf("expected no firing before the deadline, got %d", len(fired))
	}

	w.Tick()
	if len(fired) != 1 {
		t.Fatalf("expected exactly one firing, got %d", len(fired))
	}
	if fired[0].Token != 1 || fired[0].Kind != timeoutwheel.Idle {
		t.Fatalf("unexpected expiry: %+v", fired[0])
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	w := timeoutwheel.New(8, 10*time.Millisecond)

	fired := false
	w.Schedule(2, timeoutwheel.Connect, 10*time.Millisecond, func(timeoutwheel.Expiry) {
		fired = true
	})
	w.Cancel(2, timeoutwheel.Connect)

	for i := 0; i < 4; i++ {
		w.Tick()
	}
	if fired {
		t.Fatal("cancelled timer must not fire")
	}
}

func TestRescheduleReplacesPriorEntry(t *testing.T) {
	w := timeoutwheel.New(8, 10*time.Millisecond)

	count := 0
	w.Schedule(3, timeoutwheel.Idle, 10*time.Millisecond, func(timeoutwheel.Expiry) { count++ })
	w.Schedule(3, timeoutwheel.Idle, 30*time.Millisecond, func(timeoutwheel.Expiry) { count++ })

	w.Tick() // the original 1-tick deadline must not fire: it was replaced
	if count != 0 {
		t.Fatalf("expected the stale schedule to have been cancelled, got count=%d", count)
	}

	w.Tick()
	w.Tick()
	if count != 1 {
		t.Fatalf("expected exactly one firing from the replacement, got %d", count)
	}
}
