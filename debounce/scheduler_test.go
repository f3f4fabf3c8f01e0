package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScheduler_CoalescesBurst(t *testing.T) {
	clock := NewManualClock()
	s := New[int64](3*time.Second, clock)

	var fired atomic.Int32
	fn := func() { fired.Add(1) }

	// Arrivals at t=0, 1, 2.
	s.Arm(7, fn)
	clock.Advance(time.Second)
	s.Arm(7, fn)
	clock.Advance(time.Second)
	s.Arm(7, fn)

	clock.Advance(2 * time.Second) // t=4
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired %d times before window elapsed, want 0", got)
	}
	if s.State(7) != Waiting {
		t.Errorf("state = %v, want waiting", s.State(7))
	}

	clock.Advance(time.Second) // t=5
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
	if s.State(7) != Idle {
		t.Errorf("state after fire = %v, want idle", s.State(7))
	}

	clock.Advance(10 * time.Second)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times after extra time, want 1", got)
	}
	if clock.Pending() != 0 {
		t.Errorf("clock has %d pending timers, want 0", clock.Pending())
	}
}

func TestScheduler_KeysAreIndependent(t *testing.T) {
	clock := NewManualClock()
	s := New[int64](3*time.Second, clock)

	var a, b atomic.Int32
	s.Arm(1, func() { a.Add(1) })
	clock.Advance(2 * time.Second)
	s.Arm(2, func() { b.Add(1) })

	clock.Advance(time.Second) // t=3
	if a.Load() != 1 || b.Load() != 0 {
		t.Fatalf("a=%d b=%d, want 1 0", a.Load(), b.Load())
	}
	clock.Advance(2 * time.Second) // t=5
	if b.Load() != 1 {
		t.Fatalf("b=%d, want 1", b.Load())
	}
}

func TestScheduler_TriggerBypassesWindow(t *testing.T) {
	clock := NewManualClock()
	s := New[int64](3*time.Second, clock)

	var armed, triggered atomic.Int32
	s.Arm(1, func() { armed.Add(1) })
	s.Trigger(1, func() { triggered.Add(1) })

	if triggered.Load() != 1 {
		t.Fatalf("triggered = %d, want 1", triggered.Load())
	}
	if s.State(1) != Idle {
		t.Errorf("state = %v, want idle", s.State(1))
	}

	clock.Advance(time.Minute)
	if armed.Load() != 0 {
		t.Errorf("cancelled timer fired %d times", armed.Load())
	}
}

func TestScheduler_Cancel(t *testing.T) {
	clock := NewManualClock()
	s := New[string](time.Second, clock)

	var fired atomic.Int32
	s.Arm("k", func() { fired.Add(1) })
	if !s.Cancel("k") {
		t.Fatal("Cancel returned false for pending key")
	}
	if s.Cancel("k") {
		t.Error("second Cancel returned true")
	}
	clock.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Errorf("fired %d times after cancel", fired.Load())
	}
}

func TestScheduler_StaleExpiryIsIgnored(t *testing.T) {
	// A timer whose Stop loses the race still calls expire; the generation
	// check must swallow it.
	s := New[int](time.Second, NewManualClock())

	var fired atomic.Int32
	s.Arm(1, func() { fired.Add(1) })
	s.mu.Lock()
	stale := s.entries[1].gen
	s.mu.Unlock()

	s.Arm(1, func() { fired.Add(10) })
	s.expire(1, stale, func() { fired.Add(100) })

	if fired.Load() != 0 {
		t.Fatalf("stale expiry ran, fired = %d", fired.Load())
	}
	if s.State(1) != Waiting {
		t.Errorf("state = %v, want waiting", s.State(1))
	}
}

func TestScheduler_StateDuringFire(t *testing.T) {
	clock := NewManualClock()
	s := New[int](time.Second, clock)

	var during State
	s.Arm(1, func() { during = s.State(1) })
	clock.Advance(time.Second)

	if during != Fired {
		t.Errorf("state during action = %v, want fired", during)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestScheduler_RearmFromAction(t *testing.T) {
	clock := NewManualClock()
	s := New[int](time.Second, clock)

	var count atomic.Int32
	var fn func()
	fn = func() {
		if count.Add(1) < 3 {
			s.Arm(1, fn)
		}
	}
	s.Arm(1, fn)
	clock.Advance(5 * time.Second)

	if count.Load() != 3 {
		t.Errorf("count = %d, want 3", count.Load())
	}
}

func TestScheduler_Stop(t *testing.T) {
	clock := NewManualClock()
	s := New[int](time.Second, clock)

	var fired atomic.Int32
	s.Arm(1, func() { fired.Add(1) })
	s.Arm(2, func() { fired.Add(1) })
	s.Stop()
	s.Arm(3, func() { fired.Add(1) })
	s.Trigger(4, func() { fired.Add(1) })

	clock.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Errorf("fired %d times after Stop", fired.Load())
	}
}

func TestScheduler_Defaults(t *testing.T) {
	s := New[int](0, nil)
	if s.Window() != DefaultWindow {
		t.Errorf("Window = %v, want %v", s.Window(), DefaultWindow)
	}
}

func TestScheduler_RealClock(t *testing.T) {
	s := New[int](20*time.Millisecond, RealClock())

	var wg sync.WaitGroup
	wg.Add(1)
	var fired atomic.Int32
	fn := func() {
		fired.Add(1)
		wg.Done()
	}

	s.Arm(1, fn)
	time.Sleep(5 * time.Millisecond)
	s.Arm(1, fn)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
}

func TestState_String(t *testing.T) {
	if Idle.String() != "idle" || Waiting.String() != "waiting" || Fired.String() != "fired" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "unknown" {
		t.Error("unexpected name for invalid state")
	}
}
