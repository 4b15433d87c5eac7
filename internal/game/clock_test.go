package game

import (
	"testing"
	"time"
)

func TestTurnClockFiresWithKey(t *testing.T) {
	fired := make(chan TurnKey, 1)
	clock := NewTurnClock(func(_ string, key TurnKey) {
		fired <- key
	})

	want := TurnKey{Phase: PhaseDrawing, Round: 2, TurnIndex: 1}
	clock.Arm("s1", want, 10*time.Millisecond)

	select {
	case got := <-fired:
		if got != want {
			t.Fatalf("fired with key %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("clock never fired")
	}

	select {
	case <-fired:
		t.Fatal("clock fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTurnClockRearmReplacesPending(t *testing.T) {
	fired := make(chan TurnKey, 2)
	clock := NewTurnClock(func(_ string, key TurnKey) {
		fired <- key
	})

	stale := TurnKey{Phase: PhaseDrawing, Round: 1, TurnIndex: 0}
	current := TurnKey{Phase: PhaseDrawing, Round: 1, TurnIndex: 1}
	clock.Arm("s1", stale, 50*time.Millisecond)
	clock.Arm("s1", current, 10*time.Millisecond)

	select {
	case got := <-fired:
		if got != current {
			t.Fatalf("fired with key %+v, want %+v", got, current)
		}
	case <-time.After(time.Second):
		t.Fatal("clock never fired")
	}

	select {
	case got := <-fired:
		t.Fatalf("replaced deadline fired anyway with key %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTurnClockIgnoresStaleArm(t *testing.T) {
	fired := make(chan TurnKey, 2)
	clock := NewTurnClock(func(_ string, key TurnKey) {
		fired <- key
	})

	// a delayed caller arming for an earlier turn must not displace the
	// later turn's pending deadline
	current := TurnKey{Phase: PhaseDrawing, Round: 1, TurnIndex: 1}
	stale := TurnKey{Phase: PhaseDrawing, Round: 1, TurnIndex: 0}
	clock.Arm("s1", current, 60*time.Millisecond)
	clock.Arm("s1", stale, 5*time.Millisecond)

	select {
	case got := <-fired:
		t.Fatalf("stale arm fired with key %+v", got)
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case got := <-fired:
		if got != current {
			t.Fatalf("fired with key %+v, want %+v", got, current)
		}
	case <-time.After(time.Second):
		t.Fatal("current turn's deadline was lost")
	}
}

func TestTurnClockStaleArmAcrossRounds(t *testing.T) {
	fired := make(chan TurnKey, 2)
	clock := NewTurnClock(func(_ string, key TurnKey) {
		fired <- key
	})

	// round 2 turn 0 is later than round 1 turn 1 even though its index
	// is smaller
	current := TurnKey{Phase: PhaseDrawing, Round: 2, TurnIndex: 0}
	stale := TurnKey{Phase: PhaseDrawing, Round: 1, TurnIndex: 1}
	clock.Arm("s1", current, 40*time.Millisecond)
	clock.Arm("s1", stale, 5*time.Millisecond)

	select {
	case got := <-fired:
		if got != current {
			t.Fatalf("fired with key %+v, want %+v", got, current)
		}
	case <-time.After(time.Second):
		t.Fatal("current turn's deadline was lost")
	}
}

func TestTurnClockDisarm(t *testing.T) {
	fired := make(chan TurnKey, 1)
	clock := NewTurnClock(func(_ string, key TurnKey) {
		fired <- key
	})

	clock.Arm("s1", TurnKey{Phase: PhaseDrawing, Round: 1}, 20*time.Millisecond)
	clock.Disarm("s1")

	select {
	case <-fired:
		t.Fatal("disarmed deadline fired")
	case <-time.After(100 * time.Millisecond):
	}

	// disarming a session with no pending deadline is a no-op
	clock.Disarm("s1")
	clock.Disarm("unknown")
}

func TestTurnClockSessionsAreIndependent(t *testing.T) {
	fired := make(chan string, 2)
	clock := NewTurnClock(func(sessionID string, _ TurnKey) {
		fired <- sessionID
	})

	clock.Arm("s1", TurnKey{}, 10*time.Millisecond)
	clock.Arm("s2", TurnKey{}, 10*time.Millisecond)
	clock.Disarm("s1")

	select {
	case id := <-fired:
		if id != "s2" {
			t.Fatalf("expected s2 to fire, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("clock never fired")
	}
}
