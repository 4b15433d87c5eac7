package game

import (
	"testing"
	"time"
)

func versionedSnapshot(sessionID string, version int64) Snapshot {
	return Snapshot{Session: Session{ID: sessionID, Version: version}}
}

func TestHubDeliversInVersionOrder(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	for v := int64(1); v <= 3; v++ {
		hub.Publish(versionedSnapshot("s1", v))
	}

	var last int64
	for i := 0; i < 3; i++ {
		select {
		case snap := <-ch:
			if snap.Session.Version < last {
				t.Fatalf("version went backwards: %d after %d", snap.Session.Version, last)
			}
			last = snap.Session.Version
		case <-time.After(time.Second):
			t.Fatal("missing snapshot")
		}
	}
	if last != 3 {
		t.Fatalf("expected final version 3, got %d", last)
	}
}

func TestHubDropsStaleSnapshots(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	hub.Publish(versionedSnapshot("s1", 5))
	hub.Publish(versionedSnapshot("s1", 3))

	snap := <-ch
	if snap.Session.Version != 5 {
		t.Fatalf("expected version 5 first, got %d", snap.Session.Version)
	}
	select {
	case snap := <-ch:
		t.Fatalf("stale snapshot %d delivered", snap.Session.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubIsolatesSessions(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	hub.Publish(versionedSnapshot("s2", 1))

	select {
	case <-ch:
		t.Fatal("received snapshot for another session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	cancel()
	cancel() // second cancel must not panic

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}

	// publishing after cancel must not panic or block
	hub.Publish(versionedSnapshot("s1", 1))
}

func TestHubShedsOldestWhenSubscriberLags(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	total := int64(subscriberBuffer + 5)
	for v := int64(1); v <= total; v++ {
		hub.Publish(versionedSnapshot("s1", v))
	}

	var last int64
drain:
	for {
		select {
		case snap := <-ch:
			if snap.Session.Version < last {
				t.Fatalf("version went backwards: %d after %d", snap.Session.Version, last)
			}
			last = snap.Session.Version
		default:
			break drain
		}
	}
	if last != total {
		t.Fatalf("latest snapshot lost: got %d, want %d", last, total)
	}
}
