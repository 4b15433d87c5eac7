package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drawchain/drawchain/internal/game"
)

func newSession(id, code string) *game.Session {
	now := time.Now().UTC()
	return &game.Session{
		ID:          id,
		Code:        code,
		Capacity:    4,
		TurnSeconds: 60,
		TotalRounds: 3,
		Phase:       game.PhaseWaiting,
		Version:     1,
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
}

func TestCreateSessionRejectsActiveCode(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateSession(ctx, newSession("s2", "AAAAAA")); !errors.Is(err, game.ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}
	if err := st.CreateSession(ctx, newSession("s2", "BBBBBB")); err != nil {
		t.Fatalf("create with fresh code: %v", err)
	}
}

func TestCodeFreedOnTerminalPhase(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := st.Mutate(ctx, "s1", func(tx game.Txn) error {
		tx.Session().Phase = game.PhaseCancelled
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// the code is reusable by a new session
	if err := st.CreateSession(ctx, newSession("s2", "AAAAAA")); err != nil {
		t.Fatalf("reuse freed code: %v", err)
	}
	// and resolves to the newer session
	s, err := st.SessionByCode(ctx, "AAAAAA")
	if err != nil {
		t.Fatalf("by code: %v", err)
	}
	if s.ID != "s2" {
		t.Fatalf("code resolved to %s, want s2", s.ID)
	}
}

func TestSessionByCodeFindsTerminalHolder(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := st.Mutate(ctx, "s1", func(tx game.Txn) error {
		tx.Session().Phase = game.PhaseCompleted
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	s, err := st.SessionByCode(ctx, "AAAAAA")
	if err != nil {
		t.Fatalf("by code after completion: %v", err)
	}
	if s.ID != "s1" || s.Phase != game.PhaseCompleted {
		t.Fatalf("got %s in %s, want s1 Completed", s.ID, s.Phase)
	}
}

func TestSessionNotFound(t *testing.T) {
	st := New()
	ctx := context.Background()
	if _, err := st.SessionByID(ctx, "nope"); !errors.Is(err, game.ErrSessionNotFound) {
		t.Errorf("by id: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := st.SessionByCode(ctx, "NOCODE"); !errors.Is(err, game.ErrSessionNotFound) {
		t.Errorf("by code: expected ErrSessionNotFound, got %v", err)
	}
	err := st.Mutate(ctx, "nope", func(tx game.Txn) error { return nil })
	if !errors.Is(err, game.ErrSessionNotFound) {
		t.Errorf("mutate: expected ErrSessionNotFound, got %v", err)
	}
}

func TestMutateDiscardsStagedWritesOnError(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := st.Mutate(ctx, "s1", func(tx game.Txn) error {
		tx.Session().Version = 99
		if err := tx.AddParticipant(game.Participant{SessionID: "s1", Identity: "alice"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	s, err := st.SessionByID(ctx, "s1")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if s.Version != 1 {
		t.Errorf("failed mutation leaked: version %d", s.Version)
	}
	roster, err := st.Roster(ctx, "s1")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 0 {
		t.Errorf("failed mutation leaked: %d participants", len(roster))
	}
}

func TestMutateSerializesPerSession(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.Mutate(ctx, "s1", func(tx game.Txn) error {
				tx.Session().Version++
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	s, err := st.SessionByID(ctx, "s1")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if s.Version != 1+writers {
		t.Fatalf("lost updates: version %d, want %d", s.Version, 1+writers)
	}
}

func TestAppendLayerRejectsDuplicateSlot(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}
	layer := game.ArtifactLayer{ID: "l1", SessionID: "s1", Round: 1, JoinOrder: 0, Payload: "x"}
	err := st.Mutate(ctx, "s1", func(tx game.Txn) error {
		return tx.AppendLayer(layer)
	})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	// same slot in a later mutation
	err = st.Mutate(ctx, "s1", func(tx game.Txn) error {
		return tx.AppendLayer(game.ArtifactLayer{ID: "l2", SessionID: "s1", Round: 1, JoinOrder: 0})
	})
	if !errors.Is(err, game.ErrDuplicateContribution) {
		t.Fatalf("expected ErrDuplicateContribution, got %v", err)
	}

	// same slot twice within one mutation
	err = st.Mutate(ctx, "s1", func(tx game.Txn) error {
		if err := tx.AppendLayer(game.ArtifactLayer{ID: "l3", SessionID: "s1", Round: 2, JoinOrder: 1}); err != nil {
			return err
		}
		return tx.AppendLayer(game.ArtifactLayer{ID: "l4", SessionID: "s1", Round: 2, JoinOrder: 1})
	})
	if !errors.Is(err, game.ErrDuplicateContribution) {
		t.Fatalf("staged duplicate: expected ErrDuplicateContribution, got %v", err)
	}

	layers, err := st.Layers(ctx, "s1")
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if len(layers) != 1 {
		t.Fatalf("expected 1 committed layer, got %d", len(layers))
	}
}

func TestLayersSortedByRoundThenOrder(t *testing.T) {
	st := New()
	ctx := context.Background()
	if err := st.CreateSession(ctx, newSession("s1", "AAAAAA")); err != nil {
		t.Fatalf("create: %v", err)
	}
	slots := []struct{ round, order int }{{2, 0}, {1, 1}, {2, 1}, {1, 0}}
	for i, s := range slots {
		err := st.Mutate(ctx, "s1", func(tx game.Txn) error {
			return tx.AppendLayer(game.ArtifactLayer{
				ID: string(rune('a' + i)), SessionID: "s1", Round: s.round, JoinOrder: s.order,
			})
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	layers, err := st.Layers(ctx, "s1")
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	want := []struct{ round, order int }{{1, 0}, {1, 1}, {2, 0}, {2, 1}}
	for i, w := range want {
		if layers[i].Round != w.round || layers[i].JoinOrder != w.order {
			t.Errorf("layer %d: got (%d, %d), want (%d, %d)",
				i, layers[i].Round, layers[i].JoinOrder, w.round, w.order)
		}
	}
}

func TestExpiredWaiting(t *testing.T) {
	st := New()
	ctx := context.Background()
	now := time.Now().UTC()

	old := newSession("old", "AAAAAA")
	old.CreatedAt = now.Add(-25 * time.Hour)
	old.ExpiresAt = now.Add(-time.Hour)
	fresh := newSession("fresh", "BBBBBB")
	stale := newSession("stale-active", "CCCCCC")
	stale.ExpiresAt = now.Add(-time.Hour)
	stale.Phase = game.PhaseDrawing

	for _, s := range []*game.Session{old, fresh, stale} {
		if err := st.CreateSession(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.ID, err)
		}
	}
	ids, err := st.ExpiredWaiting(ctx, now)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("expected [old], got %v", ids)
	}
}
