// Package memory keeps all session state in process. It is the default
// store for single-node deployments and the workhorse for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/drawchain/drawchain/internal/game"
)

// Store serializes mutations per session on that session's own lock, so
// concurrent operations on different sessions never block each other. The
// map-level lock only guards the registry and the active-code index.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	codes    map[string]string // active join code -> session ID
}

type record struct {
	mu      sync.Mutex
	session game.Session
	roster  []game.Participant
	layers  []game.ArtifactLayer
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*record),
		codes:    make(map[string]string),
	}
}

func (st *Store) CreateSession(ctx context.Context, s *game.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, taken := st.codes[s.Code]; taken {
		return game.ErrCodeTaken
	}
	st.sessions[s.ID] = &record{session: *s}
	st.codes[s.Code] = s.ID
	return nil
}

func (st *Store) SessionByID(ctx context.Context, id string) (*game.Session, error) {
	rec, err := st.record(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	s := rec.session
	return &s, nil
}

func (st *Store) SessionByCode(ctx context.Context, code string) (*game.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.mu.RLock()
	id, active := st.codes[code]
	var candidates []string
	if !active {
		// terminal sessions keep their code; pick the most recent holder
		for sid, rec := range st.sessions {
			if rec.session.Code == code {
				candidates = append(candidates, sid)
			}
		}
	}
	st.mu.RUnlock()

	if active {
		return st.SessionByID(ctx, id)
	}
	var latest *game.Session
	for _, sid := range candidates {
		s, err := st.SessionByID(ctx, sid)
		if err != nil {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, game.ErrSessionNotFound
	}
	return latest, nil
}

func (st *Store) ListSessions(ctx context.Context, phases []game.Phase) ([]*game.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	var out []*game.Session
	for _, id := range ids {
		s, err := st.SessionByID(ctx, id)
		if err != nil {
			continue
		}
		if len(phases) > 0 && !phaseIn(s.Phase, phases) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (st *Store) ExpiredWaiting(ctx context.Context, now time.Time) ([]string, error) {
	waiting, err := st.ListSessions(ctx, []game.Phase{game.PhaseWaiting})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range waiting {
		if !now.Before(s.ExpiresAt) {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (st *Store) Roster(ctx context.Context, sessionID string) ([]game.Participant, error) {
	rec, err := st.record(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return sortedRoster(rec.roster, nil), nil
}

func (st *Store) Layers(ctx context.Context, sessionID string) ([]game.ArtifactLayer, error) {
	rec, err := st.record(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := append([]game.ArtifactLayer{}, rec.layers...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].JoinOrder < out[j].JoinOrder
	})
	return out, nil
}

// Mutate holds the session's lock for the whole read-validate-write cycle.
// Staged writes commit only when fn succeeds; the active-code index entry is
// released when the session reaches a terminal phase.
func (st *Store) Mutate(ctx context.Context, sessionID string, fn func(tx game.Txn) error) error {
	rec, err := st.record(ctx, sessionID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	tx := &txn{rec: rec, session: rec.session}
	if err := fn(tx); err != nil {
		return err
	}

	wasTerminal := rec.session.Phase.Terminal()
	rec.session = tx.session
	rec.roster = append(rec.roster, tx.added...)
	rec.layers = append(rec.layers, tx.appended...)
	if !wasTerminal && tx.session.Phase.Terminal() {
		st.mu.Lock()
		if st.codes[tx.session.Code] == sessionID {
			delete(st.codes, tx.session.Code)
		}
		st.mu.Unlock()
	}
	return nil
}

func (st *Store) record(ctx context.Context, id string) (*record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.mu.RLock()
	rec, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return rec, nil
}

type txn struct {
	rec      *record
	session  game.Session
	added    []game.Participant
	appended []game.ArtifactLayer
}

func (t *txn) Session() *game.Session { return &t.session }

func (t *txn) Roster() ([]game.Participant, error) {
	return sortedRoster(t.rec.roster, t.added), nil
}

func (t *txn) AddParticipant(p game.Participant) error {
	t.added = append(t.added, p)
	return nil
}

func (t *txn) AppendLayer(l game.ArtifactLayer) error {
	for _, have := range t.rec.layers {
		if have.Round == l.Round && have.JoinOrder == l.JoinOrder {
			return game.ErrDuplicateContribution
		}
	}
	for _, have := range t.appended {
		if have.Round == l.Round && have.JoinOrder == l.JoinOrder {
			return game.ErrDuplicateContribution
		}
	}
	t.appended = append(t.appended, l)
	return nil
}

func sortedRoster(roster, staged []game.Participant) []game.Participant {
	out := append([]game.Participant{}, roster...)
	out = append(out, staged...)
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

func phaseIn(p game.Phase, phases []game.Phase) bool {
	for _, q := range phases {
		if p == q {
			return true
		}
	}
	return false
}
