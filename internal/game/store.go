package game

import (
	"context"
	"time"
)

// Store is the persistence boundary for sessions, rosters and artifact
// layers. Implementations must serialize Mutate calls per session while
// letting different sessions proceed in parallel, and must enforce
// uniqueness of active join codes and of (session, round, joinOrder)
// artifact layers.
type Store interface {
	// CreateSession persists a new session, failing with ErrCodeTaken if its
	// code collides with another non-terminal session's code.
	CreateSession(ctx context.Context, s *Session) error

	SessionByID(ctx context.Context, id string) (*Session, error)

	// SessionByCode resolves a join code, preferring the non-terminal session
	// holding it.
	SessionByCode(ctx context.Context, code string) (*Session, error)

	// ListSessions returns sessions newest first, optionally filtered by phase.
	ListSessions(ctx context.Context, phases []Phase) ([]*Session, error)

	// ExpiredWaiting returns IDs of Waiting sessions whose expiry has passed.
	ExpiredWaiting(ctx context.Context, now time.Time) ([]string, error)

	// Roster returns participants ordered by join order.
	Roster(ctx context.Context, sessionID string) ([]Participant, error)

	// Layers returns artifact layers ordered by (round, joinOrder).
	Layers(ctx context.Context, sessionID string) ([]ArtifactLayer, error)

	// Mutate runs fn inside the session's exclusive critical section. Edits to
	// the Txn's session and its staged writes commit only when fn returns nil;
	// any error discards them. This is the atomic read-validate-write boundary
	// every transition relies on.
	Mutate(ctx context.Context, sessionID string, fn func(tx Txn) error) error
}

// Txn is the mutable view of one session during a Mutate call.
type Txn interface {
	// Session returns the session record for reading and editing.
	Session() *Session

	// Roster returns participants ordered by join order, including ones added
	// earlier in this transaction.
	Roster() ([]Participant, error)

	// AddParticipant stages a new roster slot.
	AddParticipant(p Participant) error

	// AppendLayer stages a contribution, failing with ErrDuplicateContribution
	// if a layer for (round, joinOrder) already exists.
	AppendLayer(l ArtifactLayer) error
}

// TopicSource supplies candidate topic strings for the ChoosingTopic phase.
// A source may be empty or unavailable; the coordinator falls back to a
// built-in default set.
type TopicSource interface {
	Candidates(ctx context.Context, n int) ([]string, error)
}
