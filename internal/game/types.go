package game

import (
	"time"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseWaiting       Phase = "Waiting"
	PhaseChoosingTopic Phase = "ChoosingTopic"
	PhaseDrawing       Phase = "Drawing"
	PhaseCompleted     Phase = "Completed"
	PhaseCancelled     Phase = "Cancelled"
)

// Terminal reports whether no further transitions are possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Limits for session settings. Sessions expire 24h after creation if they
// never leave Waiting.
const (
	MinCapacity    = 2
	MaxCapacity    = 10
	MinTurnSeconds = 10
	MaxTurnSeconds = 180
	DefaultRounds  = 3

	sessionTTL = 24 * time.Hour
)

// Settings are fixed at session creation.
type Settings struct {
	Title       string `json:"title"`
	Capacity    int    `json:"capacity"`
	TurnSeconds int    `json:"turnSeconds"`
	TotalRounds int    `json:"totalRounds"`
}

// Session is one collaborative drawing game instance. Which fields are
// meaningful depends on Phase: TopicOptions only exists in ChoosingTopic,
// Topic and TurnStartedAt only from Drawing onwards, and ActiveTurnIndex
// only while ChoosingTopic or Drawing.
type Session struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	CreatorID       string    `json:"-"`
	Capacity        int       `json:"capacity"`
	TurnSeconds     int       `json:"turnSeconds"`
	TotalRounds     int       `json:"totalRounds"`
	Phase           Phase     `json:"phase"`
	CurrentRound    int       `json:"currentRound"`
	ActiveTurnIndex int       `json:"activeTurnIndex"`
	TopicOptions    []string  `json:"topicOptions,omitempty"`
	Topic           string    `json:"topic,omitempty"`
	TurnStartedAt   time.Time `json:"turnStartedAt"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Participant is one roster slot bound to one identity. JoinOrder values for
// a session are contiguous from 0 and define the turn rotation.
type Participant struct {
	SessionID string    `json:"sessionId"`
	Identity  string    `json:"-"`
	Name      string    `json:"name"`
	JoinOrder int       `json:"joinOrder"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// ArtifactLayer is one immutable contribution: created exactly once per
// (session, round, participant), never mutated. The sequence of a session's
// layers ordered by (round, joinOrder) is the final artifact.
type ArtifactLayer struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Round     int       `json:"round"`
	JoinOrder int       `json:"joinOrder"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// TurnKey identifies exactly one turn. Callers derive it from the state they
// observed; CompleteTurn treats a key that no longer matches as a benign
// no-op, which is what makes a participant's explicit "done" race-safe
// against the turn clock's timeout.
type TurnKey struct {
	Phase     Phase `json:"phase"`
	Round     int   `json:"round"`
	TurnIndex int   `json:"turnIndex"`
}

// CurrentTurnKey returns the key for the session's current turn.
func CurrentTurnKey(s *Session) TurnKey {
	return TurnKey{Phase: s.Phase, Round: s.CurrentRound, TurnIndex: s.ActiveTurnIndex}
}

// Matches reports whether k identifies the session's current turn.
func (k TurnKey) Matches(s *Session) bool {
	return k == CurrentTurnKey(s)
}

// Snapshot is the full authoritative state published to observers after
// every accepted transition. Subscribers treat each snapshot as complete
// state, never as a diff. Deadline is zero outside Drawing; clients render
// deadline minus local now and never run their own countdown.
type Snapshot struct {
	Session  Session       `json:"session"`
	Roster   []Participant `json:"roster"`
	Deadline time.Time     `json:"deadline"`
}
