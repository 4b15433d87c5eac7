package game

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// defaultTopics backs ChoosingTopic when no external source is configured or
// the source comes back empty.
var defaultTopics = []string{
	"A magical creature",
	"A futuristic city",
	"Something silly",
}

const (
	topicChoices = 3
	storeTimeout = 5 * time.Second
)

// Coordinator owns every session state transition. Each mutating operation
// runs inside the store's per-session critical section: guards are checked
// against the same snapshot the mutation is applied to, so a rejected call
// never leaves partial state behind. Accepted transitions bump the session
// version and publish a full snapshot through the hub.
type Coordinator struct {
	store  Store
	topics TopicSource
	hub    *Hub
	clock  *TurnClock

	exportFile string
	now        func() time.Time
}

type Option func(*Coordinator)

// WithExportFile appends an artifact manifest to path whenever a session
// completes.
func WithExportFile(path string) Option {
	return func(c *Coordinator) { c.exportFile = path }
}

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires a coordinator over the given store. topics may be nil.
func NewCoordinator(store Store, topics TopicSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		topics: topics,
		hub:    NewHub(),
		now:    time.Now,
	}
	c.clock = NewTurnClock(c.onDeadline)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Create allocates a session in Waiting with a fresh join code. The creator
// does not hold a roster slot until they Join.
func (c *Coordinator) Create(ctx context.Context, creator string, set Settings) (Snapshot, error) {
	if set.TotalRounds == 0 {
		set.TotalRounds = DefaultRounds
	}
	if set.Capacity < MinCapacity || set.Capacity > MaxCapacity ||
		set.TurnSeconds < MinTurnSeconds || set.TurnSeconds > MaxTurnSeconds ||
		set.TotalRounds < 1 {
		return Snapshot{}, ErrInvalidSettings
	}

	now := c.now().UTC()
	s := &Session{
		ID:          uuid.NewString(),
		Title:       set.Title,
		CreatorID:   creator,
		Capacity:    set.Capacity,
		TurnSeconds: set.TurnSeconds,
		TotalRounds: set.TotalRounds,
		Phase:       PhaseWaiting,
		Version:     1,
		CreatedAt:   now,
		ExpiresAt:   now.Add(sessionTTL),
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		s.Code = generateCode()
		err := c.store.CreateSession(ctx, s)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return Snapshot{}, err
		}
		log.Info().Str("code", s.Code).Str("sessionId", s.ID).
			Int("capacity", s.Capacity).Int("turnSeconds", s.TurnSeconds).
			Msg("session created")
		return c.buildSnapshot(s, nil), nil
	}
	return Snapshot{}, ErrCodeExhausted
}

// Join adds identity to the roster, assigning the next join order atomically
// with the capacity check. An identity that already holds a slot gets its
// existing participant back with no error, regardless of phase, which also
// serves reconnects.
func (c *Coordinator) Join(ctx context.Context, sessionID, identity, name string) (Participant, Snapshot, error) {
	var (
		joined Participant
		snap   Snapshot
		fresh  bool
	)
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := c.store.Mutate(ctx, sessionID, func(tx Txn) error {
		s := tx.Session()
		roster, err := tx.Roster()
		if err != nil {
			return err
		}
		for _, p := range roster {
			if p.Identity == identity {
				joined = p
				snap = c.buildSnapshot(s, roster)
				return nil
			}
		}
		if s.Phase != PhaseWaiting {
			return ErrSessionNotJoinable
		}
		if len(roster) >= s.Capacity {
			return ErrSessionFull
		}
		joined = Participant{
			SessionID: s.ID,
			Identity:  identity,
			Name:      name,
			JoinOrder: len(roster),
			JoinedAt:  c.now().UTC(),
		}
		if err := tx.AddParticipant(joined); err != nil {
			return err
		}
		s.Version++
		fresh = true
		snap = c.buildSnapshot(s, append(roster, joined))
		return nil
	})
	if err != nil {
		return Participant{}, Snapshot{}, err
	}
	if fresh {
		log.Info().Str("sessionId", sessionID).Str("player", name).
			Int("joinOrder", joined.JoinOrder).Msg("player joined")
		c.hub.Publish(snap)
	}
	return joined, snap, nil
}

// Start moves the session to ChoosingTopic with three candidate topics
// attached. Only the creator may start, and only with at least two players.
func (c *Coordinator) Start(ctx context.Context, sessionID, requester string) (Snapshot, error) {
	// fetched outside the critical section: the source may be remote
	options := c.candidateTopics(ctx)

	var snap Snapshot
	mctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := c.store.Mutate(mctx, sessionID, func(tx Txn) error {
		s := tx.Session()
		if s.CreatorID != requester {
			return ErrForbidden
		}
		if s.Phase != PhaseWaiting {
			return ErrInvalidPhase
		}
		roster, err := tx.Roster()
		if err != nil {
			return err
		}
		if len(roster) < MinCapacity {
			return ErrNotEnoughPlayers
		}
		s.Phase = PhaseChoosingTopic
		s.CurrentRound = 1
		s.ActiveTurnIndex = 0
		s.TopicOptions = options
		s.Version++
		snap = c.buildSnapshot(s, roster)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	log.Info().Str("sessionId", sessionID).Strs("topics", options).Msg("session started")
	c.hub.Publish(snap)
	return snap, nil
}

// ChooseTopic fixes the topic and begins the first drawing turn. Only the
// first player in the rotation may choose.
func (c *Coordinator) ChooseTopic(ctx context.Context, sessionID, requester, topic string) (Snapshot, error) {
	var snap Snapshot
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := c.store.Mutate(ctx, sessionID, func(tx Txn) error {
		s := tx.Session()
		if s.Phase != PhaseChoosingTopic {
			return ErrInvalidPhase
		}
		roster, err := tx.Roster()
		if err != nil {
			return err
		}
		if roster[s.ActiveTurnIndex].Identity != requester {
			return ErrNotYourTurn
		}
		valid := false
		for _, t := range s.TopicOptions {
			if t == topic {
				valid = true
				break
			}
		}
		if !valid {
			return ErrInvalidTopic
		}
		s.Topic = topic
		s.TopicOptions = nil
		s.Phase = PhaseDrawing
		s.TurnStartedAt = c.now().UTC()
		s.Version++
		snap = c.buildSnapshot(s, roster)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	log.Info().Str("sessionId", sessionID).Str("topic", topic).Msg("topic chosen")
	c.armTurn(snap.Session)
	c.hub.Publish(snap)
	return snap, nil
}

// CompleteTurn records the active participant's contribution and advances
// the rotation. key must identify the session's current turn exactly; a
// stale key means the turn already advanced (the clock fired first, or
// another call won) and the request is reported as ErrAlreadyAdvanced
// without touching state.
func (c *Coordinator) CompleteTurn(ctx context.Context, sessionID string, key TurnKey, payload string) (Snapshot, error) {
	var (
		snap      Snapshot
		completed bool
	)
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := c.store.Mutate(ctx, sessionID, func(tx Txn) error {
		s := tx.Session()
		switch s.Phase {
		case PhaseDrawing:
			if !key.Matches(s) {
				return ErrAlreadyAdvanced
			}
		case PhaseCompleted:
			return ErrAlreadyAdvanced
		default:
			return ErrInvalidPhase
		}
		roster, err := tx.Roster()
		if err != nil {
			return err
		}
		active := roster[s.ActiveTurnIndex]
		if err := tx.AppendLayer(ArtifactLayer{
			ID:        uuid.NewString(),
			SessionID: s.ID,
			Round:     s.CurrentRound,
			JoinOrder: active.JoinOrder,
			Payload:   payload,
			CreatedAt: c.now().UTC(),
		}); err != nil {
			return err
		}
		next := (s.ActiveTurnIndex + 1) % len(roster)
		if next == 0 {
			s.CurrentRound++
		}
		if s.CurrentRound > s.TotalRounds {
			s.Phase = PhaseCompleted
			completed = true
		} else {
			s.ActiveTurnIndex = next
			s.TurnStartedAt = c.now().UTC()
		}
		s.Version++
		snap = c.buildSnapshot(s, roster)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if completed {
		c.clock.Disarm(sessionID)
		log.Info().Str("sessionId", sessionID).Msg("session completed")
		c.exportCompleted(ctx, snap)
	} else {
		c.armTurn(snap.Session)
		log.Info().Str("sessionId", sessionID).
			Int("round", snap.Session.CurrentRound).
			Int("turn", snap.Session.ActiveTurnIndex).Msg("turn advanced")
	}
	c.hub.Publish(snap)
	return snap, nil
}

// ExpireIfWaiting cancels a Waiting session past its expiry. Idempotent: a
// session in any other phase, or not yet expired, is left untouched.
func (c *Coordinator) ExpireIfWaiting(ctx context.Context, sessionID string) (bool, error) {
	var (
		snap    Snapshot
		expired bool
	)
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	err := c.store.Mutate(ctx, sessionID, func(tx Txn) error {
		s := tx.Session()
		if s.Phase != PhaseWaiting || c.now().Before(s.ExpiresAt) {
			return nil
		}
		s.Phase = PhaseCancelled
		s.Version++
		expired = true
		roster, err := tx.Roster()
		if err != nil {
			return err
		}
		snap = c.buildSnapshot(s, roster)
		return nil
	})
	if err != nil || !expired {
		return false, err
	}
	log.Info().Str("sessionId", sessionID).Msg("waiting session expired")
	c.hub.Publish(snap)
	return true, nil
}

// SweepExpired cancels every Waiting session past its expiry and returns how
// many it cancelled. Driven by the scheduler in cmd/server.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	ids, err := c.store.ExpiredWaiting(lctx, c.now())
	cancel()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := c.ExpireIfWaiting(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("expiry sweep failed for session")
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Snapshot returns the current full state of a session.
func (c *Coordinator) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	s, err := c.store.SessionByID(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	roster, err := c.store.Roster(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return c.buildSnapshot(s, roster), nil
}

// SnapshotByCode resolves a join code to its session's current full state.
func (c *Coordinator) SnapshotByCode(ctx context.Context, code string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	s, err := c.store.SessionByCode(ctx, code)
	if err != nil {
		return Snapshot{}, err
	}
	roster, err := c.store.Roster(ctx, s.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return c.buildSnapshot(s, roster), nil
}

// ListSessions returns sessions newest first, optionally filtered by phase.
func (c *Coordinator) ListSessions(ctx context.Context, phases []Phase) ([]*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return c.store.ListSessions(ctx, phases)
}

// Assemble returns the final artifact: all layers ordered by
// (round, joinOrder). Defined only once the session is Completed.
func (c *Coordinator) Assemble(ctx context.Context, sessionID string) ([]ArtifactLayer, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	s, err := c.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Phase != PhaseCompleted {
		return nil, ErrNotCompleted
	}
	layers, err := c.store.Layers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(layers, func(i, j int) bool {
		if layers[i].Round != layers[j].Round {
			return layers[i].Round < layers[j].Round
		}
		return layers[i].JoinOrder < layers[j].JoinOrder
	})
	return layers, nil
}

// Subscribe registers an observer for a session's state snapshots.
func (c *Coordinator) Subscribe(sessionID string) (<-chan Snapshot, func()) {
	return c.hub.Subscribe(sessionID)
}

func (c *Coordinator) candidateTopics(ctx context.Context) []string {
	if c.topics != nil {
		tctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		opts, err := c.topics.Candidates(tctx, topicChoices)
		if err != nil {
			log.Warn().Err(err).Msg("topic source unavailable, falling back to defaults")
		} else if len(opts) >= topicChoices {
			return opts[:topicChoices]
		}
	}
	return append([]string(nil), defaultTopics...)
}

func (c *Coordinator) buildSnapshot(s *Session, roster []Participant) Snapshot {
	snap := Snapshot{Session: *s, Roster: append([]Participant{}, roster...)}
	snap.Session.TopicOptions = append([]string(nil), s.TopicOptions...)
	if s.Phase == PhaseDrawing {
		snap.Deadline = s.TurnStartedAt.Add(time.Duration(s.TurnSeconds) * time.Second)
	}
	return snap
}

// armTurn schedules the deadline from the authoritative turn-start timestamp
// rather than from local elapsed time, so a restarted or lagging process
// computes the same absolute deadline.
func (c *Coordinator) armTurn(s Session) {
	deadline := s.TurnStartedAt.Add(time.Duration(s.TurnSeconds) * time.Second)
	c.clock.Arm(s.ID, CurrentTurnKey(&s), deadline.Sub(c.now()))
}

// onDeadline is the turn clock's callback: complete the turn with an empty
// contribution. Losing the race against an explicit completion is the
// expected quiet outcome.
func (c *Coordinator) onDeadline(sessionID string, key TurnKey) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	_, err := c.CompleteTurn(ctx, sessionID, key, "")
	switch {
	case err == nil:
		log.Info().Str("sessionId", sessionID).Int("round", key.Round).
			Int("turn", key.TurnIndex).Msg("turn timed out")
	case errors.Is(err, ErrAlreadyAdvanced):
	default:
		log.Error().Err(err).Str("sessionId", sessionID).Msg("deadline completion failed")
	}
}

func (c *Coordinator) exportCompleted(ctx context.Context, snap Snapshot) {
	if c.exportFile == "" {
		return
	}
	layers, err := c.Assemble(ctx, snap.Session.ID)
	if err == nil {
		err = ExportArtifact(snap, layers, c.exportFile)
	}
	if err != nil {
		log.Error().Err(err).Str("sessionId", snap.Session.ID).Msg("failed to export artifact")
		return
	}
	log.Info().Str("sessionId", snap.Session.ID).Str("file", c.exportFile).Msg("exported artifact")
}
