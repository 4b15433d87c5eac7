// Package postgres persists sessions in PostgreSQL via gorm. Uniqueness of
// active join codes and of (session, round, join_order) layers is enforced
// by unique indexes; per-session serialization uses a row lock inside a
// transaction.
package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drawchain/drawchain/internal/game"
)

type Store struct {
	db *gorm.DB
}

// Open connects and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sessionRow{}, &participantRow{}, &layerRow{}, &topicRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (st *Store) CreateSession(ctx context.Context, s *game.Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	code := s.Code
	row.ActiveCode = &code
	if err := st.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return game.ErrCodeTaken
		}
		return err
	}
	return nil
}

func (st *Store) SessionByID(ctx context.Context, id string) (*game.Session, error) {
	var row sessionRow
	err := st.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, game.ErrSessionNotFound
		}
		return nil, err
	}
	return fromRow(&row)
}

func (st *Store) SessionByCode(ctx context.Context, code string) (*game.Session, error) {
	var row sessionRow
	err := st.db.WithContext(ctx).First(&row, "active_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// terminal sessions keep their code; pick the most recent holder
		err = st.db.WithContext(ctx).
			Where("code = ?", code).
			Order("created_at DESC").
			First(&row).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, game.ErrSessionNotFound
		}
		return nil, err
	}
	return fromRow(&row)
}

func (st *Store) ListSessions(ctx context.Context, phases []game.Phase) ([]*game.Session, error) {
	q := st.db.WithContext(ctx).Order("created_at DESC")
	if len(phases) > 0 {
		names := make([]string, len(phases))
		for i, p := range phases {
			names[i] = string(p)
		}
		q = q.Where("phase IN ?", names)
	}
	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*game.Session, 0, len(rows))
	for i := range rows {
		s, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (st *Store) ExpiredWaiting(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := st.db.WithContext(ctx).Model(&sessionRow{}).
		Where("phase = ? AND expires_at <= ?", string(game.PhaseWaiting), now).
		Pluck("id", &ids).Error
	return ids, err
}

func (st *Store) Roster(ctx context.Context, sessionID string) ([]game.Participant, error) {
	var rows []participantRow
	err := st.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("join_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]game.Participant, len(rows))
	for i, r := range rows {
		out[i] = r.toParticipant()
	}
	return out, nil
}

func (st *Store) Layers(ctx context.Context, sessionID string) ([]game.ArtifactLayer, error) {
	var rows []layerRow
	err := st.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("round ASC, join_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]game.ArtifactLayer, len(rows))
	for i, r := range rows {
		out[i] = r.toLayer()
	}
	return out, nil
}

// Mutate locks the session row FOR UPDATE so concurrent transitions on the
// same session serialize at the database; fn's staged inserts happen inside
// the same transaction and roll back with it on error.
func (st *Store) Mutate(ctx context.Context, sessionID string, fn func(tx game.Txn) error) error {
	return st.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var row sessionRow
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", sessionID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return game.ErrSessionNotFound
			}
			return err
		}
		session, err := fromRow(&row)
		if err != nil {
			return err
		}
		tx := &txn{db: db, session: session}
		if err := fn(tx); err != nil {
			return err
		}
		update, err := toRow(tx.session)
		if err != nil {
			return err
		}
		if tx.session.Phase.Terminal() {
			update.ActiveCode = nil
		} else {
			code := tx.session.Code
			update.ActiveCode = &code
		}
		return db.Save(update).Error
	})
}

type txn struct {
	db      *gorm.DB
	session *game.Session
	roster  []game.Participant
	loaded  bool
}

func (t *txn) Session() *game.Session { return t.session }

func (t *txn) Roster() ([]game.Participant, error) {
	if t.loaded {
		return t.roster, nil
	}
	var rows []participantRow
	err := t.db.Where("session_id = ?", t.session.ID).
		Order("join_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	t.roster = make([]game.Participant, len(rows))
	for i, r := range rows {
		t.roster[i] = r.toParticipant()
	}
	t.loaded = true
	return t.roster, nil
}

func (t *txn) AddParticipant(p game.Participant) error {
	row := toParticipantRow(p)
	if err := t.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// another transaction claimed this slot; the row lock should
			// prevent this, but surface it as the full-roster conflict
			return game.ErrSessionFull
		}
		return err
	}
	if t.loaded {
		t.roster = append(t.roster, p)
	}
	return nil
}

func (t *txn) AppendLayer(l game.ArtifactLayer) error {
	row := toLayerRow(l)
	if err := t.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return game.ErrDuplicateContribution
		}
		return err
	}
	return nil
}

// Candidates implements the coordinator's topic source from the topics
// table, shuffled server-side.
func (st *Store) Candidates(ctx context.Context, n int) ([]string, error) {
	var out []string
	err := st.db.WithContext(ctx).Model(&topicRow{}).
		Order("RANDOM()").
		Limit(n).
		Pluck("text", &out).Error
	return out, err
}

// SeedTopics inserts topic strings if the table is empty.
func (st *Store) SeedTopics(ctx context.Context, topics []string) error {
	var count int64
	if err := st.db.WithContext(ctx).Model(&topicRow{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 || len(topics) == 0 {
		return nil
	}
	rows := make([]topicRow, len(topics))
	for i, t := range topics {
		rows[i] = topicRow{Text: t}
	}
	return st.db.WithContext(ctx).Create(&rows).Error
}
