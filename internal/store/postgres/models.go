package postgres

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/drawchain/drawchain/internal/game"
)

// ActiveCode mirrors Code while the session is non-terminal and is nulled on
// completion or cancellation, so the unique index only constrains live
// sessions and codes can be reused afterwards.
type sessionRow struct {
	ID              string  `gorm:"primaryKey;size:36"`
	Code            string  `gorm:"size:6;not null;index"`
	ActiveCode      *string `gorm:"size:6;uniqueIndex"`
	Title           string  `gorm:"size:255"`
	CreatorID       string  `gorm:"size:64;not null"`
	Capacity        int     `gorm:"not null"`
	TurnSeconds     int     `gorm:"not null"`
	TotalRounds     int     `gorm:"not null"`
	Phase           string  `gorm:"size:32;not null;index"`
	CurrentRound    int
	ActiveTurnIndex int
	TopicOptions    datatypes.JSON
	Topic           string
	TurnStartedAt   time.Time
	Version         int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string { return "sessions" }

type participantRow struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:36;not null;uniqueIndex:idx_participant_order;uniqueIndex:idx_participant_identity"`
	Identity  string    `gorm:"size:64;not null;uniqueIndex:idx_participant_identity"`
	Name      string    `gorm:"size:255"`
	JoinOrder int       `gorm:"not null;uniqueIndex:idx_participant_order"`
	JoinedAt  time.Time `gorm:"not null"`
}

func (participantRow) TableName() string { return "participants" }

type layerRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	SessionID string    `gorm:"size:36;not null;uniqueIndex:idx_layer_slot"`
	Round     int       `gorm:"not null;uniqueIndex:idx_layer_slot"`
	JoinOrder int       `gorm:"not null;uniqueIndex:idx_layer_slot"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

func (layerRow) TableName() string { return "artifact_layers" }

type topicRow struct {
	ID   uint   `gorm:"primaryKey"`
	Text string `gorm:"size:255;not null"`
}

func (topicRow) TableName() string { return "topics" }

func toRow(s *game.Session) (*sessionRow, error) {
	var options datatypes.JSON
	if len(s.TopicOptions) > 0 {
		raw, err := json.Marshal(s.TopicOptions)
		if err != nil {
			return nil, err
		}
		options = raw
	}
	return &sessionRow{
		ID:              s.ID,
		Code:            s.Code,
		Title:           s.Title,
		CreatorID:       s.CreatorID,
		Capacity:        s.Capacity,
		TurnSeconds:     s.TurnSeconds,
		TotalRounds:     s.TotalRounds,
		Phase:           string(s.Phase),
		CurrentRound:    s.CurrentRound,
		ActiveTurnIndex: s.ActiveTurnIndex,
		TopicOptions:    options,
		Topic:           s.Topic,
		TurnStartedAt:   s.TurnStartedAt,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
	}, nil
}

func fromRow(r *sessionRow) (*game.Session, error) {
	var options []string
	if len(r.TopicOptions) > 0 {
		if err := json.Unmarshal(r.TopicOptions, &options); err != nil {
			return nil, err
		}
	}
	return &game.Session{
		ID:              r.ID,
		Code:            r.Code,
		Title:           r.Title,
		CreatorID:       r.CreatorID,
		Capacity:        r.Capacity,
		TurnSeconds:     r.TurnSeconds,
		TotalRounds:     r.TotalRounds,
		Phase:           game.Phase(r.Phase),
		CurrentRound:    r.CurrentRound,
		ActiveTurnIndex: r.ActiveTurnIndex,
		TopicOptions:    options,
		Topic:           r.Topic,
		TurnStartedAt:   r.TurnStartedAt,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}, nil
}

func toParticipantRow(p game.Participant) participantRow {
	return participantRow{
		SessionID: p.SessionID,
		Identity:  p.Identity,
		Name:      p.Name,
		JoinOrder: p.JoinOrder,
		JoinedAt:  p.JoinedAt,
	}
}

func (r participantRow) toParticipant() game.Participant {
	return game.Participant{
		SessionID: r.SessionID,
		Identity:  r.Identity,
		Name:      r.Name,
		JoinOrder: r.JoinOrder,
		JoinedAt:  r.JoinedAt,
	}
}

func toLayerRow(l game.ArtifactLayer) layerRow {
	return layerRow{
		ID:        l.ID,
		SessionID: l.SessionID,
		Round:     l.Round,
		JoinOrder: l.JoinOrder,
		Payload:   l.Payload,
		CreatedAt: l.CreatedAt,
	}
}

func (r layerRow) toLayer() game.ArtifactLayer {
	return game.ArtifactLayer{
		ID:        r.ID,
		SessionID: r.SessionID,
		Round:     r.Round,
		JoinOrder: r.JoinOrder,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
	}
}
