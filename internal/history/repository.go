// Package history archives terminal sessions to Postgres for the
// bounded retention window and records duel reward events for the
// leveling system. The bot runs without it when DATABASE_URL is unset.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/Party-KakaoTalk-bot/internal/duel"
	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one terminal session into the archive. Non-terminal
// sessions are ignored so a retried call cannot snapshot live state.
func (r *Repository) SaveResult(ctx context.Context, s *session.Session) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}
	if !s.State.Terminal() {
		return nil
	}

	participantsRaw, _ := json.Marshal(s.Participants)
	detailRaw, _ := json.Marshal(kindDetail(s))
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO party_sessions (
        session_id, kind, room, owner_id, final_state,
        participants, detail, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
      ) ON CONFLICT (session_id) DO UPDATE SET
        kind=EXCLUDED.kind,
        room=EXCLUDED.room,
        owner_id=EXCLUDED.owner_id,
        final_state=EXCLUDED.final_state,
        participants=EXCLUDED.participants,
        detail=EXCLUDED.detail,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		s.ID, string(s.Kind), s.Room, s.OwnerID, string(s.State),
		string(participantsRaw), string(detailRaw),
		s.CreatedAt, s.UpdatedAt, duration,
	)
	return err
}

// Award records one duel reward event. The leveling job consumes this
// table; the bot never computes XP itself.
func (r *Repository) Award(ctx context.Context, room, userID string, tier duel.RewardTier) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO party_rewards (room, user_id, tier, awarded_at) VALUES ($1,$2,$3,$4)`
	_, err := r.db.ExecContext(ctx, q, room, userID, string(tier), time.Now())
	return err
}

// kindDetail flattens the kind payload into the archive's detail column.
func kindDetail(s *session.Session) map[string]any {
	switch s.Kind {
	case session.KindDuel:
		if s.Duel == nil {
			return nil
		}
		return map[string]any{
			"challenger_id": s.Duel.ChallengerID,
			"opponent_id":   s.Duel.OpponentID,
			"moves":         s.Duel.Moves,
			"winner_id":     s.Duel.WinnerID,
			"outcome":       s.Duel.Outcome,
		}
	case session.KindGroup:
		if s.Group == nil {
			return nil
		}
		return map[string]any{
			"capacity": s.Group.Capacity,
			"title":    s.Group.Title,
		}
	case session.KindTurnCycle:
		if s.Turn == nil {
			return nil
		}
		return map[string]any{
			"turn_count": s.Turn.TurnCount,
			"order":      s.Turn.Order,
		}
	case session.KindVoteQuest:
		if s.Quest == nil {
			return nil
		}
		return map[string]any{
			"theme": s.Quest.Theme,
			"round": s.Quest.Round,
			"path":  s.Quest.Path,
		}
	}
	return nil
}
