// Package turncycle implements the rotating-turn game: a lobby that the
// owner starts, a shuffled turn order, and modular advance/skip.
package turncycle

import (
	"math/rand"
	"time"

	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

const (
	MinParticipants = 2
	MaxParticipants = 10
)

// Create opens a waiting lobby with the owner as first participant.
func Create(room, ownerID string, now time.Time) (*session.Session, error) {
	if ownerID == "" {
		return nil, session.Validationf("owner required")
	}
	return &session.Session{
		ID:           session.NewID(session.KindTurnCycle),
		Kind:         session.KindTurnCycle,
		Room:         room,
		State:        session.StateWaiting,
		OwnerID:      ownerID,
		Participants: []string{ownerID},
		CreatedAt:    now,
		UpdatedAt:    now,
		Turn:         &session.TurnState{},
	}, nil
}

// Join admits actorID while the lobby is waiting and below capacity.
func Join(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateWaiting {
		return session.ErrInvalidState
	}
	if len(s.Participants) >= MaxParticipants {
		return session.ErrInvalidState
	}
	if err := s.AddParticipant(actorID); err != nil {
		return err
	}
	s.Touch(now)
	return nil
}

// Start shuffles the participants into the turn order and activates the
// cycle. Owner-only, needs at least two players.
func Start(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateWaiting {
		return session.ErrInvalidState
	}
	if actorID != s.OwnerID {
		return session.Forbiddenf("only the owner may start the cycle")
	}
	if len(s.Participants) < MinParticipants {
		return session.Validationf("need at least %d participants to start", MinParticipants)
	}
	order := append([]string(nil), s.Participants...)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	s.Turn.Order = order
	s.Turn.Index = 0
	s.Turn.TurnCount = 0
	s.State = session.StateActive
	s.Touch(now)
	return nil
}

// Advance moves to the next participant in the cycle. Any participant may
// advance; the engine does not police whose "turn" triggers it.
func Advance(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateActive {
		return session.ErrInvalidState
	}
	if !s.HasParticipant(actorID) {
		return session.ErrForbidden
	}
	s.Turn.Index = (s.Turn.Index + 1) % len(s.Turn.Order)
	s.Turn.TurnCount++
	s.Touch(now)
	return nil
}

// Skip is the same rotation as Advance; the distinct name exists so the
// coordinator can log it as a skip for the audit trail.
func Skip(s *session.Session, actorID string, now time.Time) error {
	return Advance(s, actorID, now)
}

// Leave removes actorID, re-deriving the turn order as the filtered
// sequence and clamping the index so it never references the removed
// participant. If the cycle drops below two players it ends.
func Leave(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateWaiting && s.State != session.StateActive {
		return session.ErrInvalidState
	}
	if !s.RemoveParticipant(actorID) {
		return session.ErrForbidden
	}
	if s.State == session.StateActive {
		current := ""
		if len(s.Turn.Order) > 0 {
			current = s.Turn.Order[s.Turn.Index]
		}
		order := s.Turn.Order[:0]
		for _, p := range s.Turn.Order {
			if p != actorID {
				order = append(order, p)
			}
		}
		s.Turn.Order = order
		if len(order) < MinParticipants {
			s.Turn.Index = 0
			s.State = session.StateEnded
			s.Touch(now)
			return nil
		}
		// keep pointing at the same participant when they survive the
		// filter, otherwise stay at the same position modulo the new length
		s.Turn.Index = 0
		if current != "" && current != actorID {
			for i, p := range order {
				if p == current {
					s.Turn.Index = i
					break
				}
			}
		} else if len(order) > 0 {
			s.Turn.Index = s.Turn.Index % len(order)
		}
	}
	s.Touch(now)
	return nil
}

// End terminates the cycle. Owner-only, legal from waiting or active.
func End(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateWaiting && s.State != session.StateActive {
		return session.ErrInvalidState
	}
	if actorID != s.OwnerID {
		return session.Forbiddenf("only the owner may end the cycle")
	}
	s.State = session.StateEnded
	s.Touch(now)
	return nil
}

// Current returns the participant whose turn it is, or "" before start.
func Current(s *session.Session) string {
	if s == nil || s.Turn == nil || len(s.Turn.Order) == 0 {
		return ""
	}
	if s.Turn.Index < 0 || s.Turn.Index >= len(s.Turn.Order) {
		return ""
	}
	return s.Turn.Order[s.Turn.Index]
}

func check(s *session.Session) error {
	if s == nil || s.Kind != session.KindTurnCycle || s.Turn == nil {
		return session.ErrNotFound
	}
	return nil
}
