// Package duel implements the two-party simultaneous-move match:
// challenge/accept/decline plus rock-paper-scissors resolution.
package duel

import (
	"strings"
	"time"

	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

// Move is one of the three legal throws.
type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// ParseMove accepts the canonical names and common shorthands.
func ParseMove(s string) (Move, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rock", "r":
		return Rock, nil
	case "paper", "p":
		return Paper, nil
	case "scissors", "scissor", "s":
		return Scissors, nil
	}
	return "", session.Validationf("unknown move %q", s)
}

// beats maps each move to the move it defeats.
var beats = map[Move]Move{
	Rock:     Scissors,
	Paper:    Rock,
	Scissors: Paper,
}

// RewardTier grades what each side earned. The XP arithmetic itself is
// the leveling system's business; the engine only names the tier.
type RewardTier string

const (
	RewardFull    RewardTier = "full"
	RewardMinor   RewardTier = "minor"
	RewardReduced RewardTier = "reduced"
)

// Reward is one participant's earned tier from a resolved duel.
type Reward struct {
	UserID string
	Tier   RewardTier
}

// Outcome is the deterministic result of two submitted moves.
type Outcome struct {
	Tie      bool
	WinnerID string
	LoserID  string
	Rewards  []Reward
}

// Resolve is a pure function of the two moves. Resolve(a,b) and
// Resolve(b,a) produce swapped winners, and identical moves always tie.
func Resolve(challengerID string, challengerMove Move, opponentID string, opponentMove Move) Outcome {
	if challengerMove == opponentMove {
		return Outcome{
			Tie: true,
			Rewards: []Reward{
				{UserID: challengerID, Tier: RewardReduced},
				{UserID: opponentID, Tier: RewardReduced},
			},
		}
	}
	winner, loser := challengerID, opponentID
	if beats[opponentMove] == challengerMove {
		winner, loser = opponentID, challengerID
	}
	return Outcome{
		WinnerID: winner,
		LoserID:  loser,
		Rewards: []Reward{
			{UserID: winner, Tier: RewardFull},
			{UserID: loser, Tier: RewardMinor},
		},
	}
}

// Challenge creates a pending duel with a response deadline. The
// challenger and opponent are the only participants for the session's
// whole lifetime.
func Challenge(room, challengerID, opponentID string, now time.Time, respondBy time.Duration) (*session.Session, error) {
	if challengerID == "" || opponentID == "" {
		return nil, session.Validationf("challenger and opponent required")
	}
	if challengerID == opponentID {
		return nil, session.Validationf("cannot challenge yourself")
	}
	s := &session.Session{
		ID:           session.NewID(session.KindDuel),
		Kind:         session.KindDuel,
		Room:         room,
		State:        session.StatePending,
		OwnerID:      challengerID,
		Participants: []string{challengerID, opponentID},
		CreatedAt:    now,
		UpdatedAt:    now,
		Duel: &session.DuelState{
			ChallengerID: challengerID,
			OpponentID:   opponentID,
			Moves:        make(map[string]string),
		},
	}
	s.SetDeadline(now.Add(respondBy))
	return s, nil
}

// Accept transitions pending → active and replaces the response deadline
// with the shorter move deadline. Only the challenged opponent may accept.
func Accept(s *session.Session, actorID string, now time.Time, moveBy time.Duration) error {
	if err := gate(s, session.StatePending); err != nil {
		return err
	}
	if actorID != s.Duel.OpponentID {
		return session.Forbiddenf("only the challenged player may accept")
	}
	s.State = session.StateActive
	s.SetDeadline(now.Add(moveBy))
	s.Touch(now)
	return nil
}

// Decline terminates a pending duel with no rewards. Only the challenged
// opponent may decline.
func Decline(s *session.Session, actorID string, now time.Time) error {
	if err := gate(s, session.StatePending); err != nil {
		return err
	}
	if actorID != s.Duel.OpponentID {
		return session.Forbiddenf("only the challenged player may decline")
	}
	s.State = session.StateDeclined
	s.ClearDeadline()
	s.Touch(now)
	return nil
}

// SubmitMove records a throw for actorID. When both moves are present the
// duel resolves immediately and the outcome is returned; until then the
// outcome is nil.
func SubmitMove(s *session.Session, actorID string, mv Move, now time.Time) (*Outcome, error) {
	if err := gate(s, session.StateActive); err != nil {
		return nil, err
	}
	if !s.HasParticipant(actorID) {
		return nil, session.ErrForbidden
	}
	if _, dup := s.Duel.Moves[actorID]; dup {
		return nil, session.ErrAlreadyActed
	}
	s.Duel.Moves[actorID] = string(mv)
	s.Touch(now)
	if len(s.Duel.Moves) < 2 {
		return nil, nil
	}

	cm := Move(s.Duel.Moves[s.Duel.ChallengerID])
	om := Move(s.Duel.Moves[s.Duel.OpponentID])
	out := Resolve(s.Duel.ChallengerID, cm, s.Duel.OpponentID, om)
	s.State = session.StateResolved
	s.Duel.WinnerID = out.WinnerID
	if out.Tie {
		s.Duel.Outcome = "tie"
	} else {
		s.Duel.Outcome = "win"
	}
	s.ClearDeadline()
	return &out, nil
}

// Expire applies the deadline transition: pending → declined-equivalent,
// active with incomplete moves → expired. No rewards either way, even if
// one move was already in.
func Expire(s *session.Session, now time.Time) error {
	if s == nil || s.Kind != session.KindDuel || s.Duel == nil {
		return session.ErrNotFound
	}
	switch s.State {
	case session.StatePending:
		s.State = session.StateDeclined
	case session.StateActive:
		s.State = session.StateExpired
	default:
		return session.ErrInvalidState
	}
	s.ClearDeadline()
	s.Touch(now)
	return nil
}

func gate(s *session.Session, want session.State) error {
	if s == nil || s.Kind != session.KindDuel || s.Duel == nil {
		return session.ErrNotFound
	}
	if s.State != want {
		return session.ErrInvalidState
	}
	return nil
}
