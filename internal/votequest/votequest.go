// Package votequest implements the quorum-voted collaborative story: a
// fixed number of rounds, three choices per round, and a majority quorum
// that resolves a round the moment it is reached.
package votequest

import (
	"time"

	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

// RoundResult describes one resolved round.
type RoundResult struct {
	Round     int
	Winning   int // 1-based winning choice index
	Choice    string
	VoteCount int
	Completed bool // true when this was the final round
}

// Create seeds round 1 with the creator as sole participant.
func Create(room, creatorID, theme string, now time.Time, roundBy time.Duration) (*session.Session, error) {
	if creatorID == "" {
		return nil, session.Validationf("creator required")
	}
	theme = normalizeTheme(theme)
	ch := chapterFor(theme, 1)
	s := &session.Session{
		ID:           session.NewID(session.KindVoteQuest),
		Kind:         session.KindVoteQuest,
		Room:         room,
		State:        session.StateActive,
		OwnerID:      creatorID,
		Participants: []string{creatorID},
		CreatedAt:    now,
		UpdatedAt:    now,
		Quest: &session.QuestState{
			Theme:   theme,
			Round:   1,
			Choices: ch.choices[:],
			Votes:   make(map[string]int),
		},
	}
	s.SetDeadline(now.Add(roundBy))
	return s, nil
}

// Join admits actorID while the quest runs. No quorum gates joining.
func Join(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateActive {
		return session.ErrInvalidState
	}
	if err := s.AddParticipant(actorID); err != nil {
		return err
	}
	s.Touch(now)
	return nil
}

// Quorum is the vote count that resolves a round: ceil(participants/2).
func Quorum(s *session.Session) int {
	return (len(s.Participants) + 1) / 2
}

// Vote records a 1-based choice for actorID, overwriting any earlier vote
// in the same round (revoting is allowed, not a duplicate action). When
// the quorum is reached the round resolves immediately: the winning
// choice is the one with the strictly largest count, ties going to the
// smaller index. A non-final round advances and re-arms the deadline; the
// final round completes the quest.
func Vote(s *session.Session, actorID string, choice int, now time.Time, roundBy time.Duration) (*RoundResult, error) {
	if err := check(s); err != nil {
		return nil, err
	}
	if s.State != session.StateActive {
		return nil, session.ErrInvalidState
	}
	if !s.HasParticipant(actorID) {
		return nil, session.ErrForbidden
	}
	if choice < 1 || choice > len(s.Quest.Choices) {
		return nil, session.Validationf("choice must be between 1 and %d", len(s.Quest.Choices))
	}
	s.Quest.Votes[actorID] = choice
	s.Touch(now)
	if len(s.Quest.Votes) < Quorum(s) {
		return nil, nil
	}

	winning := tally(s.Quest.Votes, len(s.Quest.Choices))
	res := &RoundResult{
		Round:     s.Quest.Round,
		Winning:   winning,
		Choice:    s.Quest.Choices[winning-1],
		VoteCount: len(s.Quest.Votes),
	}
	s.Quest.Path = append(s.Quest.Path, winning)
	s.Quest.Votes = make(map[string]int)

	if s.Quest.Round >= MaxRounds {
		s.State = session.StateCompleted
		s.ClearDeadline()
		res.Completed = true
		return res, nil
	}
	s.Quest.Round++
	ch := chapterFor(s.Quest.Theme, s.Quest.Round)
	s.Quest.Choices = ch.choices[:]
	s.SetDeadline(now.Add(roundBy))
	return res, nil
}

// tally picks the 1-based choice with the largest count; on equal counts
// the smaller index wins, deterministically.
func tally(votes map[string]int, choices int) int {
	counts := make([]int, choices+1)
	for _, c := range votes {
		if c >= 1 && c <= choices {
			counts[c]++
		}
	}
	best := 1
	for c := 2; c <= choices; c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

// Cancel terminates the quest. Owner-only; cancelling twice reports
// InvalidState.
func Cancel(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateActive {
		return session.ErrInvalidState
	}
	if actorID != s.OwnerID {
		return session.Forbiddenf("only the quest creator may cancel it")
	}
	s.State = session.StateCancelled
	s.ClearDeadline()
	s.Touch(now)
	return nil
}

// Expire handles a round deadline that elapsed without quorum: the quest
// is cancelled rather than left hanging.
func Expire(s *session.Session, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateActive {
		return session.ErrInvalidState
	}
	s.State = session.StateCancelled
	s.ClearDeadline()
	s.Touch(now)
	return nil
}

// Prompt returns the canned narration for the current round.
func Prompt(s *session.Session) string {
	if s == nil || s.Quest == nil {
		return ""
	}
	return chapterFor(s.Quest.Theme, s.Quest.Round).prompt
}

func check(s *session.Session) error {
	if s == nil || s.Kind != session.KindVoteQuest || s.Quest == nil {
		return session.ErrNotFound
	}
	return nil
}
