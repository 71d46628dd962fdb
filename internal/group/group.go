// Package group implements the looking-for-group post: capacity-bounded
// membership with an owner-only close. Groups never expire on a timer.
package group

import (
	"strings"
	"time"

	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

// Capacity bounds for a post. The lower bound exists because a group of
// one is just the owner talking to themselves.
const (
	MinCapacity = 2
	MaxCapacity = 20
)

// Create opens a post with the owner as its first member.
func Create(room, ownerID string, capacity int, title string, now time.Time) (*session.Session, error) {
	if ownerID == "" {
		return nil, session.Validationf("owner required")
	}
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, session.Validationf("capacity must be between %d and %d", MinCapacity, MaxCapacity)
	}
	s := &session.Session{
		ID:           session.NewID(session.KindGroup),
		Kind:         session.KindGroup,
		Room:         room,
		State:        session.StateOpen,
		OwnerID:      ownerID,
		Participants: []string{ownerID},
		CreatedAt:    now,
		UpdatedAt:    now,
		Group: &session.GroupState{
			Capacity: capacity,
			Title:    strings.TrimSpace(title),
		},
	}
	return s, nil
}

// Join adds actorID while the post is open, flipping to FULL when the
// post-join size reaches capacity.
func Join(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateOpen {
		return session.ErrInvalidState
	}
	if err := s.AddParticipant(actorID); err != nil {
		return err
	}
	if len(s.Participants) >= s.Group.Capacity {
		s.State = session.StateFull
	}
	s.Touch(now)
	return nil
}

// Leave removes actorID; leaving a full post reopens it. The owner leaves
// like anyone else and keeps ownership of the post.
func Leave(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State != session.StateOpen && s.State != session.StateFull {
		return session.ErrInvalidState
	}
	if !s.RemoveParticipant(actorID) {
		return session.ErrForbidden
	}
	if s.State == session.StateFull {
		s.State = session.StateOpen
	}
	s.Touch(now)
	return nil
}

// Close is owner-only and absorbs from either non-terminal state. A
// second close reports InvalidState without touching the first.
func Close(s *session.Session, actorID string, now time.Time) error {
	if err := check(s); err != nil {
		return err
	}
	if s.State.Terminal() {
		return session.ErrInvalidState
	}
	if actorID != s.OwnerID {
		return session.Forbiddenf("only the post owner may close it")
	}
	s.State = session.StateClosed
	s.Touch(now)
	return nil
}

func check(s *session.Session) error {
	if s == nil || s.Kind != session.KindGroup || s.Group == nil {
		return session.ErrNotFound
	}
	return nil
}
