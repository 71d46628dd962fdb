package session

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which engine owns a session.
type Kind string

const (
	KindDuel      Kind = "duel"
	KindGroup     Kind = "group"
	KindTurnCycle Kind = "turncycle"
	KindVoteQuest Kind = "votequest"
)

// State is the lifecycle state of a session. Each kind uses its own
// subset; terminal states are shared across kinds.
type State string

const (
	// duel
	StatePending  State = "PENDING"
	StateResolved State = "RESOLVED"
	StateDeclined State = "DECLINED"
	StateExpired  State = "EXPIRED"

	// group
	StateOpen   State = "OPEN"
	StateFull   State = "FULL"
	StateClosed State = "CLOSED"

	// turncycle
	StateWaiting State = "WAITING"
	StateEnded   State = "ENDED"

	// votequest
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"

	// duel (after accept), turncycle (after start), votequest (whole run)
	StateActive State = "ACTIVE"
)

// Terminal reports whether no further mutation is permitted.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateDeclined, StateExpired, StateClosed, StateEnded, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// Session is the persisted state of one multiplayer activity. Exactly one
// of the kind payloads is non-nil, matching Kind.
type Session struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Room         string   `json:"room"`
	State        State    `json:"state"`
	OwnerID      string   `json:"owner_id"`
	Participants []string `json:"participants"`

	// Display names by participant id, for rendering.
	Names map[string]string `json:"names,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Duel  *DuelState  `json:"duel,omitempty"`
	Group *GroupState `json:"group,omitempty"`
	Turn  *TurnState  `json:"turn,omitempty"`
	Quest *QuestState `json:"quest,omitempty"`
}

// DuelState is the kind-specific payload of a rock-paper-scissors match.
type DuelState struct {
	ChallengerID string            `json:"challenger_id"`
	OpponentID   string            `json:"opponent_id"`
	Moves        map[string]string `json:"moves,omitempty"`
	WinnerID     string            `json:"winner_id,omitempty"`
	Outcome      string            `json:"outcome,omitempty"`
}

// GroupState is the kind-specific payload of a looking-for-group post.
type GroupState struct {
	Capacity int    `json:"capacity"`
	Title    string `json:"title,omitempty"`
}

// TurnState is the kind-specific payload of a rotating-turn game.
type TurnState struct {
	Order     []string `json:"order,omitempty"`
	Index     int      `json:"index"`
	TurnCount int      `json:"turn_count"`
}

// QuestState is the kind-specific payload of a quorum-voted story.
type QuestState struct {
	Theme   string         `json:"theme"`
	Round   int            `json:"round"`
	Choices []string       `json:"choices"`
	Votes   map[string]int `json:"votes,omitempty"`
	Path    []int          `json:"path,omitempty"`
}

// NewID returns a fresh session id prefixed by kind.
func NewID(kind Kind) string {
	return string(kind) + "-" + uuid.NewString()
}

// HasParticipant reports whether id is already a member.
func (s *Session) HasParticipant(id string) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// AddParticipant appends id, rejecting duplicates.
func (s *Session) AddParticipant(id string) error {
	if s.HasParticipant(id) {
		return ErrAlreadyActed
	}
	s.Participants = append(s.Participants, id)
	return nil
}

// RemoveParticipant drops id from the member list, reporting whether it
// was present.
func (s *Session) RemoveParticipant(id string) bool {
	for i, p := range s.Participants {
		if p == id {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// SetName records a display name for a participant id.
func (s *Session) SetName(id, name string) {
	if name == "" || id == "" {
		return
	}
	if s.Names == nil {
		s.Names = make(map[string]string)
	}
	s.Names[id] = name
}

// Name returns the display name for id, falling back to the id itself.
func (s *Session) Name(id string) string {
	if n, ok := s.Names[id]; ok && n != "" {
		return n
	}
	return id
}

// Touch bumps UpdatedAt.
func (s *Session) Touch(now time.Time) { s.UpdatedAt = now }

// SetDeadline replaces the absolute expiry deadline.
func (s *Session) SetDeadline(t time.Time) { s.ExpiresAt = &t }

// ClearDeadline removes any expiry deadline.
func (s *Session) ClearDeadline() { s.ExpiresAt = nil }

// DeadlinePassed reports whether the session carries a deadline that is
// already behind now.
func (s *Session) DeadlinePassed(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Clone returns a deep copy, used for returning snapshots that outlive
// the per-session lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = append([]string(nil), s.Participants...)
	if s.Names != nil {
		out.Names = make(map[string]string, len(s.Names))
		for k, v := range s.Names {
			out.Names[k] = v
		}
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	if s.Duel != nil {
		d := *s.Duel
		if s.Duel.Moves != nil {
			d.Moves = make(map[string]string, len(s.Duel.Moves))
			for k, v := range s.Duel.Moves {
				d.Moves[k] = v
			}
		}
		out.Duel = &d
	}
	if s.Group != nil {
		g := *s.Group
		out.Group = &g
	}
	if s.Turn != nil {
		t := *s.Turn
		t.Order = append([]string(nil), s.Turn.Order...)
		out.Turn = &t
	}
	if s.Quest != nil {
		q := *s.Quest
		q.Choices = append([]string(nil), s.Quest.Choices...)
		q.Path = append([]int(nil), s.Quest.Path...)
		if s.Quest.Votes != nil {
			q.Votes = make(map[string]int, len(s.Quest.Votes))
			for k, v := range s.Quest.Votes {
				q.Votes[k] = v
			}
		}
		out.Quest = &q
	}
	return &out
}
