package partydto

import "time"

// SessionSnapshot is the externally visible state of one session,
// decoupled from the engine's internal types.
type SessionSnapshot struct {
	ID           string
	Kind         string
	Room         string
	State        string
	OwnerID      string
	OwnerName    string
	Participants []string
	Names        map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    *time.Time

	// group
	Capacity int
	Title    string

	// turncycle
	CurrentID string
	TurnCount int

	// votequest
	Round   int
	Choices []string

	// duel
	ChallengerID string
	OpponentID   string
	WinnerID     string
}
