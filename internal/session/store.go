package session

import "context"

// Store is the durable home of session state. Get returns (nil, nil)
// when the id is unknown or expired out of storage; the coordinator maps
// that to ErrNotFound.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	// FindActiveByOwner returns the most recently updated non-terminal
	// session of the kind created by ownerID in room, or nil.
	FindActiveByOwner(ctx context.Context, room, ownerID string, kind Kind) (*Session, error)
	// FindActiveByRoom returns every non-terminal session of the kind in
	// room, most recently updated first.
	FindActiveByRoom(ctx context.Context, room string, kind Kind) ([]*Session, error)
}
