// Package coordinator is the façade routing inbound gateway actions to
// the session engines. It serializes all mutations per session id,
// persists every state change, and keeps the expiry scheduler in step
// with each session's deadline.
package coordinator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Party-KakaoTalk-bot/internal/duel"
	"github.com/park285/Party-KakaoTalk-bot/internal/group"
	"github.com/park285/Party-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Party-KakaoTalk-bot/internal/schedule"
	"github.com/park285/Party-KakaoTalk-bot/internal/session"
	"github.com/park285/Party-KakaoTalk-bot/internal/turncycle"
	"github.com/park285/Party-KakaoTalk-bot/internal/votequest"
)

// Action names an operation on a session.
type Action string

const (
	ActionChallenge Action = "challenge"
	ActionCreate    Action = "create"
	ActionJoin      Action = "join"
	ActionAccept    Action = "accept"
	ActionDecline   Action = "decline"
	ActionMove      Action = "move"
	ActionVote      Action = "vote"
	ActionStart     Action = "start"
	ActionAdvance   Action = "advance"
	ActionSkip      Action = "skip"
	ActionLeave     Action = "leave"
	ActionClose     Action = "close"
	ActionEnd       Action = "end"
	ActionCancel    Action = "cancel"
	ActionExpire    Action = "expire"
)

// Request is one inbound gateway action. SessionID is empty for
// creation-type actions; Kind is required there and ignored otherwise.
type Request struct {
	SessionID string
	Kind      session.Kind
	Action    Action
	ActorID   string
	ActorName string
	Room      string

	// challenge
	TargetID   string
	TargetName string

	// create payloads
	Capacity int
	Title    string
	Theme    string

	// act payloads
	Move   string
	Choice int
}

// Result carries the post-action snapshot plus a rendering instruction:
// a message-catalog key and its template data.
type Result struct {
	Session *session.Session
	Hint    string
	Data    map[string]any

	// rewards earned by a resolved duel, forwarded to the RewardSink
	rewards []duel.Reward
}

// Archiver receives terminal sessions for the retention/audit record.
type Archiver interface {
	SaveResult(ctx context.Context, s *session.Session) error
}

// RewardSink is the narrow seam to the leveling system; the engine only
// reports tiers, never XP amounts.
type RewardSink interface {
	Award(ctx context.Context, room, userID string, tier duel.RewardTier) error
}

// Options are the tunable deadlines of the state machines.
type Options struct {
	DuelRespondBy time.Duration
	DuelMoveBy    time.Duration
	QuestRoundBy  time.Duration
}

// DefaultOptions match the documented deadlines: 30s to answer a
// challenge, 60s for both moves, 120s per quest round.
func DefaultOptions() Options {
	return Options{
		DuelRespondBy: 30 * time.Second,
		DuelMoveBy:    60 * time.Second,
		QuestRoundBy:  120 * time.Second,
	}
}

type Coordinator struct {
	store   session.Store
	sched   schedule.Scheduler
	locks   *keyMutex
	opts    Options
	archive Archiver
	rewards RewardSink
}

func New(store session.Store, sched schedule.Scheduler, opts Options) *Coordinator {
	if opts.DuelRespondBy <= 0 {
		opts.DuelRespondBy = DefaultOptions().DuelRespondBy
	}
	if opts.DuelMoveBy <= 0 {
		opts.DuelMoveBy = DefaultOptions().DuelMoveBy
	}
	if opts.QuestRoundBy <= 0 {
		opts.QuestRoundBy = DefaultOptions().QuestRoundBy
	}
	return &Coordinator{
		store: store,
		sched: sched,
		locks: newKeyMutex(),
		opts:  opts,
	}
}

// AttachArchiver wires the terminal-session archive.
func (c *Coordinator) AttachArchiver(a Archiver) { c.archive = a }

// AttachRewardSink wires the leveling collaborator.
func (c *Coordinator) AttachRewardSink(r RewardSink) { c.rewards = r }

// singleActiveKinds are the kinds where one active session per
// (owner, room) is enforced at creation. Groups are exempt.
func singleActive(kind session.Kind) bool {
	switch kind {
	case session.KindDuel, session.KindTurnCycle, session.KindVoteQuest:
		return true
	}
	return false
}

// Dispatch routes one action, holding the per-session lock for the whole
// load-mutate-persist cycle. Creation-type actions lock a derived
// (owner, room, kind) key instead so two racing creates cannot both pass
// the single-active check.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (*Result, error) {
	switch req.Action {
	case ActionChallenge, ActionCreate:
		return c.create(ctx, req)
	}
	if req.SessionID == "" {
		return nil, session.Validationf("session id required for %s", req.Action)
	}

	unlock := c.locks.Lock(req.SessionID)
	defer unlock()

	s, err := c.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	// lazy expiry: an over-deadline session is expired on first touch,
	// which covers timers lost to a restart
	if !s.State.Terminal() && s.DeadlinePassed(now) && req.Action != ActionExpire {
		c.expireLocked(ctx, s, now)
		return nil, session.ErrNotFound
	}

	res, err := c.apply(ctx, s, req, now)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, s); err != nil {
		return nil, err
	}
	c.syncTimer(s)
	c.finalize(ctx, s, res)

	obslog.L().Info("session_action",
		zap.String("session_id", s.ID),
		zap.String("kind", string(s.Kind)),
		zap.String("action", string(req.Action)),
		zap.String("actor_id", req.ActorID),
		zap.String("state", string(s.State)),
	)
	res.Session = s.Clone()
	return res, nil
}

// create handles challenge/create actions under the creation lock.
func (c *Coordinator) create(ctx context.Context, req Request) (*Result, error) {
	if req.Room == "" || req.ActorID == "" {
		return nil, session.Validationf("room and actor required")
	}
	unlock := c.locks.Lock("create:" + req.Room + ":" + req.ActorID + ":" + string(req.Kind))
	defer unlock()

	if singleActive(req.Kind) {
		existing, err := c.store.FindActiveByOwner(ctx, req.Room, req.ActorID, req.Kind)
		if err != nil {
			return nil, session.ErrTransient
		}
		if existing != nil {
			return nil, session.Validationf("you already have an active %s in this room", req.Kind)
		}
	}

	now := time.Now()
	var (
		s   *session.Session
		res *Result
		err error
	)
	switch req.Kind {
	case session.KindDuel:
		s, err = duel.Challenge(req.Room, req.ActorID, req.TargetID, now, c.opts.DuelRespondBy)
		if err == nil {
			s.SetName(req.ActorID, req.ActorName)
			s.SetName(req.TargetID, req.TargetName)
			res = &Result{Hint: "duel.challenged", Data: map[string]any{
				"Challenger": s.Name(req.ActorID),
				"Opponent":   s.Name(req.TargetID),
				"RespondSec": int(c.opts.DuelRespondBy.Seconds()),
			}}
		}
	case session.KindGroup:
		s, err = group.Create(req.Room, req.ActorID, req.Capacity, req.Title, now)
		if err == nil {
			s.SetName(req.ActorID, req.ActorName)
			res = &Result{Hint: "group.created", Data: map[string]any{
				"Owner":    s.Name(req.ActorID),
				"Capacity": req.Capacity,
				"Title":    s.Group.Title,
			}}
		}
	case session.KindTurnCycle:
		s, err = turncycle.Create(req.Room, req.ActorID, now)
		if err == nil {
			s.SetName(req.ActorID, req.ActorName)
			res = &Result{Hint: "turn.created", Data: map[string]any{
				"Owner": s.Name(req.ActorID),
			}}
		}
	case session.KindVoteQuest:
		s, err = votequest.Create(req.Room, req.ActorID, req.Theme, now, c.opts.QuestRoundBy)
		if err == nil {
			s.SetName(req.ActorID, req.ActorName)
			res = &Result{Hint: "quest.created", Data: map[string]any{
				"Owner":   s.Name(req.ActorID),
				"Theme":   s.Quest.Theme,
				"Prompt":  votequest.Prompt(s),
				"Choices": s.Quest.Choices,
			}}
		}
	default:
		return nil, session.Validationf("unknown session kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, s); err != nil {
		return nil, err
	}
	c.syncTimer(s)
	obslog.L().Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("kind", string(s.Kind)),
		zap.String("room", s.Room),
		zap.String("owner_id", s.OwnerID),
	)
	res.Session = s.Clone()
	return res, nil
}

// apply runs the engine mutation for an already-loaded session.
func (c *Coordinator) apply(ctx context.Context, s *session.Session, req Request, now time.Time) (*Result, error) {
	switch s.Kind {
	case session.KindDuel:
		return c.applyDuel(ctx, s, req, now)
	case session.KindGroup:
		return c.applyGroup(s, req, now)
	case session.KindTurnCycle:
		return c.applyTurn(s, req, now)
	case session.KindVoteQuest:
		return c.applyQuest(s, req, now)
	}
	return nil, session.ErrNotFound
}

func (c *Coordinator) applyDuel(ctx context.Context, s *session.Session, req Request, now time.Time) (*Result, error) {
	d := s.Duel
	switch req.Action {
	case ActionAccept:
		if err := duel.Accept(s, req.ActorID, now, c.opts.DuelMoveBy); err != nil {
			return nil, err
		}
		return &Result{Hint: "duel.accepted", Data: map[string]any{
			"Challenger": s.Name(d.ChallengerID),
			"Opponent":   s.Name(d.OpponentID),
			"MoveSec":    int(c.opts.DuelMoveBy.Seconds()),
		}}, nil
	case ActionDecline:
		if err := duel.Decline(s, req.ActorID, now); err != nil {
			return nil, err
		}
		return &Result{Hint: "duel.declined", Data: map[string]any{
			"Opponent": s.Name(d.OpponentID),
		}}, nil
	case ActionMove:
		mv, err := duel.ParseMove(req.Move)
		if err != nil {
			return nil, err
		}
		out, err := duel.SubmitMove(s, req.ActorID, mv, now)
		if err != nil {
			return nil, err
		}
		s.SetName(req.ActorID, req.ActorName)
		if out == nil {
			return &Result{Hint: "duel.move_recorded", Data: map[string]any{
				"Actor": s.Name(req.ActorID),
			}}, nil
		}
		if out.Tie {
			return &Result{
				Hint:    "duel.resolved_tie",
				Data:    map[string]any{"Move": d.Moves[d.ChallengerID]},
				rewards: out.Rewards,
			}, nil
		}
		return &Result{
			Hint: "duel.resolved_win",
			Data: map[string]any{
				"Winner":     s.Name(out.WinnerID),
				"Loser":      s.Name(out.LoserID),
				"WinnerMove": d.Moves[out.WinnerID],
				"LoserMove":  d.Moves[out.LoserID],
			},
			rewards: out.Rewards,
		}, nil
	case ActionClose, ActionCancel:
		// challenger withdrawing a pending challenge
		if req.ActorID != s.OwnerID {
			return nil, session.ErrForbidden
		}
		if s.State != session.StatePending {
			return nil, session.ErrInvalidState
		}
		s.State = session.StateDeclined
		s.ClearDeadline()
		s.Touch(now)
		return &Result{Hint: "duel.withdrawn", Data: map[string]any{
			"Challenger": s.Name(d.ChallengerID),
		}}, nil
	case ActionExpire:
		wasPending := s.State == session.StatePending
		if err := duel.Expire(s, now); err != nil {
			return nil, err
		}
		hint := "duel.expired"
		if wasPending {
			hint = "duel.challenge_expired"
		}
		return &Result{Hint: hint, Data: map[string]any{
			"Challenger": s.Name(d.ChallengerID),
			"Opponent":   s.Name(d.OpponentID),
		}}, nil
	}
	return nil, session.Validationf("action %s not valid for a duel", req.Action)
}

func (c *Coordinator) applyGroup(s *session.Session, req Request, now time.Time) (*Result, error) {
	switch req.Action {
	case ActionJoin:
		if err := group.Join(s, req.ActorID, now); err != nil {
			return nil, err
		}
		s.SetName(req.ActorID, req.ActorName)
		hint := "group.joined"
		if s.State == session.StateFull {
			hint = "group.full"
		}
		return &Result{Hint: hint, Data: c.groupData(s, req.ActorID)}, nil
	case ActionLeave:
		wasFull := s.State == session.StateFull
		if err := group.Leave(s, req.ActorID, now); err != nil {
			return nil, err
		}
		hint := "group.left"
		if wasFull {
			hint = "group.reopened"
		}
		return &Result{Hint: hint, Data: c.groupData(s, req.ActorID)}, nil
	case ActionClose, ActionEnd:
		if err := group.Close(s, req.ActorID, now); err != nil {
			return nil, err
		}
		return &Result{Hint: "group.closed", Data: c.groupData(s, req.ActorID)}, nil
	}
	return nil, session.Validationf("action %s not valid for a group", req.Action)
}

func (c *Coordinator) groupData(s *session.Session, actorID string) map[string]any {
	return map[string]any{
		"Actor":    s.Name(actorID),
		"Title":    s.Group.Title,
		"Count":    len(s.Participants),
		"Capacity": s.Group.Capacity,
	}
}

func (c *Coordinator) applyTurn(s *session.Session, req Request, now time.Time) (*Result, error) {
	switch req.Action {
	case ActionJoin:
		if err := turncycle.Join(s, req.ActorID, now); err != nil {
			return nil, err
		}
		s.SetName(req.ActorID, req.ActorName)
		return &Result{Hint: "turn.joined", Data: map[string]any{
			"Actor": s.Name(req.ActorID),
			"Count": len(s.Participants),
		}}, nil
	case ActionStart:
		if err := turncycle.Start(s, req.ActorID, now); err != nil {
			return nil, err
		}
		return &Result{Hint: "turn.started", Data: map[string]any{
			"Current": s.Name(turncycle.Current(s)),
			"Count":   len(s.Participants),
		}}, nil
	case ActionAdvance, ActionSkip:
		var err error
		hint := "turn.advanced"
		if req.Action == ActionSkip {
			err = turncycle.Skip(s, req.ActorID, now)
			hint = "turn.skipped"
			obslog.L().Info("turn_skip",
				zap.String("session_id", s.ID),
				zap.String("actor_id", req.ActorID),
				zap.Int("turn_count", s.Turn.TurnCount),
			)
		} else {
			err = turncycle.Advance(s, req.ActorID, now)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Hint: hint, Data: map[string]any{
			"Current":   s.Name(turncycle.Current(s)),
			"TurnCount": s.Turn.TurnCount,
		}}, nil
	case ActionLeave:
		if err := turncycle.Leave(s, req.ActorID, now); err != nil {
			return nil, err
		}
		if s.State == session.StateEnded {
			return &Result{Hint: "turn.ended_short", Data: map[string]any{
				"Actor": s.Name(req.ActorID),
			}}, nil
		}
		return &Result{Hint: "turn.left", Data: map[string]any{
			"Actor":   s.Name(req.ActorID),
			"Current": s.Name(turncycle.Current(s)),
		}}, nil
	case ActionEnd, ActionClose:
		if err := turncycle.End(s, req.ActorID, now); err != nil {
			return nil, err
		}
		return &Result{Hint: "turn.ended", Data: map[string]any{
			"TurnCount": s.Turn.TurnCount,
		}}, nil
	}
	return nil, session.Validationf("action %s not valid for a turn cycle", req.Action)
}

func (c *Coordinator) applyQuest(s *session.Session, req Request, now time.Time) (*Result, error) {
	switch req.Action {
	case ActionJoin:
		if err := votequest.Join(s, req.ActorID, now); err != nil {
			return nil, err
		}
		s.SetName(req.ActorID, req.ActorName)
		return &Result{Hint: "quest.joined", Data: map[string]any{
			"Actor": s.Name(req.ActorID),
			"Count": len(s.Participants),
		}}, nil
	case ActionVote:
		res, err := votequest.Vote(s, req.ActorID, req.Choice, now, c.opts.QuestRoundBy)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return &Result{Hint: "quest.vote_recorded", Data: map[string]any{
				"Actor":  s.Name(req.ActorID),
				"Votes":  len(s.Quest.Votes),
				"Quorum": votequest.Quorum(s),
			}}, nil
		}
		obslog.L().Info("quest_round_resolve",
			zap.String("session_id", s.ID),
			zap.Int("round", res.Round),
			zap.Int("winning_choice", res.Winning),
			zap.Int("votes", res.VoteCount),
		)
		if res.Completed {
			return &Result{Hint: "quest.completed", Data: map[string]any{
				"Choice": res.Choice,
				"Path":   s.Quest.Path,
			}}, nil
		}
		return &Result{Hint: "quest.round_resolved", Data: map[string]any{
			"Round":   res.Round,
			"Choice":  res.Choice,
			"Next":    s.Quest.Round,
			"Prompt":  votequest.Prompt(s),
			"Choices": s.Quest.Choices,
		}}, nil
	case ActionCancel, ActionClose, ActionEnd:
		if err := votequest.Cancel(s, req.ActorID, now); err != nil {
			return nil, err
		}
		return &Result{Hint: "quest.cancelled", Data: map[string]any{
			"Owner": s.Name(s.OwnerID),
		}}, nil
	case ActionExpire:
		if err := votequest.Expire(s, now); err != nil {
			return nil, err
		}
		return &Result{Hint: "quest.expired", Data: map[string]any{
			"Round": s.Quest.Round,
		}}, nil
	}
	return nil, session.Validationf("action %s not valid for a quest", req.Action)
}

// load maps a missing blob to NotFound and store failures to Transient.
func (c *Coordinator) load(ctx context.Context, id string) (*session.Session, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		s, err = c.store.Get(ctx, id)
	}
	if err != nil {
		obslog.L().Error("session_load_error", zap.String("session_id", id), zap.Error(err))
		return nil, session.ErrTransient
	}
	if s == nil {
		return nil, session.ErrNotFound
	}
	return s, nil
}

// persist writes the session, retrying once before surfacing Transient.
func (c *Coordinator) persist(ctx context.Context, s *session.Session) error {
	err := c.store.Put(ctx, s)
	if err != nil {
		err = c.store.Put(ctx, s)
	}
	if err != nil {
		obslog.L().Error("session_persist_error", zap.String("session_id", s.ID), zap.Error(err))
		return session.ErrTransient
	}
	return nil
}

// syncTimer re-arms or cancels the expiry timer to match the session's
// deadline. Terminal transitions always cancel so a stale callback can
// never mutate a resolved session.
func (c *Coordinator) syncTimer(s *session.Session) {
	if s.State.Terminal() || s.ExpiresAt == nil {
		c.sched.Cancel(s.ID)
		return
	}
	c.sched.Arm(s.ID, *s.ExpiresAt, c.onExpire)
}

// onExpire is the scheduler callback: the same dispatch cycle with a
// synthetic expire action. Failures are logged; the session stays
// terminable by an explicit action either way.
func (c *Coordinator) onExpire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.Dispatch(ctx, Request{SessionID: sessionID, Action: ActionExpire})
	if err != nil && !errors.Is(err, session.ErrInvalidState) && !errors.Is(err, session.ErrNotFound) {
		obslog.L().Error("session_expire_error", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	obslog.L().Info("session_expire", zap.String("session_id", sessionID))
}

// expireLocked applies lazy expiry to an over-deadline session already
// held under the lock.
func (c *Coordinator) expireLocked(ctx context.Context, s *session.Session, now time.Time) {
	var err error
	switch s.Kind {
	case session.KindDuel:
		err = duel.Expire(s, now)
	case session.KindVoteQuest:
		err = votequest.Expire(s, now)
	default:
		return
	}
	if err != nil {
		return
	}
	if perr := c.persist(ctx, s); perr != nil {
		return
	}
	c.sched.Cancel(s.ID)
	c.finalize(ctx, s, &Result{})
	obslog.L().Info("session_lazy_expire", zap.String("session_id", s.ID), zap.String("kind", string(s.Kind)))
}

// finalize archives terminal sessions and forwards duel rewards.
func (c *Coordinator) finalize(ctx context.Context, s *session.Session, res *Result) {
	if !s.State.Terminal() {
		return
	}
	if c.archive != nil {
		if err := c.archive.SaveResult(ctx, s); err != nil {
			obslog.L().Error("session_archive_error", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if c.rewards != nil && res != nil {
		for _, rw := range res.rewards {
			if err := c.rewards.Award(ctx, s.Room, rw.UserID, rw.Tier); err != nil {
				obslog.L().Error("reward_award_error",
					zap.String("session_id", s.ID),
					zap.String("user_id", rw.UserID),
					zap.Error(err),
				)
			}
		}
	}
}

// ListOpenGroups returns the room's joinable posts for the list command.
func (c *Coordinator) ListOpenGroups(ctx context.Context, room string) ([]*session.Session, error) {
	list, err := c.store.FindActiveByRoom(ctx, room, session.KindGroup)
	if err != nil {
		return nil, session.ErrTransient
	}
	out := make([]*session.Session, 0, len(list))
	for _, s := range list {
		out = append(out, s.Clone())
	}
	return out, nil
}

// FindActive resolves the actor's current session of a kind in a room,
// used by the command router to target bare commands like "accept".
func (c *Coordinator) FindActive(ctx context.Context, room, ownerID string, kind session.Kind) (*session.Session, error) {
	s, err := c.store.FindActiveByOwner(ctx, room, ownerID, kind)
	if err != nil {
		return nil, session.ErrTransient
	}
	if s == nil {
		return nil, nil
	}
	return s.Clone(), nil
}

// FindActiveByRoom exposes the room-wide active listing for a kind.
func (c *Coordinator) FindActiveByRoom(ctx context.Context, room string, kind session.Kind) ([]*session.Session, error) {
	list, err := c.store.FindActiveByRoom(ctx, room, kind)
	if err != nil {
		return nil, session.ErrTransient
	}
	out := make([]*session.Session, 0, len(list))
	for _, s := range list {
		out = append(out, s.Clone())
	}
	return out, nil
}
