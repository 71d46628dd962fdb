package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/Party-KakaoTalk-bot/internal/duel"
	"github.com/park285/Party-KakaoTalk-bot/internal/schedule"
	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

// fakeSched records arms and cancels; Fire triggers the armed callback
// by hand so expiry paths run without real timers.
type fakeSched struct {
	mu     sync.Mutex
	armed  map[string]schedule.Callback
	cancel map[string]int
}

func newFakeSched() *fakeSched {
	return &fakeSched{armed: make(map[string]schedule.Callback), cancel: make(map[string]int)}
}

func (f *fakeSched) Arm(id string, _ time.Time, fn schedule.Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[id] = fn
}

func (f *fakeSched) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, id)
	f.cancel[id]++
}

func (f *fakeSched) Fire(id string) bool {
	f.mu.Lock()
	fn, ok := f.armed[id]
	delete(f.armed, id)
	f.mu.Unlock()
	if ok {
		fn(id)
	}
	return ok
}

func (f *fakeSched) isArmed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[id]
	return ok
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []*session.Session
}

func (a *fakeArchive) SaveResult(_ context.Context, s *session.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, s.Clone())
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	awarded map[string]duel.RewardTier
}

func (r *fakeSink) Award(_ context.Context, _ string, userID string, tier duel.RewardTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.awarded == nil {
		r.awarded = make(map[string]duel.RewardTier)
	}
	r.awarded[userID] = tier
	return nil
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *session.RedisStore, *fakeSched) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStoreWithClient(rdb, time.Hour)
	sched := newFakeSched()
	return New(store, sched, opts), store, sched
}

func TestDuelFlowEndToEnd(t *testing.T) {
	coord, store, sched := newTestCoordinator(t, Options{})
	archive := &fakeArchive{}
	sink := &fakeSink{}
	coord.AttachArchiver(archive)
	coord.AttachRewardSink(sink)
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{
		Kind: session.KindDuel, Action: ActionChallenge,
		Room: "room1", ActorID: "alice", ActorName: "Alice",
		TargetID: "bob", TargetName: "Bob",
	})
	if err != nil { t.Fatalf("challenge: %v", err) }
	if res.Hint != "duel.challenged" { t.Fatalf("hint %q", res.Hint) }
	id := res.Session.ID
	if !sched.isArmed(id) { t.Fatalf("response deadline not armed") }

	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionAccept, Room: "room1", ActorID: "bob"})
	if err != nil { t.Fatalf("accept: %v", err) }
	if res.Hint != "duel.accepted" || res.Session.State != session.StateActive { t.Fatalf("accept result: %q %s", res.Hint, res.Session.State) }

	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionMove, Room: "room1", ActorID: "alice", Move: "rock"})
	if err != nil { t.Fatalf("move alice: %v", err) }
	if res.Hint != "duel.move_recorded" { t.Fatalf("hint %q", res.Hint) }

	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionMove, Room: "room1", ActorID: "bob", Move: "scissors"})
	if err != nil { t.Fatalf("move bob: %v", err) }
	if res.Hint != "duel.resolved_win" { t.Fatalf("hint %q", res.Hint) }
	if res.Session.Duel.WinnerID != "alice" { t.Fatalf("winner %q", res.Session.Duel.WinnerID) }
	if sched.isArmed(id) { t.Fatalf("timer should cancel on resolution") }

	// terminal session persisted, archived, rewards forwarded
	stored, err := store.Get(ctx, id)
	if err != nil || stored == nil { t.Fatalf("stored: %v %v", stored, err) }
	if stored.State != session.StateResolved { t.Fatalf("stored state %s", stored.State) }
	if len(archive.saved) != 1 || archive.saved[0].ID != id { t.Fatalf("archive: %v", archive.saved) }
	if sink.awarded["alice"] != duel.RewardFull || sink.awarded["bob"] != duel.RewardMinor { t.Fatalf("rewards: %v", sink.awarded) }
}

func TestMoveRecordsActorName(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	ctx := context.Background()

	// the challenge carries no name for the opponent
	res, err := coord.Dispatch(ctx, Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room1", ActorID: "alice", ActorName: "Alice", TargetID: "bob"})
	if err != nil { t.Fatalf("challenge: %v", err) }
	id := res.Session.ID

	if _, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionAccept, Room: "room1", ActorID: "bob"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// the opponent's first named interaction is the move itself
	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionMove, Room: "room1", ActorID: "bob", ActorName: "Bobby", Move: "paper"})
	if err != nil { t.Fatalf("move: %v", err) }
	if res.Hint != "duel.move_recorded" { t.Fatalf("hint %q", res.Hint) }
	if got := res.Data["Actor"]; got != "Bobby" { t.Fatalf("move line shows %v, want display name", got) }

	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionMove, Room: "room1", ActorID: "alice", ActorName: "Alice", Move: "rock"})
	if err != nil { t.Fatalf("move: %v", err) }
	if got := res.Data["Winner"]; got != "Bobby" { t.Fatalf("winner shows %v, want display name", got) }
}

func TestSingleActivePerOwner(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	ctx := context.Background()

	first := Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room1", ActorID: "alice", TargetID: "bob"}
	if _, err := coord.Dispatch(ctx, first); err != nil { t.Fatalf("first challenge: %v", err) }

	second := Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room1", ActorID: "alice", TargetID: "carol"}
	if _, err := coord.Dispatch(ctx, second); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("second challenge: expected validation error, got %v", err)
	}

	// other room is fine
	other := Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room2", ActorID: "alice", TargetID: "carol"}
	if _, err := coord.Dispatch(ctx, other); err != nil { t.Fatalf("other-room challenge: %v", err) }
}

func TestGroupsExemptFromSingleActive(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := Request{Kind: session.KindGroup, Action: ActionCreate, Room: "room1", ActorID: "alice", Capacity: 4, Title: fmt.Sprintf("post %d", i)}
		if _, err := coord.Dispatch(ctx, req); err != nil { t.Fatalf("create #%d: %v", i, err) }
	}
	list, err := coord.ListOpenGroups(ctx, "room1")
	if err != nil { t.Fatalf("ListOpenGroups: %v", err) }
	if len(list) != 2 { t.Fatalf("expected both posts open, got %d", len(list)) }
}

func TestScheduledExpireDeclinesPendingDuel(t *testing.T) {
	coord, store, sched := newTestCoordinator(t, Options{})
	archive := &fakeArchive{}
	coord.AttachArchiver(archive)
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room1", ActorID: "alice", TargetID: "bob"})
	if err != nil { t.Fatalf("challenge: %v", err) }
	id := res.Session.ID

	if !sched.Fire(id) { t.Fatalf("no timer armed for %s", id) }

	stored, err := store.Get(ctx, id)
	if err != nil || stored == nil { t.Fatalf("stored: %v %v", stored, err) }
	if stored.State != session.StateDeclined { t.Fatalf("expected DECLINED after timeout, got %s", stored.State) }
	if len(archive.saved) != 1 { t.Fatalf("expired duel should archive") }

	if _, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionAccept, Room: "room1", ActorID: "bob"}); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("accept after expiry: expected invalid state, got %v", err)
	}

	// owner is free to challenge again
	if _, err := coord.Dispatch(ctx, Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room1", ActorID: "alice", TargetID: "carol"}); err != nil {
		t.Fatalf("re-challenge after expiry: %v", err)
	}
}

func TestLazyExpiryOnLoad(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, Options{DuelRespondBy: time.Millisecond})
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindDuel, Action: ActionChallenge, Room: "room1", ActorID: "alice", TargetID: "bob"})
	if err != nil { t.Fatalf("challenge: %v", err) }
	id := res.Session.ID

	time.Sleep(20 * time.Millisecond)

	// the timer was "lost" (never fired); first touch applies the deadline
	if _, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionAccept, Room: "room1", ActorID: "bob"}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected not-found on lazy expiry, got %v", err)
	}
	stored, err := store.Get(ctx, id)
	if err != nil || stored == nil { t.Fatalf("stored: %v %v", stored, err) }
	if stored.State != session.StateDeclined { t.Fatalf("expected DECLINED, got %s", stored.State) }
}

func TestTerminalActionsDoNotMutate(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, Options{})
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindGroup, Action: ActionCreate, Room: "room1", ActorID: "alice", Capacity: 3, Title: "t"})
	if err != nil { t.Fatalf("create: %v", err) }
	id := res.Session.ID

	if _, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionClose, Room: "room1", ActorID: "alice"}); err != nil {
		t.Fatalf("close: %v", err)
	}
	before, _ := store.Get(ctx, id)

	if _, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionClose, Room: "room1", ActorID: "alice"}); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("second close: expected invalid state, got %v", err)
	}
	after, _ := store.Get(ctx, id)
	if !before.UpdatedAt.Equal(after.UpdatedAt) || before.State != after.State {
		t.Fatalf("rejected action mutated the session: %v vs %v", before, after)
	}
}

func TestConcurrentJoinsSerialized(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, Options{})
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindGroup, Action: ActionCreate, Room: "room1", ActorID: "owner", Capacity: 3, Title: "raid"})
	if err != nil { t.Fatalf("create: %v", err) }
	id := res.Session.ID

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionJoin, Room: "room1", ActorID: fmt.Sprintf("u%d", n)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, session.ErrInvalidState):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 2 || rejected != attempts-2 { t.Fatalf("joins ok=%d rejected=%d", ok, rejected) }

	stored, _ := store.Get(ctx, id)
	if len(stored.Participants) != 3 { t.Fatalf("membership %v", stored.Participants) }
	if stored.State != session.StateFull { t.Fatalf("state %s", stored.State) }
}

func TestQuestRoundsThroughCoordinator(t *testing.T) {
	coord, _, sched := newTestCoordinator(t, Options{})
	archive := &fakeArchive{}
	coord.AttachArchiver(archive)
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindVoteQuest, Action: ActionCreate, Room: "room1", ActorID: "alice", Theme: "dungeon"})
	if err != nil { t.Fatalf("create: %v", err) }
	if res.Hint != "quest.created" { t.Fatalf("hint %q", res.Hint) }
	id := res.Session.ID

	// solo quest: quorum is one, every vote resolves a round
	for round := 1; round < 5; round++ {
		res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionVote, Room: "room1", ActorID: "alice", Choice: 1})
		if err != nil { t.Fatalf("round %d: %v", round, err) }
		if res.Hint != "quest.round_resolved" { t.Fatalf("round %d hint %q", round, res.Hint) }
		if !sched.isArmed(id) { t.Fatalf("round %d: deadline not re-armed", round) }
	}
	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionVote, Room: "room1", ActorID: "alice", Choice: 2})
	if err != nil { t.Fatalf("final round: %v", err) }
	if res.Hint != "quest.completed" { t.Fatalf("hint %q", res.Hint) }
	if res.Session.State != session.StateCompleted { t.Fatalf("state %s", res.Session.State) }
	if sched.isArmed(id) { t.Fatalf("timer should cancel on completion") }
	if len(archive.saved) != 1 { t.Fatalf("completed quest should archive") }
}

func TestQuestExpireCancels(t *testing.T) {
	coord, store, sched := newTestCoordinator(t, Options{})
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindVoteQuest, Action: ActionCreate, Room: "room1", ActorID: "alice"})
	if err != nil { t.Fatalf("create: %v", err) }
	id := res.Session.ID

	if !sched.Fire(id) { t.Fatalf("no round deadline armed") }
	stored, _ := store.Get(ctx, id)
	if stored.State != session.StateCancelled { t.Fatalf("expected CANCELLED, got %s", stored.State) }
}

func TestTurnCycleThroughCoordinator(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	ctx := context.Background()

	res, err := coord.Dispatch(ctx, Request{Kind: session.KindTurnCycle, Action: ActionCreate, Room: "room1", ActorID: "alice", ActorName: "Alice"})
	if err != nil { t.Fatalf("create: %v", err) }
	id := res.Session.ID

	for _, u := range []string{"bob", "carol"} {
		if _, err := coord.Dispatch(ctx, Request{SessionID: id, Action: ActionJoin, Room: "room1", ActorID: u, ActorName: u}); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionStart, Room: "room1", ActorID: "alice"})
	if err != nil { t.Fatalf("start: %v", err) }
	if res.Hint != "turn.started" { t.Fatalf("hint %q", res.Hint) }

	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionSkip, Room: "room1", ActorID: "bob"})
	if err != nil { t.Fatalf("skip: %v", err) }
	if res.Hint != "turn.skipped" { t.Fatalf("hint %q", res.Hint) }
	if res.Session.Turn.TurnCount != 1 { t.Fatalf("turn count %d", res.Session.Turn.TurnCount) }

	res, err = coord.Dispatch(ctx, Request{SessionID: id, Action: ActionEnd, Room: "room1", ActorID: "alice"})
	if err != nil { t.Fatalf("end: %v", err) }
	if res.Session.State != session.StateEnded { t.Fatalf("state %s", res.Session.State) }
}

func TestDispatchUnknownSession(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	if _, err := coord.Dispatch(context.Background(), Request{SessionID: "duel-missing", Action: ActionAccept, ActorID: "bob"}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, err := coord.Dispatch(context.Background(), Request{Action: ActionAccept, ActorID: "bob"}); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("missing id: expected validation error, got %v", err)
	}
}
