package votequest

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

const roundBy = 2 * time.Minute

func newQuest(t *testing.T, members ...string) *session.Session {
	t.Helper()
	now := time.Now()
	s, err := Create("room1", "creator", "dungeon", now, roundBy)
	if err != nil { t.Fatalf("Create: %v", err) }
	for _, m := range members {
		if err := Join(s, m, now); err != nil { t.Fatalf("Join %s: %v", m, err) }
	}
	return s
}

func TestCreateSeedsRoundOne(t *testing.T) {
	s := newQuest(t)
	if s.State != session.StateActive { t.Fatalf("expected ACTIVE, got %s", s.State) }
	if s.Quest.Round != 1 { t.Fatalf("round %d", s.Quest.Round) }
	if len(s.Quest.Choices) != ChoicesPerRound { t.Fatalf("choices %v", s.Quest.Choices) }
	if s.ExpiresAt == nil { t.Fatalf("expected round deadline") }
	if Prompt(s) == "" { t.Fatalf("expected a round prompt") }
}

func TestQuorumResolvesRound(t *testing.T) {
	now := time.Now()
	s := newQuest(t, "u2", "u3") // 3 participants, quorum 2
	if got := Quorum(s); got != 2 { t.Fatalf("quorum %d", got) }

	res, err := Vote(s, "creator", 2, now, roundBy)
	if err != nil { t.Fatalf("vote 1: %v", err) }
	if res != nil { t.Fatalf("round resolved below quorum") }

	res, err = Vote(s, "u2", 2, now, roundBy)
	if err != nil { t.Fatalf("vote 2: %v", err) }
	if res == nil { t.Fatalf("expected resolution at quorum") }
	if res.Round != 1 || res.Winning != 2 || res.VoteCount != 2 || res.Completed { t.Fatalf("unexpected result: %+v", res) }
	if s.Quest.Round != 2 { t.Fatalf("round should advance, got %d", s.Quest.Round) }
	if len(s.Quest.Votes) != 0 { t.Fatalf("votes should reset between rounds: %v", s.Quest.Votes) }
	if len(s.Quest.Path) != 1 || s.Quest.Path[0] != 2 { t.Fatalf("path %v", s.Quest.Path) }
}

func TestRevoteOverwrites(t *testing.T) {
	now := time.Now()
	s := newQuest(t, "u2", "u3") // quorum 2
	if _, err := Vote(s, "creator", 1, now, roundBy); err != nil { t.Fatalf("vote: %v", err) }
	if _, err := Vote(s, "creator", 3, now, roundBy); err != nil { t.Fatalf("revote: %v", err) }
	if len(s.Quest.Votes) != 1 { t.Fatalf("revote should not add a ballot: %v", s.Quest.Votes) }

	res, err := Vote(s, "u2", 3, now, roundBy)
	if err != nil { t.Fatalf("vote: %v", err) }
	if res == nil || res.Winning != 3 { t.Fatalf("expected choice 3 to win, got %+v", res) }
}

func TestTieGoesToSmallerIndex(t *testing.T) {
	now := time.Now()
	s := newQuest(t, "u2", "u3", "u4") // 4 participants, quorum 2
	if _, err := Vote(s, "u2", 3, now, roundBy); err != nil { t.Fatalf("vote: %v", err) }
	res, err := Vote(s, "u3", 2, now, roundBy)
	if err != nil { t.Fatalf("vote: %v", err) }
	if res == nil { t.Fatalf("expected resolution at quorum") }
	if res.Winning != 2 { t.Fatalf("tie should favor the smaller index, got %d", res.Winning) }
}

func TestSoloQuestCompletesAfterMaxRounds(t *testing.T) {
	now := time.Now()
	s := newQuest(t) // quorum 1: every vote resolves a round
	for round := 1; round <= MaxRounds; round++ {
		res, err := Vote(s, "creator", 1, now, roundBy)
		if err != nil { t.Fatalf("round %d: %v", round, err) }
		if res == nil { t.Fatalf("round %d: expected resolution", round) }
		if res.Completed != (round == MaxRounds) { t.Fatalf("round %d: completed=%v", round, res.Completed) }
	}
	if s.State != session.StateCompleted { t.Fatalf("expected COMPLETED, got %s", s.State) }
	if len(s.Quest.Path) != MaxRounds { t.Fatalf("path %v", s.Quest.Path) }
	if s.ExpiresAt != nil { t.Fatalf("deadline should clear on completion") }
	if _, err := Vote(s, "creator", 1, now, roundBy); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("vote after completion: expected invalid state, got %v", err)
	}
}

func TestChoiceRangeValidated(t *testing.T) {
	now := time.Now()
	s := newQuest(t, "u2")
	for _, c := range []int{0, -1, ChoicesPerRound + 1} {
		if _, err := Vote(s, "creator", c, now, roundBy); !errors.Is(err, session.ErrValidation) {
			t.Fatalf("choice %d: expected validation error, got %v", c, err)
		}
	}
	if len(s.Quest.Votes) != 0 { t.Fatalf("rejected votes should not be recorded: %v", s.Quest.Votes) }
}

func TestOutsiderVoteForbidden(t *testing.T) {
	s := newQuest(t, "u2")
	if _, err := Vote(s, "stranger", 1, time.Now(), roundBy); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCancelOwnerOnly(t *testing.T) {
	now := time.Now()
	s := newQuest(t, "u2")
	if err := Cancel(s, "u2", now); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("member cancel: expected forbidden, got %v", err)
	}
	if err := Cancel(s, "creator", now); err != nil { t.Fatalf("Cancel: %v", err) }
	if s.State != session.StateCancelled { t.Fatalf("expected CANCELLED, got %s", s.State) }
	if err := Cancel(s, "creator", now); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("second cancel: expected invalid state, got %v", err)
	}
}

func TestExpireCancelsQuest(t *testing.T) {
	s := newQuest(t, "u2")
	if err := Expire(s, time.Now()); err != nil { t.Fatalf("Expire: %v", err) }
	if s.State != session.StateCancelled { t.Fatalf("expected CANCELLED, got %s", s.State) }
	if s.ExpiresAt != nil { t.Fatalf("deadline should clear") }
}

func TestUnknownThemeFallsBack(t *testing.T) {
	s, err := Create("room1", "creator", "no-such-theme", time.Now(), roundBy)
	if err != nil { t.Fatalf("Create: %v", err) }
	if s.Quest.Theme != "dungeon" { t.Fatalf("unknown theme should normalize, got %q", s.Quest.Theme) }
	if len(s.Quest.Choices) != ChoicesPerRound { t.Fatalf("fallback storyline missing choices: %v", s.Quest.Choices) }
	if Prompt(s) == "" { t.Fatalf("fallback storyline missing prompt") }
}
