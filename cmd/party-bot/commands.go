package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Party-KakaoTalk-bot/internal/adapter/partypresenter"
	appcfg "github.com/park285/Party-KakaoTalk-bot/internal/config"
	"github.com/park285/Party-KakaoTalk-bot/internal/coordinator"
	"github.com/park285/Party-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

type router struct {
	cfg       *appcfg.AppConfig
	coord     *coordinator.Coordinator
	presenter *partypresenter.Presenter
	fmtr      *partypresenter.Formatter
}

func newRouter(cfg *appcfg.AppConfig, coord *coordinator.Coordinator, p *partypresenter.Presenter, f *partypresenter.Formatter) *router {
	return &router{cfg: cfg, coord: coord, presenter: p, fmtr: f}
}

func (r *router) handle(msg *irisfast.Message) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Msg), r.cfg.BotPrefix))
	if raw == "" {
		_ = r.presenter.Send(msg.Room, helpText(r.cfg))
		return
	}
	fields := strings.Fields(raw)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cmd {
	case "help":
		_ = r.presenter.Send(msg.Room, helpText(r.cfg))
	case "duel":
		r.duelChallenge(ctx, msg, args)
	case "accept", "decline":
		r.duelAnswer(ctx, msg, cmd)
	case "rock", "paper", "scissors", "r", "p", "s":
		r.duelMove(ctx, msg, cmd)
	case "withdraw":
		r.duelWithdraw(ctx, msg)
	case "lfg":
		r.group(ctx, msg, args)
	case "turns":
		r.turns(ctx, msg, args)
	case "quest":
		r.quest(ctx, msg, args)
	default:
		_ = r.presenter.Send(msg.Room, helpText(r.cfg))
	}
}

func (r *router) reply(res *coordinator.Result, err error, room string) {
	if err != nil {
		_ = r.presenter.Send(room, r.fmtr.Error(err))
		return
	}
	_ = r.presenter.Send(room, r.fmtr.Result(res))
}

func (r *router) duelChallenge(ctx context.Context, msg *irisfast.Message, args []string) {
	if len(args) < 1 {
		_ = r.presenter.Send(msg.Room, "usage: duel <user>")
		return
	}
	target := strings.TrimPrefix(args[0], "@")
	res, err := r.coord.Dispatch(ctx, coordinator.Request{
		Kind:       session.KindDuel,
		Action:     coordinator.ActionChallenge,
		Room:       msg.Room,
		ActorID:    msg.SenderID,
		ActorName:  msg.SenderName,
		TargetID:   target,
		TargetName: target,
	})
	r.reply(res, err, msg.Room)
}

func (r *router) duelAnswer(ctx context.Context, msg *irisfast.Message, cmd string) {
	s := r.findDuel(ctx, msg.Room, func(s *session.Session) bool {
		return s.State == session.StatePending && s.Duel.OpponentID == msg.SenderID
	})
	if s == nil {
		_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.ErrNotFound))
		return
	}
	action := coordinator.ActionAccept
	if cmd == "decline" {
		action = coordinator.ActionDecline
	}
	res, err := r.coord.Dispatch(ctx, coordinator.Request{
		SessionID: s.ID,
		Action:    action,
		Room:      msg.Room,
		ActorID:   msg.SenderID,
		ActorName: msg.SenderName,
	})
	r.reply(res, err, msg.Room)
}

func (r *router) duelMove(ctx context.Context, msg *irisfast.Message, move string) {
	s := r.findDuel(ctx, msg.Room, func(s *session.Session) bool {
		return s.State == session.StateActive && s.HasParticipant(msg.SenderID)
	})
	if s == nil {
		_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.ErrNotFound))
		return
	}
	res, err := r.coord.Dispatch(ctx, coordinator.Request{
		SessionID: s.ID,
		Action:    coordinator.ActionMove,
		Room:      msg.Room,
		ActorID:   msg.SenderID,
		ActorName: msg.SenderName,
		Move:      move,
	})
	r.reply(res, err, msg.Room)
}

func (r *router) duelWithdraw(ctx context.Context, msg *irisfast.Message) {
	s, err := r.coord.FindActive(ctx, msg.Room, msg.SenderID, session.KindDuel)
	if err != nil || s == nil {
		_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.ErrNotFound))
		return
	}
	res, err := r.coord.Dispatch(ctx, coordinator.Request{
		SessionID: s.ID,
		Action:    coordinator.ActionCancel,
		Room:      msg.Room,
		ActorID:   msg.SenderID,
	})
	r.reply(res, err, msg.Room)
}

// findDuel picks the most recently updated room duel matching pred.
func (r *router) findDuel(ctx context.Context, room string, pred func(*session.Session) bool) *session.Session {
	list, err := r.coord.FindActiveByRoom(ctx, room, session.KindDuel)
	if err != nil {
		return nil
	}
	for _, s := range list {
		if s.Duel != nil && pred(s) {
			return s
		}
	}
	return nil
}

func (r *router) group(ctx context.Context, msg *irisfast.Message, args []string) {
	if len(args) == 0 {
		_ = r.presenter.Send(msg.Room, "usage: lfg create <slots> <title> | join | leave | close | list")
		return
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]
	switch sub {
	case "create":
		if len(rest) < 2 {
			_ = r.presenter.Send(msg.Room, "usage: lfg create <slots> <title>")
			return
		}
		capacity, cerr := strconv.Atoi(rest[0])
		if cerr != nil {
			_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.Validationf("slots must be a number")))
			return
		}
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			Kind:      session.KindGroup,
			Action:    coordinator.ActionCreate,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
			ActorName: msg.SenderName,
			Capacity:  capacity,
			Title:     strings.Join(rest[1:], " "),
		})
		r.reply(res, err, msg.Room)
	case "list":
		list, err := r.coord.ListOpenGroups(ctx, msg.Room)
		if err != nil {
			_ = r.presenter.Send(msg.Room, r.fmtr.Error(err))
			return
		}
		_ = r.presenter.Send(msg.Room, r.fmtr.GroupList(list))
	case "join", "leave", "close":
		s := r.findGroup(ctx, msg.Room, strings.Join(rest, " "))
		if s == nil {
			_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.ErrNotFound))
			return
		}
		action := coordinator.ActionJoin
		switch sub {
		case "leave":
			action = coordinator.ActionLeave
		case "close":
			action = coordinator.ActionClose
		}
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			SessionID: s.ID,
			Action:    action,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
			ActorName: msg.SenderName,
		})
		r.reply(res, err, msg.Room)
	default:
		_ = r.presenter.Send(msg.Room, "usage: lfg create <slots> <title> | join | leave | close | list")
	}
}

// findGroup resolves a post by title prefix, falling back to the most
// recent one when the room has a single candidate or no title was given.
func (r *router) findGroup(ctx context.Context, room, title string) *session.Session {
	list, err := r.coord.FindActiveByRoom(ctx, room, session.KindGroup)
	if err != nil || len(list) == 0 {
		return nil
	}
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return list[0]
	}
	for _, s := range list {
		if s.Group != nil && strings.HasPrefix(strings.ToLower(s.Group.Title), title) {
			return s
		}
	}
	return nil
}

func (r *router) turns(ctx context.Context, msg *irisfast.Message, args []string) {
	if len(args) == 0 {
		_ = r.presenter.Send(msg.Room, "usage: turns create | join | start | next | skip | leave | end")
		return
	}
	sub := strings.ToLower(args[0])
	if sub == "create" {
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			Kind:      session.KindTurnCycle,
			Action:    coordinator.ActionCreate,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
			ActorName: msg.SenderName,
		})
		r.reply(res, err, msg.Room)
		return
	}
	s := r.latest(ctx, msg.Room, session.KindTurnCycle)
	if s == nil {
		_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.ErrNotFound))
		return
	}
	var action coordinator.Action
	switch sub {
	case "join":
		action = coordinator.ActionJoin
	case "start":
		action = coordinator.ActionStart
	case "next":
		action = coordinator.ActionAdvance
	case "skip":
		action = coordinator.ActionSkip
	case "leave":
		action = coordinator.ActionLeave
	case "end":
		action = coordinator.ActionEnd
	default:
		_ = r.presenter.Send(msg.Room, "usage: turns create | join | start | next | skip | leave | end")
		return
	}
	res, err := r.coord.Dispatch(ctx, coordinator.Request{
		SessionID: s.ID,
		Action:    action,
		Room:      msg.Room,
		ActorID:   msg.SenderID,
		ActorName: msg.SenderName,
	})
	r.reply(res, err, msg.Room)
}

func (r *router) quest(ctx context.Context, msg *irisfast.Message, args []string) {
	if len(args) == 0 {
		_ = r.presenter.Send(msg.Room, "usage: quest start [theme] | join | vote <n> | cancel")
		return
	}
	sub := strings.ToLower(args[0])
	rest := args[1:]
	if sub == "start" {
		theme := ""
		if len(rest) > 0 {
			theme = rest[0]
		}
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			Kind:      session.KindVoteQuest,
			Action:    coordinator.ActionCreate,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
			ActorName: msg.SenderName,
			Theme:     theme,
		})
		r.reply(res, err, msg.Room)
		return
	}
	s := r.latest(ctx, msg.Room, session.KindVoteQuest)
	if s == nil {
		_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.ErrNotFound))
		return
	}
	switch sub {
	case "join":
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			SessionID: s.ID,
			Action:    coordinator.ActionJoin,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
			ActorName: msg.SenderName,
		})
		r.reply(res, err, msg.Room)
	case "vote":
		if len(rest) < 1 {
			_ = r.presenter.Send(msg.Room, "usage: quest vote <n>")
			return
		}
		choice, cerr := strconv.Atoi(rest[0])
		if cerr != nil {
			_ = r.presenter.Send(msg.Room, r.fmtr.Error(session.Validationf("choice must be a number")))
			return
		}
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			SessionID: s.ID,
			Action:    coordinator.ActionVote,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
			Choice:    choice,
		})
		r.reply(res, err, msg.Room)
	case "cancel":
		res, err := r.coord.Dispatch(ctx, coordinator.Request{
			SessionID: s.ID,
			Action:    coordinator.ActionCancel,
			Room:      msg.Room,
			ActorID:   msg.SenderID,
		})
		r.reply(res, err, msg.Room)
	default:
		_ = r.presenter.Send(msg.Room, "usage: quest start [theme] | join | vote <n> | cancel")
	}
}

func (r *router) latest(ctx context.Context, room string, kind session.Kind) *session.Session {
	list, err := r.coord.FindActiveByRoom(ctx, room, kind)
	if err != nil || len(list) == 0 {
		return nil
	}
	return list[0]
}

func helpText(cfg *appcfg.AppConfig) string {
	p := cfg.BotPrefix
	var b strings.Builder
	b.WriteString("party-bot commands:\n")
	b.WriteString(p + "duel <user> : challenge to rock-paper-scissors (accept / decline / rock / paper / scissors)\n")
	b.WriteString(p + "lfg create <slots> <title> | join | leave | close | list\n")
	b.WriteString(p + "turns create | join | start | next | skip | leave | end\n")
	b.WriteString(p + "quest start [theme] | join | vote <n> | cancel\n")
	return b.String()
}
