package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Party-KakaoTalk-bot/internal/adapter/partypresenter"
	appcfg "github.com/park285/Party-KakaoTalk-bot/internal/config"
	"github.com/park285/Party-KakaoTalk-bot/internal/coordinator"
	"github.com/park285/Party-KakaoTalk-bot/internal/history"
	"github.com/park285/Party-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Party-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Party-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Party-KakaoTalk-bot/internal/schedule"
	"github.com/park285/Party-KakaoTalk-bot/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}

	catalog, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	store, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("session store init error: %v", err)
	}

	sched := schedule.NewTimerScheduler()
	coord := coordinator.New(store, sched, coordinator.Options{
		DuelRespondBy: cfg.DuelRespondBy,
		DuelMoveBy:    cfg.DuelMoveBy,
		QuestRoundBy:  cfg.QuestRoundBy,
	})

	// history archive is optional: no DATABASE_URL means no audit record
	var repo *history.Repository
	if cfg.DatabaseURL != "" {
		repo, err = history.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("history repo init error: %v", err)
		}
		coord.AttachArchiver(repo)
		coord.AttachRewardSink(repo)
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}

	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers))
	presenter := partypresenter.NewPresenter(func(room, message string) error {
		return client.SendMessage(context.Background(), room, message)
	})
	formatter := partypresenter.NewFormatter(catalog)
	router := newRouter(cfg, coord, presenter, formatter)

	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		obslog.L().Info("ws_state", zap.String("state", string(state)))
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		if msg == nil || msg.Msg == "" {
			return
		}
		if len(cfg.AllowedRooms) > 0 && !roomAllowed(cfg.AllowedRooms, msg.Room) {
			return
		}
		if !strings.HasPrefix(strings.TrimSpace(msg.Msg), cfg.BotPrefix) {
			return
		}
		// keep the WS read loop free
		go router.handle(msg)
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		log.Fatalf("ws connect error: %v", err)
	}
	cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = ws.Close(context.Background())
	sched.Stop()
	_ = store.Close()
	if repo != nil {
		_ = repo.Close()
	}
}

func roomAllowed(allowed []string, room string) bool {
	for _, r := range allowed {
		if r == room {
			return true
		}
	}
	return false
}
