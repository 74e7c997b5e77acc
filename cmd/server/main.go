package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/lol-inhouse/internal/acceptance"
	"github.com/edvart/lol-inhouse/internal/bridge"
	"github.com/edvart/lol-inhouse/internal/broadcast"
	"github.com/edvart/lol-inhouse/internal/config"
	"github.com/edvart/lol-inhouse/internal/draft"
	"github.com/edvart/lol-inhouse/internal/events"
	"github.com/edvart/lol-inhouse/internal/game"
	"github.com/edvart/lol-inhouse/internal/janitor"
	"github.com/edvart/lol-inhouse/internal/kv"
	"github.com/edvart/lol-inhouse/internal/ownership"
	"github.com/edvart/lol-inhouse/internal/playerstate"
	"github.com/edvart/lol-inhouse/internal/push"
	"github.com/edvart/lol-inhouse/internal/queue"
	"github.com/edvart/lol-inhouse/internal/session"
	"github.com/edvart/lol-inhouse/internal/store"
	"github.com/edvart/lol-inhouse/internal/web"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0755); err != nil {
		logrus.WithError(err).Fatal("failed to create data directory")
	}

	sql, err := store.NewSQLiteStore(cfg.DatabaseDSN)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize database")
	}
	defer sql.Close()

	kvStore, err := kv.NewRedisStore(context.Background(), cfg.RedisAddr, cfg.RedisPass)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to redis")
	}
	defer kvStore.Close()

	locker := kv.NewLocker(kvStore)
	states := playerstate.NewRegistry(kvStore)
	owners := ownership.NewMaps(kvStore)
	bus := events.NewBus(kvStore)

	chat := bridge.NewLogChat()
	gameClient := bridge.NewNoopGameClient()
	ranked := &bridge.StaticRankedData{}

	queueEngine := queue.NewEngine(cfg, sql, locker, states, bus)
	acceptanceCoord := acceptance.NewCoordinator(cfg, kvStore, locker, sql, states, owners, bus, chat)
	draftEngine := draft.NewEngine(cfg, kvStore, locker, sql, states, bus, chat)
	gameMonitor := game.NewMonitor(cfg, kvStore, locker, sql, states, owners, bus, chat, gameClient)

	// Phase handoffs are injected to keep the dependencies one-way.
	queueEngine.SetStarter(acceptanceCoord)
	acceptanceCoord.SetDraftStarter(draftEngine)
	draftEngine.SetGameStarter(gameMonitor)

	registry := session.NewRegistry()
	locks := session.NewLocks(kvStore, cfg.PlayerLockTTL)
	broadcaster := broadcast.New(kvStore, owners, registry)
	jan := janitor.New(cfg, kvStore, sql, states, owners)

	pushService := push.NewService(sql, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.PushSubscriber)
	notifier := push.NewNotifier(kvStore, pushService)

	server := web.NewServer(cfg, queueEngine, acceptanceCoord, draftEngine, gameMonitor,
		sql, states, owners, registry, locks, pushService, ranked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rebuild ephemeral state for matches that survived a restart.
	if err := draftEngine.Resume(ctx); err != nil {
		logrus.WithError(err).Warn("draft resume failed")
	}
	if err := gameMonitor.Resume(ctx); err != nil {
		logrus.WithError(err).Warn("game resume failed")
	}

	go queueEngine.RunMatcher(ctx)
	go acceptanceCoord.RunMonitor(ctx)
	go draftEngine.RunMonitor(ctx)
	go gameMonitor.RunMonitor(ctx)
	go jan.Run(ctx)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("broadcaster stopped")
		}
	}()
	go func() {
		if err := notifier.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("push notifier stopped")
		}
	}()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server,
	}
	go func() {
		logrus.WithField("port", cfg.Port).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("shutdown incomplete")
	}
}
