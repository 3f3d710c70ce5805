package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"roomrelay/backend/internal/api/handler"
	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/notify"
	"roomrelay/backend/internal/presence"
	"roomrelay/backend/internal/ratelimit"
	"roomrelay/backend/internal/storage"
	"roomrelay/backend/internal/telegram"
)

func setupDependencies(cfg *config.Config, log zerolog.Logger) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}

	return db, rdb
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Info().Msg("starting roomrelay backend")

	cfg := config.Load()

	db, rdb := setupDependencies(cfg, log)
	store := storage.NewService(db)
	if err := store.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("database and redis ready, migrations complete")

	tracker := presence.NewTracker(presence.NewRedisStore(rdb), cfg.RedisPrefix)
	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisCounter(rdb),
		cfg.RedisPrefix,
		cfg.RateLimitPoints,
		cfg.RateLimitDuration,
	)

	hub := chathub.NewHub(tracker, log)
	relay := chathub.NewRelayBroadcaster(hub, rdb, cfg.RedisPrefix+"gateway:events", log)

	jobQueue := notify.NewRedisJobQueue(rdb, cfg.RedisPrefix)
	router := notify.NewRouter(tracker, relay, jobQueue, cfg.NotifyQueue, log)

	var tgPusher notify.TelegramPusher
	if notifier, err := telegram.NewNotifier(cfg.TelegramBotToken, log); err != nil {
		log.Error().Err(err).Msg("telegram notifier disabled")
	} else if notifier != nil {
		tgPusher = notifier
	}
	worker := notify.NewWorker(jobQueue, store, store, tgPusher, notify.WorkerConfig{
		Queue:       cfg.NotifyQueue,
		DeadLetter:  cfg.NotifyDeadLetter,
		MaxAttempts: cfg.MaxJobAttempts,
		BackoffBase: cfg.JobBackoffBase,
	}, log)

	pipeline := chathub.NewPipeline(
		store, store, store, store,
		tracker, limiter, router, relay,
		chathub.PipelineConfig{
			MaxContentLength:  cfg.MaxContentLength,
			SendLimitPoints:   int64(cfg.SendLimitPoints),
			SendLimitDuration: cfg.SendLimitDuration,
		},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go relay.Listen(ctx)
	go worker.Run(ctx)

	h := handler.NewHandler(hub, pipeline, store, tracker, cfg.JWTSecret, cfg.JWTTTL, log)

	r := gin.Default()
	r.Use(handler.RateLimitHTTP(rate.Limit(20), 40))

	r.POST("/auth/token", h.IssueToken)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", h.RequireAuth)
	authed.GET("/rooms/:id/messages", h.RoomMessages)
	authed.GET("/rooms/:id/presence", h.RoomPresence)
	authed.GET("/users/:id/presence", h.UserPresence)
	authed.GET("/notifications", h.Notifications)
	authed.POST("/notifications/read", h.MarkNotificationsRead)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server exited")
	}
}
