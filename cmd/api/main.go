package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guest-messaging/internal/auth"
	"guest-messaging/internal/chat"
	"guest-messaging/internal/chatlog"
	"guest-messaging/internal/config"
	"guest-messaging/internal/delivery"
	"guest-messaging/internal/guests"
	"guest-messaging/internal/httpapi"
	"guest-messaging/internal/queue"
	"guest-messaging/internal/reporting"
	"guest-messaging/internal/store"
	"guest-messaging/internal/usage"
	"guest-messaging/pkg/logger"
	"guest-messaging/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const guestCountTTL = 5 * time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.NewPostgres(db)
	if err := st.EnsureSchema(rootCtx); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	signer, err := queue.NewSigner(cfg.Queue.SigningKey)
	if err != nil {
		log.Error("queue signer init failed", "err", err)
		os.Exit(1)
	}
	publisher := queue.NewPublisher(rdb, cfg.Queue.Stream, signer)

	counts := guests.NewCountCache(rdb, guestCountTTL)
	admin := httpapi.Handlers{
		Store:    st,
		Guests:   guests.NewService(st).WithCountCache(counts),
		Importer: guests.NewImporter(st, counts),
		Counts:   counts,
		Logs:     chatlog.NewService(st),
		Reports:  reporting.NewService(st),
		Usage:    usage.NewService(st),
	}
	webhooks := httpapi.TwilioWebhooks{
		Inbound: chat.NewManager(st, publisher),
		Status:  delivery.NewTracker(st),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW:   auth.RequireAccessToken(authManager),
		verifyMW: httpapi.VerifyTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL, cfg.Twilio.ValidateSignature),
		admin:    admin,
		webhooks: webhooks,
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
