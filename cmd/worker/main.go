package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guest-messaging/internal/agent"
	"guest-messaging/internal/chat"
	"guest-messaging/internal/chatlog"
	"guest-messaging/internal/config"
	"guest-messaging/internal/delivery"
	"guest-messaging/internal/guests"
	"guest-messaging/internal/lock"
	"guest-messaging/internal/messaging"
	"guest-messaging/internal/queue"
	"guest-messaging/internal/store"
	"guest-messaging/internal/tools"
	"guest-messaging/pkg/logger"
	"guest-messaging/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// The worker consumes reply jobs, sweeps idle sessions and, with the
// whatsmeow transport, owns the linked device.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)
	ctx := logger.With(rootCtx, log)

	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.NewPostgres(db)

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
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
	consumer, err := queue.NewConsumer(rdb, queue.ConsumerConfig{
		Stream:      cfg.Queue.Stream,
		Group:       cfg.Queue.Group,
		Consumer:    cfg.Queue.Consumer,
		MaxAttempts: cfg.Queue.MaxAttempts,
		MinIdle:     cfg.Queue.MinIdle,
	}, signer)
	if err != nil {
		log.Error("queue consumer init failed", "err", err)
		os.Exit(1)
	}

	reasoner, err := agent.NewOpenAIReasoner(cfg.Agent.BaseURL, cfg.Agent.APIKey, cfg.Agent.Model)
	if err != nil {
		log.Error("agent init failed", "err", err)
		os.Exit(1)
	}

	tracker := delivery.NewTracker(st)
	manager := chat.NewManager(st, publisher)

	var sender messaging.Sender
	switch cfg.WhatsApp.Transport {
	case "whatsmeow":
		wa, err := messaging.OpenWhatsmeow(ctx, cfg.WhatsApp.DataDir, log)
		if err != nil {
			log.Error("whatsmeow init failed", "err", err)
			os.Exit(1)
		}
		wa.OnMessage(func(ctx context.Context, m messaging.Inbound) error {
			_, err := manager.HandleInbound(ctx, m)
			return err
		})
		wa.OnStatus(func(ctx context.Context, u messaging.StatusUpdate) error {
			_, _, err := tracker.Apply(ctx, u)
			return err
		})
		if err := wa.Connect(ctx); err != nil {
			log.Error("whatsmeow connect failed", "err", err)
			os.Exit(1)
		}
		defer wa.Disconnect()
		sender = wa
	default:
		tw, err := messaging.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		if err != nil {
			log.Error("twilio sender init failed", "err", err)
			os.Exit(1)
		}
		sender = tw
	}

	locks := lock.NewService(rdb)
	dispatcher, err := chat.NewDispatcher(chat.DispatcherDeps{
		Store:    st,
		Locks:    locks,
		Caps:     rdb,
		Invoker:  agent.NewInvoker(reasoner, cfg.Agent.Timeout),
		Executor: tools.NewExecutor(guests.NewService(st).WithCountCache(guests.NewCountCache(rdb, 5*time.Minute))),
		Logs:     chatlog.NewService(st),
		Sender:   sender,
		Tracker:  tracker,
		Jobs:     publisher,
	}, chat.DispatcherConfig{
		LockTTL:             cfg.Chat.LockTTL,
		MaxConcurrentPerOrg: cfg.Chat.MaxConcurrentPerOrg,
		StatusCallbackURL:   cfg.Twilio.StatusCallbackURL(),
	})
	if err != nil {
		log.Error("dispatcher init failed", "err", err)
		os.Exit(1)
	}
	consumer.Handle(chat.JobReply, dispatcher.HandleJob)

	sweeper := chat.NewSweeper(st, locks, cfg.Chat.IdleTimeout)
	go sweeper.Run(ctx, cfg.Chat.SweepInterval)

	log.Info("worker started", "stream", cfg.Queue.Stream, "transport", cfg.WhatsApp.Transport)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "err", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
