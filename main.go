package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/swapdesk/stickerswap/stickerswap"
	"github.com/swapdesk/stickerswap/stickerswap/database"
	"github.com/swapdesk/stickerswap/stickerswap/database/repositories"
	"github.com/swapdesk/stickerswap/stickerswap/events"
	"github.com/swapdesk/stickerswap/stickerswap/logger"
	"github.com/swapdesk/stickerswap/stickerswap/migration"
	"github.com/swapdesk/stickerswap/stickerswap/notifications"
	"github.com/swapdesk/stickerswap/stickerswap/services"
	"github.com/swapdesk/stickerswap/stickerswap/trade"
	"github.com/swapdesk/stickerswap/stickerswap/web"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	runImport := flag.Bool("import-legacy", false, "import legacy sticker records from mongo and exit")
	flag.Parse()

	cfg, err := stickerswap.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	logger.Setup(logger.ParseLevel(cfg.Log.Level))

	slog.Info("Starting stickerswap",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dbStartTime := time.Now()
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		os.Exit(-1)
	}
	slog.Info("Database ready",
		slog.String("type", "db"),
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if *runImport {
		importer := migration.NewImporter(db.BunDB(), cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if _, err := importer.Run(ctx); err != nil {
			slog.Error("Legacy import failed", slog.String("error", err.Error()))
			os.Exit(-1)
		}
		return
	}

	var hub events.Hub
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("Redis connection failed", slog.String("error", err.Error()))
			os.Exit(-1)
		}
		hub = events.NewRedisHub(client)
		slog.Info("Using redis event hub", slog.String("addr", cfg.Redis.Addr))
	} else {
		hub = events.NewMemoryHub()
		slog.Info("Using in-memory event hub")
	}
	defer hub.Close()

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Discord.Token != "" {
		notifier = notifications.NewDiscordNotifier(cfg.Discord.Token)
		slog.Info("Discord notifications enabled")
	}

	sessionRepo := repositories.NewSessionRepository(db.BunDB())
	ledgerRepo := repositories.NewLedgerRepository(db.BunDB())
	stickerRepo := repositories.NewStickerRepository(db.BunDB())
	messageRepo := repositories.NewMessageRepository(db.BunDB())

	engine := trade.NewEngine(sessionRepo, ledgerRepo, stickerRepo, messageRepo, hub, notifier, trade.Config{
		MatchingTTL:      cfg.Trade.MatchingTTL(),
		MailboxTTL:       cfg.Trade.MailboxTTL(),
		MinMailboxOffers: cfg.Trade.MinMailboxOffers,
	})

	sweeper := trade.NewSweeper(engine, cfg.Trade.SweepInterval())
	sweeper.Start()
	defer sweeper.Shutdown()

	search := services.NewStickerSearchService(stickerRepo)
	profiles := services.NewProfileCache(&services.StaticIdentityStore{}, 10*time.Minute)

	var images *services.StickerImageService
	if cfg.Spaces.Key != "" {
		images, err = services.NewStickerImageService(cfg.Spaces.Key, cfg.Spaces.Secret, cfg.Spaces.Region, cfg.Spaces.Bucket, cfg.Spaces.StickerRoot)
		if err != nil {
			slog.Error("Failed to initialize sticker artwork resolver", slog.String("error", err.Error()))
			os.Exit(-1)
		}
		slog.Info("Sticker artwork resolver enabled", slog.String("bucket", cfg.Spaces.Bucket))
	}

	server := web.NewServer(cfg.HTTP.Addr, engine, search, profiles, stickerRepo, images)
	server.Start()

	slog.Info("Stickerswap is now running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-s

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.String("error", err.Error()))
	}
}
