package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/playquickdraw/backend/internal/api"
	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/database"
	"github.com/playquickdraw/backend/internal/duel"
	"github.com/playquickdraw/backend/internal/leaderboard"
	"github.com/playquickdraw/backend/internal/ledger"
	"github.com/playquickdraw/backend/internal/migrations"
	"github.com/playquickdraw/backend/internal/models"
	"github.com/playquickdraw/backend/internal/payment"
	"github.com/playquickdraw/backend/internal/redis"
	"github.com/playquickdraw/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database (ledger + admin accounts)
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis (authoritative match store + locks + pub/sub)
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Treasury client for deposit verification and payouts
	treasury := payment.NewClient(cfg)
	if treasury != nil {
		payment.SetDefault(treasury)
		log.Printf("[PAYMENT] Treasury client initialized (base=%s)", cfg.TreasuryBaseURL)
	}

	// Duel engine wiring
	store := duel.NewStore(rdb, cfg.HistoryLimit, cfg.RecentLimit)
	rules := duel.RulesFromConfig(cfg)

	var verifier duel.DepositVerifier
	if treasury != nil && cfg.VerifyDeposits {
		verifier = treasury
	} else {
		log.Println("[DUEL] WARNING: deposit verification disabled - payment references are trusted")
	}

	coord := duel.NewCoordinator(store, rules, verifier, cfg)
	coord.SetPublisher(func(m *models.Match) {
		ws.PublishMatch(rdb, m)
	})

	var executor duel.PayoutExecutor
	if treasury != nil {
		executor = treasury
	} else {
		executor = unpayableExecutor{}
	}
	lgr := ledger.New(db)
	settler := duel.NewSettler(store, rdb, executor, cfg, lgr)

	if notifier := leaderboard.NewNotifier(cfg); notifier != nil {
		duel.SetLeaderboardNotifier(notifier)
	}

	// Live match feed subscriber
	ws.StartMatchEventSubscriber(context.Background(), rdb)

	// HTTP server
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, coord, settler, db, lgr, cfg)

	log.Printf("[SERVER] Listening on :%s (env=%s)", cfg.Port, cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// unpayableExecutor refuses payouts when no treasury is configured, so
// matches still play out in development but money never pretends to move.
type unpayableExecutor struct{}

func (unpayableExecutor) SendPayout(ctx context.Context, matchID, account string, amount int64) (string, error) {
	return "", errors.New("treasury not configured; payout unavailable")
}
