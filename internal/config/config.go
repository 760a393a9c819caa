package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Duel timing policy (durations in milliseconds unless noted)
	ReadyWindowSeconds  int // ready-room deadline after both deposits land
	CountdownMs         int // fixed countdown before the random window
	MinRandomDelayMs    int // lower bound of the random pre-go delay
	MaxRandomDelayMs    int // upper bound of the random pre-go delay
	MinReactionMs       int // reactions faster than this are treated as automation
	FinalizeWindowMs    int // forfeit deadline armed by the first valid click
	ClientSkewClampMs   int // how far a client-reported click instant may drift from server receipt
	CASMaxRetries       int
	SettleLockSeconds   int
	HistoryLimit        int // per-account recent-match list cap
	RecentLimit         int // global recent-activity list cap
	OpenListDefaultSize int

	// Stake policy
	MinStakeAmount int64 // smallest currency unit
	MaxFeeBps      int

	// Treasury service (deposit verification + payouts)
	TreasuryBaseURL string
	TreasuryAPIKey  string
	TreasuryTimeout int // seconds
	VerifyDeposits  bool

	// Leaderboard service
	LeaderboardURL    string
	LeaderboardAPIKey string

	// Security
	JWTSecret         string
	SessionTimeoutMin int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/quickdraw?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Duel timing policy
		ReadyWindowSeconds:  getEnvInt("READY_WINDOW_SECONDS", 30),
		CountdownMs:         getEnvInt("COUNTDOWN_MS", 3000),
		MinRandomDelayMs:    getEnvInt("MIN_RANDOM_DELAY_MS", 900),
		MaxRandomDelayMs:    getEnvInt("MAX_RANDOM_DELAY_MS", 2200),
		MinReactionMs:       getEnvInt("MIN_REACTION_MS", 120),
		FinalizeWindowMs:    getEnvInt("FINALIZE_WINDOW_MS", 5000),
		ClientSkewClampMs:   getEnvInt("CLIENT_SKEW_CLAMP_MS", 1500),
		CASMaxRetries:       getEnvInt("CAS_MAX_RETRIES", 8),
		SettleLockSeconds:   getEnvInt("SETTLE_LOCK_SECONDS", 60),
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 50),
		RecentLimit:         getEnvInt("RECENT_LIMIT", 100),
		OpenListDefaultSize: getEnvInt("OPEN_LIST_DEFAULT_SIZE", 20),

		// Stake policy
		MinStakeAmount: getEnvInt64("MIN_STAKE_AMOUNT", 1),
		MaxFeeBps:      getEnvInt("MAX_FEE_BPS", 10000),

		// Treasury
		TreasuryBaseURL: getEnv("TREASURY_BASE_URL", ""),
		TreasuryAPIKey:  getEnv("TREASURY_API_KEY", ""),
		TreasuryTimeout: getEnvInt("TREASURY_TIMEOUT_SECONDS", 15),
		VerifyDeposits:  getEnvBool("VERIFY_DEPOSITS", false),

		// Leaderboard
		LeaderboardURL:    getEnv("LEADERBOARD_URL", ""),
		LeaderboardAPIKey: getEnv("LEADERBOARD_API_KEY", ""),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		SessionTimeoutMin: getEnvInt("SESSION_TIMEOUT_MINUTES", 240),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
