package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all tunables. Values come from the environment with the
// documented defaults; nothing else reads os.Getenv directly.
type Config struct {
	Port        string
	RedisAddr   string
	RedisPass   string
	DatabaseDSN string
	JWTSecret   string

	MinCohort int

	AcceptanceTimeout   time.Duration // whole acceptance window
	DraftActionTimeout  time.Duration // per ban/pick action
	ConfirmationTimeout time.Duration // final confirmation countdown
	GameTimeout         time.Duration // in-progress ceiling
	GameMonitorInterval time.Duration
	PlayerLockTTL       time.Duration
	JanitorInterval     time.Duration
	BotAutoAcceptDelay  time.Duration

	// Web push (optional; empty disables notifications).
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),
		DatabaseDSN: getEnv("DATABASE_PATH", "./data/inhouse.db"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MinCohort: getEnvInt("QUEUE_MIN_COHORT", 10),

		AcceptanceTimeout:   getEnvDuration("ACCEPTANCE_TIMEOUT_SECONDS", 30) * time.Second,
		DraftActionTimeout:  getEnvDuration("DRAFT_ACTION_TIMEOUT_MS", 30000) * time.Millisecond,
		ConfirmationTimeout: getEnvDuration("DRAFT_CONFIRMATION_TIMEOUT_SECONDS", 30) * time.Second,
		GameTimeout:         getEnvDuration("GAME_TIMEOUT_MS", 3600000) * time.Millisecond,
		GameMonitorInterval: getEnvDuration("GAME_MONITORING_INTERVAL_MS", 5000) * time.Millisecond,
		PlayerLockTTL:       getEnvDuration("PLAYER_LOCK_TTL_HOURS", 4) * time.Hour,
		JanitorInterval:     getEnvDuration("JANITOR_INTERVAL_MS", 300000) * time.Millisecond,
		BotAutoAcceptDelay:  getEnvDuration("BOT_AUTO_ACCEPT_DELAY_MS", 2000) * time.Millisecond,

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		PushSubscriber:  getEnv("VAPID_SUBSCRIBER", "mailto:admin@localhost"),
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
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(n)
		}
	}
	return time.Duration(defaultValue)
}
