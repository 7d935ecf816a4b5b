package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// BusURL is the NATS server URL. Empty selects the in-process bus,
	// which only fans out inside a single server process.
	BusURL string

	PresenceSweepInterval time.Duration
	PresenceStaleAfter    time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getduration(key, def string) time.Duration {
	d, err := time.ParseDuration(getenv(key, def))
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

func Load() Config {
	// Missing .env is fine; system environment wins either way.
	_ = godotenv.Load()

	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=roomcast port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getint("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getint("REFRESH_TOKEN_TTL_DAYS", 7),
		BusURL:                getenv("BUS_URL", ""),
		PresenceSweepInterval: getduration("PRESENCE_SWEEP_INTERVAL", "30s"),
		PresenceStaleAfter:    getduration("PRESENCE_STALE_AFTER", "2m"),
	}
}

// Validate rejects configurations that cannot safely serve.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("jwt secret must be set outside dev")
	}
	return nil
}
