package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	RedisURL  string
	RedisPass string
	RedisDB   int

	DatabaseDSN string

	JWTSecret string
	JWTTTL    time.Duration

	RPCURLs         []string
	ChainID         int64
	ContractAddress string

	SessionTTL          time.Duration
	SweepInterval       time.Duration
	SweepGrace          time.Duration
	LeaderboardCacheTTL time.Duration
}

// Load reads the configuration from the environment. Call godotenv.Load
// first if a .env file should be honoured.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getenv("PORT", "8080"),
		Env:             getenv("ENV", "development"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		RedisURL:        getenv("REDIS_URL", "localhost:6379"),
		RedisPass:       os.Getenv("REDIS_PASSWORD"),
		DatabaseDSN:     os.Getenv("DATABASE_DSN"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		ContractAddress: strings.ToLower(os.Getenv("CONTRACT_ADDRESS")),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	chainID, err := getInt("CHAIN_ID", 5003)
	if err != nil {
		return nil, err
	}
	cfg.ChainID = int64(chainID)

	if cfg.JWTTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepGrace, err = getDuration("SWEEP_GRACE", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LeaderboardCacheTTL, err = getDuration("LEADERBOARD_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	for _, u := range strings.Split(os.Getenv("RPC_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.RPCURLs = append(cfg.RPCURLs, u)
		}
	}

	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret-change-me"
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ChainEnabled reports whether on-chain reads are configured.
func (c *Config) ChainEnabled() bool {
	return len(c.RPCURLs) > 0 && c.ContractAddress != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return d, nil
}
