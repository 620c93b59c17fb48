package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all relay settings. Everything comes from the environment;
// an optional .env file is loaded first for development.
type Config struct {
	// Port the relay listens on.
	Port int
	// WebURL is the scheme+host of the web frontend/backend, e.g.
	// "https://video2commons.toolforge.org". Used for API calls, the
	// catch-all redirect and the websocket CORS origin.
	WebURL string

	// Redis connection shared by the session store and both feeds.
	RedisAddr     string
	RedisPassword string
	// SessionDB is the logical database holding session records.
	SessionDB int
	// KeyspaceDB is the logical database whose keyspace notifications carry
	// task-result mutations.
	KeyspaceDB int

	// ResultKeyPrefix identifies task-result keys in the keyspace feed; the
	// task id is the remainder of the key.
	ResultKeyPrefix string
	// NotifPrefix is the channel namespace for explicit add/update/remove
	// notifications, without the trailing colon.
	NotifPrefix string
	// IOSessionPrefix and SessionPrefix are the session-store key prefixes.
	IOSessionPrefix string
	SessionPrefix   string
	// SessionCookie is the cookie name the backend expects the resolved
	// session key under.
	SessionCookie string

	// FetchTimeout bounds every backend HTTP call.
	FetchTimeout time.Duration
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		Port:            8081,
		WebURL:          "https://video2commons.toolforge.org",
		RedisAddr:       "localhost:6379",
		SessionDB:       3,
		KeyspaceDB:      1,
		ResultKeyPrefix: "celery-task-meta-",
		NotifPrefix:     "v2cnotif",
		IOSessionPrefix: "iosession:",
		SessionPrefix:   "session:",
		SessionCookie:   "v2c-session",
		FetchTimeout:    10 * time.Second,
	}
}

// Load builds a Config from the environment. A missing .env file is fine.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = p
	}
	if v := os.Getenv("V2C_WEB_URL"); v != "" {
		cfg.WebURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	cfg.SessionDB = getenvIntDefault("V2C_SESSION_DB", cfg.SessionDB)
	cfg.KeyspaceDB = getenvIntDefault("V2C_KEYSPACE_DB", cfg.KeyspaceDB)
	if v := os.Getenv("V2C_RESULT_KEY_PREFIX"); v != "" {
		cfg.ResultKeyPrefix = v
	}
	if v := os.Getenv("V2C_NOTIF_PREFIX"); v != "" {
		cfg.NotifPrefix = v
	}
	if v := os.Getenv("V2C_SESSION_COOKIE"); v != "" {
		cfg.SessionCookie = v
	}
	if secs := getenvIntDefault("V2C_FETCH_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.FetchTimeout = time.Duration(secs) * time.Second
	}

	return cfg, nil
}

// getenvIntDefault parses an integer env var, falling back to def when the
// variable is unset or malformed.
func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
