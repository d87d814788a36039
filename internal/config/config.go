package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StoreSQLite   = "sqlite"
	StoreAzTables = "aztables"

	BroadcastRedis = "redis"
	BroadcastLocal = "local"
	BroadcastLog   = "log"
)

// Config holds the server settings read from the environment.
type Config struct {
	Debug     bool
	LogFormat string
	Port      string

	StoreDriver     string
	SQLitePath      string
	StorageConnStr  string
	TasksTable      string
	CategoriesTable string
	PrioritiesTable string
	BroadcastDriver string
	RedisConnStr    string
	ReferenceTTL    time.Duration
	IdempotencyTTL  time.Duration
	PublishWorkers  int
	PublishBuffer   int
	PublishTimeout  time.Duration
	PublishHandoff  time.Duration
	SSEHeartbeat    time.Duration
	Seed            bool
}

// Load reads the configuration. Malformed values are reported as errors
// rather than silently replaced by defaults.
func Load() (Config, error) {
	var errs []string
	c := Config{
		LogFormat:       getenv("LOG_FORMAT", "text"),
		Port:            getenv("TASKTRACKER_PORT", "8080"),
		StoreDriver:     getenv("STORE_DRIVER", StoreSQLite),
		SQLitePath:      getenv("SQLITE_PATH", "tasktracker.db"),
		StorageConnStr:  os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:      getenv("TASKS_TABLE", "Tasks"),
		CategoriesTable: getenv("CATEGORIES_TABLE", "Categories"),
		PrioritiesTable: getenv("PRIORITIES_TABLE", "Priorities"),
		RedisConnStr:    os.Getenv("REDIS_CONNECTION_STRING"),
	}
	c.Debug = envBool("DEBUG", false, &errs)
	c.Seed = envBool("SEED", false, &errs)
	c.ReferenceTTL = envDur("REFERENCE_CACHE_TTL", time.Hour, &errs)
	c.IdempotencyTTL = envDur("IDEMPOTENCY_TTL", 24*time.Hour, &errs)
	c.PublishWorkers = envInt("PUBLISH_WORKERS", 4, &errs)
	c.PublishBuffer = envInt("PUBLISH_BUFFER", 256, &errs)
	c.PublishTimeout = envDur("PUBLISH_TIMEOUT", 5*time.Second, &errs)
	c.PublishHandoff = envDur("PUBLISH_HANDOFF_TIMEOUT", 10*time.Millisecond, &errs)
	c.SSEHeartbeat = envDur("SSE_HEARTBEAT", 15*time.Second, &errs)

	defaultBroadcast := BroadcastLocal
	if c.RedisConnStr != "" {
		defaultBroadcast = BroadcastRedis
	}
	c.BroadcastDriver = getenv("BROADCAST_DRIVER", defaultBroadcast)

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	switch c.StoreDriver {
	case StoreSQLite:
	case StoreAzTables:
		if c.StorageConnStr == "" {
			errs = append(errs, "STORAGE_CONNECTION_STRING: required for the aztables store")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}
	switch c.BroadcastDriver {
	case BroadcastLocal, BroadcastLog:
	case BroadcastRedis:
		if c.RedisConnStr == "" {
			errs = append(errs, "REDIS_CONNECTION_STRING: required for the redis broadcast driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("BROADCAST_DRIVER: unknown driver %q", c.BroadcastDriver))
	}
	if c.PublishWorkers <= 0 {
		errs = append(errs, "PUBLISH_WORKERS: must be greater than zero")
	}
	if c.PublishBuffer < 0 {
		errs = append(errs, "PUBLISH_BUFFER: must not be negative")
	}
	if c.SSEHeartbeat <= 0 {
		errs = append(errs, "SSE_HEARTBEAT: must be greater than zero")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure style "host:port,password=...,ssl=true" form are accepted.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func envDur(key string, def time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func envBool(key string, def bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}
