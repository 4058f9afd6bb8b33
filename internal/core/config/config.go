package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type KafkaCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type TileCacheCfg struct {
	Enabled      bool
	L1Entries    int
	RedisAddr    string
	TTL          time.Duration
	OpTimeout    time.Duration
	HotThreshold float64
	HotHalfLife  time.Duration
}

type FetchCfg struct {
	Concurrency    int
	TileTimeout    time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	CatalogPath     string
	CatalogURL      string
	CatalogRefresh  time.Duration
	Fetch           FetchCfg
	PipelineTimeout time.Duration
	TileCache       TileCacheCfg
	CatalogEvents   KafkaCfg
	SubsetEvents    KafkaCfg
	RateLimit       int
	RateWindow      time.Duration
	MetricsEnabled  bool
	MetricsPath     string
}

// Load preloads .env (when present) into the process environment and then
// reads the configuration. Variables already set win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	brokers := split(getenv("KAFKA_BROKERS", "localhost:9092"))

	conc := getint("FETCH_CONCURRENCY", 8)
	if conc < 1 {
		conc = 1
	}
	retries := getint("FETCH_MAX_RETRIES", 3)
	if retries < 0 {
		retries = 0
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		CatalogPath:    getenv("CATALOG_PATH", ""),
		CatalogURL:     getenv("CATALOG_URL", ""),
		CatalogRefresh: getduration("CATALOG_REFRESH", 5*time.Minute),
		Fetch: FetchCfg{
			Concurrency:    conc,
			TileTimeout:    getduration("FETCH_TILE_TIMEOUT", 30*time.Second),
			MaxRetries:     retries,
			BackoffInitial: getduration("FETCH_BACKOFF_INITIAL", 200*time.Millisecond),
			BackoffMax:     getduration("FETCH_BACKOFF_MAX", 5*time.Second),
		},
		PipelineTimeout: getduration("PIPELINE_TIMEOUT", 2*time.Minute),
		TileCache: TileCacheCfg{
			Enabled:      getbool("TILE_CACHE_ENABLED", false),
			L1Entries:    getint("TILE_CACHE_L1_ENTRIES", 1024),
			RedisAddr:    getenv("REDIS_ADDR", ""),
			TTL:          getduration("TILE_CACHE_TTL", 10*time.Minute),
			OpTimeout:    getduration("TILE_CACHE_OP_TIMEOUT", 250*time.Millisecond),
			HotThreshold: getfloat("TILE_CACHE_HOT_THRESHOLD", 2.0),
			HotHalfLife:  getduration("TILE_CACHE_HOT_HALF_LIFE", time.Minute),
		},
		CatalogEvents: KafkaCfg{
			Enabled: getbool("CATALOG_EVENTS_ENABLED", false),
			Brokers: brokers,
			Topic:   getenv("CATALOG_EVENTS_TOPIC", "catalog-updates"),
			GroupID: getenv("CATALOG_EVENTS_GROUP_ID", "subset-catalog"),
		},
		SubsetEvents: KafkaCfg{
			Enabled: getbool("SUBSET_EVENTS_ENABLED", false),
			Brokers: brokers,
			Topic:   getenv("SUBSET_EVENTS_TOPIC", "subset-requests"),
		},
		RateLimit:      getint("RATE_LIMIT", 0),
		RateWindow:     getduration("RATE_WINDOW", time.Minute),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
