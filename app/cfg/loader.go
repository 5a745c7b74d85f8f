package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./data/news-comb.db" description:"SQLite database file"`
	CacheBackend  string `long:"cache-backend" env:"CACHE_BACKEND" default:"memory" choice:"memory" choice:"redis" description:"Fingerprint cache backend"`
	CacheSize     int    `long:"cache-size" env:"CACHE_SIZE" default:"10000" description:"Maximum entries in the memory cache"`
	CacheTTL      int    `long:"cache-ttl" env:"CACHE_TTL" default:"86400" description:"Cache entry TTL in seconds"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for source ingestion"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Deduplication
	SimilarityThreshold float64 `long:"similarity-threshold" env:"SIMILARITY_THRESHOLD" default:"0.85" description:"Minimum score for two items to be merged"`
	BodyWeight          float64 `long:"body-weight" env:"BODY_WEIGHT" default:"0" description:"Weight of the body excerpt in the similarity score"`
	WindowAge           int     `long:"window-age" env:"WINDOW_AGE" default:"168" description:"Age of the similarity window in hours"`
	WindowSize          int     `long:"window-size" env:"WINDOW_SIZE" default:"5000" description:"Maximum items in the similarity window"`
	WindowRefresh       int     `long:"window-refresh" env:"WINDOW_REFRESH" default:"600" description:"Similarity window refresh interval in seconds"`
	StoreTimeout        int     `long:"store-timeout" env:"STORE_TIMEOUT" default:"5" description:"Timeout of a single store call in seconds"`

	// Retries
	ItemRetries  int `long:"item-retries" env:"ITEM_RETRIES" default:"3" description:"Admission attempts per item"`
	FetchRetries int `long:"fetch-retries" env:"FETCH_RETRIES" default:"2" description:"Retries of a transient fetch failure within one run"`
	BackoffBase  int `long:"backoff-base" env:"BACKOFF_BASE" default:"60" description:"First backoff after a failed run in seconds"`
	BackoffMax   int `long:"backoff-max" env:"BACKOFF_MAX" default:"3600" description:"Maximum backoff in seconds"`

	// Report publishing
	KafkaBrokers []string `long:"kafka-broker" env:"KAFKA_BROKERS" env-delim:"," description:"Kafka broker address for ingest reports (repeatable)"`
	KafkaTopic   string   `long:"kafka-topic" env:"KAFKA_TOPIC" default:"ingest-reports" description:"Kafka topic for ingest reports"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"News Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	cfg, err := parse(os.Args[1:])
	if err != nil || cfg == nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// parse returns nil, nil when help was requested.
func parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		CacheBackend:        raw.CacheBackend,
		CacheSize:           raw.CacheSize,
		CacheTTL:            time.Duration(raw.CacheTTL) * time.Second,
		RedisAddr:           raw.RedisAddr,
		RedisPassword:       raw.RedisPassword,
		RedisDB:             raw.RedisDB,
		SourcesDir:          raw.SourcesDir,
		Port:                raw.Port,
		WorkerCount:         raw.WorkerCount,
		SchedulerInterval:   raw.SchedulerInterval,
		APIAccessKey:        raw.APIAccessKey,
		SimilarityThreshold: raw.SimilarityThreshold,
		BodyWeight:          raw.BodyWeight,
		WindowAge:           time.Duration(raw.WindowAge) * time.Hour,
		WindowSize:          raw.WindowSize,
		WindowRefresh:       time.Duration(raw.WindowRefresh) * time.Second,
		StoreTimeout:        time.Duration(raw.StoreTimeout) * time.Second,
		ItemRetries:         raw.ItemRetries,
		FetchRetries:        raw.FetchRetries,
		BackoffBase:         time.Duration(raw.BackoffBase) * time.Second,
		BackoffMax:          time.Duration(raw.BackoffMax) * time.Second,
		KafkaBrokers:        raw.KafkaBrokers,
		KafkaTopic:          raw.KafkaTopic,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", cfg.SimilarityThreshold)
	}
	if cfg.BodyWeight < 0 || cfg.BodyWeight >= 1 {
		return fmt.Errorf("body weight must be in [0, 1), got %v", cfg.BodyWeight)
	}
	if cfg.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if cfg.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		return fmt.Errorf("backoff max must not be lower than backoff base")
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
