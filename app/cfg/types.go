package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath        string
	CacheBackend  string
	CacheSize     int
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Application configuration
	SourcesDir        string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Deduplication
	SimilarityThreshold float64
	BodyWeight          float64
	WindowAge           time.Duration
	WindowSize          int
	WindowRefresh       time.Duration
	StoreTimeout        time.Duration

	// Retries
	ItemRetries  int
	FetchRetries int
	BackoffBase  time.Duration
	BackoffMax   time.Duration

	// Report publishing
	KafkaBrokers []string
	KafkaTopic   string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
