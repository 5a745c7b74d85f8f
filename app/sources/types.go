package sources

import (
	"time"

	"github.com/robfig/cron/v3"
)

const (
	TypeFeed = "feed"
	TypeAPI  = "api"
	TypeFile = "file"
)

type Config struct {
	Name     string    // Derived from filename (without .yml extension)
	Type     string    `yaml:"type"` // feed, api or file; feed when empty
	URL      string    `yaml:"url"`  // endpoint, or a local path for file sources
	Settings Settings  `yaml:"settings"`
	API      APIConfig `yaml:"api"`
	Filters  []Filter  `yaml:"filters"`
}

type Settings struct {
	Enabled                bool   `yaml:"enabled"`
	RefreshInterval        int    `yaml:"refresh_interval"` // seconds
	Schedule               string `yaml:"schedule"`         // cron spec, overrides refresh_interval
	MaxItems               int    `yaml:"max_items"`
	Timeout                int    `yaml:"timeout"` // seconds
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
	ExtractContent         bool   `yaml:"extract_content"`
	UserAgent              string `yaml:"user_agent"`
}

// APIConfig describes how to call a JSON API and map its results.
type APIConfig struct {
	Method     string            `yaml:"method"`      // GET when empty
	Headers    map[string]string `yaml:"headers"`     // ${ENV_VAR} expanded
	ResultPath string            `yaml:"result_path"` // dot notation, e.g. "data.results"
	Fields     map[string]string `yaml:"fields"`      // title, body, url, published, guid
}

type Filter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Settings.Timeout) * time.Second
}

// Cadence returns the schedule the source runs on. Configs are validated on
// load, so an unparsable schedule falls back to the refresh interval.
func (c *Config) Cadence() cron.Schedule {
	if c.Settings.Schedule != "" {
		if schedule, err := cron.ParseStandard(c.Settings.Schedule); err == nil {
			return schedule
		}
	}
	return cron.Every(time.Duration(c.Settings.RefreshInterval) * time.Second)
}
