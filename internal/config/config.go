package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultInterval    = 15 * time.Minute
	configPathEnv      = "PROMO_SCANNER_CONFIG"
	databaseDSNEnv     = "DATABASE_DSN"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL_NAME"
	openAITimeoutEnv   = "OPENAI_REQUEST_TIMEOUT"
	fetchLimitEnv      = "MESSAGES_FETCH_LIMIT"
	cursorFilePathEnv  = "LAST_IDS_FILE"
	metricsListenEnv   = "METRICS_LISTEN_ADDR"
	defaultFetchLimit  = 50
	defaultCursorFile  = "last_processed_ids.json"
	defaultSQLitePath  = "promoscanner.db"
	defaultLLMEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel    = "gpt-4o-mini"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Cursor    CursorConfig    `yaml:"cursor"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Filter    FilterConfig    `yaml:"filter"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// DatabaseConfig selects the message store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite"
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"` // sqlite file path
}

// CursorConfig selects where per-source watermarks live.
type CursorConfig struct {
	Backend string `yaml:"backend"` // "database" or "file"
	Path    string `yaml:"path"`
}

// SchedulerConfig defines how often a pipeline cycle runs.
type SchedulerConfig struct {
	Interval string `yaml:"interval"`
	interval time.Duration
}

// IntervalDuration resolves the configured interval string.
func (s SchedulerConfig) IntervalDuration() time.Duration {
	if s.interval > 0 {
		return s.interval
	}
	return defaultInterval
}

// ExtractorConfig defines how to contact the extraction LLM API.
type ExtractorConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"apiKey"`
	TimeoutSeconds    int     `yaml:"timeoutSeconds"`
	MaxRetries        int     `yaml:"maxRetries"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
}

// Timeout resolves the per-request model timeout.
func (e ExtractorConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// FilterConfig tunes the promotional-content pre-filter.
type FilterConfig struct {
	Keywords     []string `yaml:"keywords"`
	KeywordsFile string   `yaml:"keywordsFile"`
}

// MetricsConfig enables the Prometheus listener when an address is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// LoggingConfig carries the slog level string.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SourceConfig describes a single chat source with its fetch strategy.
type SourceConfig struct {
	ID       string            `yaml:"id"`
	Strategy string            `yaml:"strategy"`
	Endpoint string            `yaml:"endpoint"`
	Limit    int               `yaml:"limit"`
	Options  map[string]string `yaml:"options"`
}

// FetchLimit resolves the per-cycle fetch cap for this source.
func (s SourceConfig) FetchLimit() int {
	if s.Limit <= 0 {
		return defaultFetchLimit
	}
	return s.Limit
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindInterval()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.Extractor.APIKey = v
	}

	if v := os.Getenv(openAIModelEnv); v != "" {
		c.Extractor.Model = v
	}

	if v := os.Getenv(openAITimeoutEnv); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Extractor.TimeoutSeconds = secs
		}
	}

	if v := os.Getenv(fetchLimitEnv); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			for i := range c.Sources {
				c.Sources[i].Limit = limit
			}
		}
	}

	if v := os.Getenv(cursorFilePathEnv); v != "" {
		c.Cursor.Backend = "file"
		c.Cursor.Path = v
	}

	if v := os.Getenv(metricsListenEnv); v != "" {
		c.Metrics.ListenAddr = v
	}
}

func (c *Config) bindInterval() {
	if c.Scheduler.Interval == "" {
		c.Scheduler.interval = defaultInterval
		return
	}
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil || d <= 0 {
		log.Printf("config: invalid scheduler interval %q, reverting to %s", c.Scheduler.Interval, defaultInterval)
		d = defaultInterval
	}
	c.Scheduler.interval = d
}

func mergeConfig(base, override Config) Config {
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.Path != "" {
		base.Database.Path = override.Database.Path
	}

	if override.Cursor.Backend != "" {
		base.Cursor.Backend = override.Cursor.Backend
	}
	if override.Cursor.Path != "" {
		base.Cursor.Path = override.Cursor.Path
	}

	if override.Scheduler.Interval != "" {
		base.Scheduler.Interval = override.Scheduler.Interval
	}

	if override.Extractor.Endpoint != "" {
		base.Extractor.Endpoint = override.Extractor.Endpoint
	}
	if override.Extractor.Model != "" {
		base.Extractor.Model = override.Extractor.Model
	}
	if override.Extractor.APIKey != "" {
		base.Extractor.APIKey = override.Extractor.APIKey
	}
	if override.Extractor.TimeoutSeconds > 0 {
		base.Extractor.TimeoutSeconds = override.Extractor.TimeoutSeconds
	}
	if override.Extractor.MaxRetries > 0 {
		base.Extractor.MaxRetries = override.Extractor.MaxRetries
	}
	if override.Extractor.RequestsPerMinute > 0 {
		base.Extractor.RequestsPerMinute = override.Extractor.RequestsPerMinute
	}

	if len(override.Filter.Keywords) > 0 {
		base.Filter.Keywords = override.Filter.Keywords
	}
	if override.Filter.KeywordsFile != "" {
		base.Filter.KeywordsFile = override.Filter.KeywordsFile
	}

	if override.Metrics.ListenAddr != "" {
		base.Metrics.ListenAddr = override.Metrics.ListenAddr
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Database:  DatabaseConfig{Driver: "sqlite", Path: defaultSQLitePath},
		Cursor:    CursorConfig{Backend: "database", Path: defaultCursorFile},
		Scheduler: SchedulerConfig{Interval: "15m", interval: defaultInterval},
		Extractor: ExtractorConfig{
			Endpoint:          defaultLLMEndpoint,
			Model:             defaultLLMModel,
			APIKey:            "",
			TimeoutSeconds:    60,
			MaxRetries:        3,
			RequestsPerMinute: 60,
		},
		Filter:  FilterConfig{},
		Logging: LoggingConfig{Level: "info"},
		Sources: []SourceConfig{
			{
				ID:       "promos-br",
				Strategy: "telegram-web",
				Endpoint: "https://t.me/s/promosbr",
				Limit:    defaultFetchLimit,
			},
		},
	}
}
