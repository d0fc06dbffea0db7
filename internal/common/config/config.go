// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Camunda    CamundaConfig           `mapstructure:"camunda"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Session    SessionConfig           `mapstructure:"session"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	APIs       APIsConfig              `mapstructure:"apis"`
	Ranking    RankingConfig           `mapstructure:"ranking"`
	Enrichment EnrichmentConfig        `mapstructure:"enrichment"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Metrics    MetricsConfig           `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig selects where SessionContext lives between turns.
type SessionConfig struct {
	Store           string `mapstructure:"store"`            // memory | redis | postgres
	IdleTimeout     int    `mapstructure:"idle_timeout"`     // milliseconds
	CleanupInterval int    `mapstructure:"cleanup_interval"` // milliseconds
	MaxHistory      int    `mapstructure:"max_history"`      // turns kept for the extractor
	DefaultLocation string `mapstructure:"default_location"`
	LockLease       int    `mapstructure:"lock_lease"` // milliseconds, redis turn lock
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	GenAI struct {
		BaseURL     string  `mapstructure:"base_url"`
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		Temperature float64 `mapstructure:"temperature"`
		Timeout     int     `mapstructure:"timeout"` // milliseconds
		MaxRetries  int     `mapstructure:"max_retries"`
	} `mapstructure:"genai"`

	BusinessSearch struct {
		BaseURL        string  `mapstructure:"base_url"`
		APIKey         string  `mapstructure:"api_key"`
		Timeout        int     `mapstructure:"timeout"` // milliseconds
		MaxRetries     int     `mapstructure:"max_retries"`
		BaseBackoff    int     `mapstructure:"base_backoff"` // milliseconds
		MaxBackoff     int     `mapstructure:"max_backoff"`  // milliseconds
		MaxPages       int     `mapstructure:"max_pages"`
		PageSize       int     `mapstructure:"page_size"`
		MaxRadius      int     `mapstructure:"max_radius"` // meters
		RequestsPerSec float64 `mapstructure:"requests_per_sec"`
		CacheTTL       int     `mapstructure:"cache_ttl"` // milliseconds, 0 disables
	} `mapstructure:"business_search"`
}

// RankingConfig carries the composite score weights.
type RankingConfig struct {
	RatingWeight      float64 `mapstructure:"rating_weight"`
	KeywordWeight     float64 `mapstructure:"keyword_weight"`
	DistanceWeight    float64 `mapstructure:"distance_weight"`
	ReviewCountWeight float64 `mapstructure:"review_count_weight"`
	ShownPenalty      float64 `mapstructure:"shown_penalty"`
	MaxResults        int     `mapstructure:"max_results"`
	DefaultMinRating  float64 `mapstructure:"default_min_rating"` // 0 disables
}

// EnrichmentConfig bounds review enrichment.
type EnrichmentConfig struct {
	TopK        int `mapstructure:"top_k"`
	Concurrency int `mapstructure:"concurrency"`
	Timeout     int `mapstructure:"timeout"` // milliseconds, per candidate
	MaxExcerpt  int `mapstructure:"max_excerpt"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the health/metrics listener address.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}
