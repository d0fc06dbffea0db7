// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay is optional.
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders in string values. Unset
// variables expand to the empty string so defaults and env fallbacks apply.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets straight from the environment when the
// YAML left them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.APIs.GenAI.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.APIs.GenAI.APIKey = val
		}
	}
	if cfg.APIs.BusinessSearch.APIKey == "" {
		if val := os.Getenv("YELP_API_KEY"); val != "" {
			cfg.APIs.BusinessSearch.APIKey = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "dinner-workers"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * 60 * 1000
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 5 * 60 * 1000
	}
	if cfg.Session.MaxHistory == 0 {
		cfg.Session.MaxHistory = 20
	}
	if cfg.Session.LockLease == 0 {
		cfg.Session.LockLease = 15000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":8080"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	genai := &cfg.APIs.GenAI
	if genai.BaseURL == "" {
		genai.BaseURL = "https://api.openai.com/v1"
	}
	if genai.Model == "" {
		genai.Model = "gpt-4o-mini"
	}
	if genai.Temperature == 0 {
		genai.Temperature = 0.7
	}
	if genai.Timeout == 0 {
		genai.Timeout = 60000
	}
	if genai.MaxRetries == 0 {
		genai.MaxRetries = 2
	}

	bs := &cfg.APIs.BusinessSearch
	if bs.BaseURL == "" {
		bs.BaseURL = "https://api.yelp.com/v3"
	}
	if bs.Timeout == 0 {
		bs.Timeout = 8000
	}
	if bs.MaxRetries == 0 {
		bs.MaxRetries = 3
	}
	if bs.BaseBackoff == 0 {
		bs.BaseBackoff = 200
	}
	if bs.MaxBackoff == 0 {
		bs.MaxBackoff = 5000
	}
	if bs.MaxPages == 0 {
		bs.MaxPages = 2
	}
	if bs.PageSize == 0 {
		bs.PageSize = 20
	}
	if bs.MaxRadius == 0 {
		bs.MaxRadius = 40000
	}
	if bs.RequestsPerSec == 0 {
		bs.RequestsPerSec = 5
	}

	r := &cfg.Ranking
	if r.RatingWeight == 0 && r.KeywordWeight == 0 && r.DistanceWeight == 0 && r.ReviewCountWeight == 0 {
		r.RatingWeight = 0.4
		r.KeywordWeight = 0.25
		r.DistanceWeight = 0.15
		r.ReviewCountWeight = 0.2
	}
	if r.ShownPenalty == 0 {
		r.ShownPenalty = 0.5
	}
	if r.MaxResults == 0 {
		r.MaxResults = 12
	}

	e := &cfg.Enrichment
	if e.TopK == 0 {
		e.TopK = 3
	}
	if e.Concurrency == 0 {
		e.Concurrency = 2
	}
	if e.Timeout == 0 {
		e.Timeout = 5000
	}
	if e.MaxExcerpt == 0 {
		e.MaxExcerpt = 160
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	switch cfg.Session.Store {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis session store")
		}
	case "postgres":
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database are required for the postgres session store")
		}
	default:
		return fmt.Errorf("session.store must be memory, redis or postgres, got %q", cfg.Session.Store)
	}

	if cfg.APIs.BusinessSearch.CacheTTL > 0 && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when apis.business_search.cache_ttl is set")
	}

	if cfg.Ranking.RatingWeight < 0 || cfg.Ranking.KeywordWeight < 0 ||
		cfg.Ranking.DistanceWeight < 0 || cfg.Ranking.ReviewCountWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if cfg.Ranking.DefaultMinRating < 0 || cfg.Ranking.DefaultMinRating > 5 {
		return fmt.Errorf("ranking.default_min_rating must be between 0 and 5")
	}
	if cfg.Enrichment.Concurrency < 1 {
		return fmt.Errorf("enrichment.concurrency must be at least 1")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
// UsesDistributedLock reports whether turns must be serialized through redis.
// Shared session stores imply several workers may serve one session.
func UsesDistributedLock(cfg *Config) bool {
	switch cfg.Session.Store {
	case "redis":
		return true
	case "postgres":
		return cfg.Database.Redis.Address != ""
	}
	return false
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
