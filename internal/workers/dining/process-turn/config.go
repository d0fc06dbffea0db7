// internal/workers/dining/process-turn/config.go
package processturn

import (
	"time"

	"dinner-workers/internal/common/config"
	rankcandidates "dinner-workers/internal/workers/dining/rank-candidates"
)

type Config struct {
	Weights          rankcandidates.Weights
	DefaultMinRating float64
	MaxResults       int
	EnrichK          int
	MaxHistory       int
	DefaultLocation  string
	Timeout          time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Weights:    rankcandidates.DefaultWeights(),
		MaxResults: 12,
		EnrichK:    3,
		MaxHistory: 20,
		Timeout:    90 * time.Second,
	}
}

// ConfigFrom builds the pipeline config from the application config.
func ConfigFrom(cfg *config.Config) *Config {
	c := LoadConfig()
	rc := rankcandidates.ConfigFrom(cfg)
	c.Weights = rc.Weights
	c.DefaultMinRating = rc.DefaultMinRating
	if cfg.Ranking.MaxResults > 0 {
		c.MaxResults = cfg.Ranking.MaxResults
	}
	if cfg.Enrichment.TopK > 0 {
		c.EnrichK = cfg.Enrichment.TopK
	}
	if cfg.Session.MaxHistory > 0 {
		c.MaxHistory = cfg.Session.MaxHistory
	}
	c.DefaultLocation = cfg.Session.DefaultLocation
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.Timeout = config.GetDuration(wc.Timeout)
	}
	return c
}
