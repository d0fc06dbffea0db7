// internal/workers/dining/enrich-candidates/config.go
package enrichcandidates

import (
	"time"

	"dinner-workers/internal/common/config"
)

type Config struct {
	TopK           int
	Concurrency    int
	Timeout        time.Duration // per candidate
	JobTimeout     time.Duration
	MaxExcerpt     int
	BaseURL        string
	APIKey         string
	RequestsPerSec float64
}

func LoadConfig() *Config {
	return &Config{
		TopK:        3,
		Concurrency: 2,
		Timeout:     5 * time.Second,
		JobTimeout:  30 * time.Second,
		MaxExcerpt:  160,
		BaseURL:     "https://api.yelp.com/v3",
	}
}

// ConfigFrom builds the worker config from the application config. Review
// lookups share the business search credentials.
func ConfigFrom(cfg *config.Config) *Config {
	c := LoadConfig()
	e := cfg.Enrichment
	if e.TopK > 0 {
		c.TopK = e.TopK
	}
	if e.Concurrency > 0 {
		c.Concurrency = e.Concurrency
	}
	if e.Timeout > 0 {
		c.Timeout = config.GetDuration(e.Timeout)
	}
	if e.MaxExcerpt > 0 {
		c.MaxExcerpt = e.MaxExcerpt
	}
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.JobTimeout = config.GetDuration(wc.Timeout)
	}

	bs := cfg.APIs.BusinessSearch
	if bs.BaseURL != "" {
		c.BaseURL = bs.BaseURL
	}
	c.APIKey = bs.APIKey
	c.RequestsPerSec = bs.RequestsPerSec
	return c
}
