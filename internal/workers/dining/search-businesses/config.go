// internal/workers/dining/search-businesses/config.go
package searchbusinesses

import (
	"time"

	"dinner-workers/internal/common/config"
)

const (
	// Upstream limits of the business search API.
	APIMaxLimit  = 50
	APIMaxRadius = 40000
	APIMinRadius = 100
	APIMaxWindow = 1000 // offset + limit
)

type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration // per HTTP request
	JobTimeout     time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxPages       int
	PageSize       int
	DefaultRadius  int
	MaxRadius      int
	DefaultOpenNow bool
	RequestsPerSec float64
	CacheTTL       time.Duration
}

func LoadConfig() *Config {
	return &Config{
		BaseURL:        "https://api.yelp.com/v3",
		Timeout:        8 * time.Second,
		JobTimeout:     45 * time.Second,
		MaxRetries:     3,
		BaseBackoff:    200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		MaxPages:       2,
		PageSize:       20,
		DefaultRadius:  3000,
		MaxRadius:      APIMaxRadius,
		DefaultOpenNow: true,
		RequestsPerSec: 5,
	}
}

// ConfigFrom builds the worker config from the application config.
func ConfigFrom(cfg *config.Config) *Config {
	c := LoadConfig()
	bs := cfg.APIs.BusinessSearch
	if bs.BaseURL != "" {
		c.BaseURL = bs.BaseURL
	}
	c.APIKey = bs.APIKey
	if bs.Timeout > 0 {
		c.Timeout = config.GetDuration(bs.Timeout)
	}
	if bs.MaxRetries > 0 {
		c.MaxRetries = bs.MaxRetries
	}
	if bs.BaseBackoff > 0 {
		c.BaseBackoff = config.GetDuration(bs.BaseBackoff)
	}
	if bs.MaxBackoff > 0 {
		c.MaxBackoff = config.GetDuration(bs.MaxBackoff)
	}
	if bs.MaxPages > 0 {
		c.MaxPages = bs.MaxPages
	}
	if bs.PageSize > 0 {
		c.PageSize = bs.PageSize
	}
	if bs.MaxRadius > 0 && bs.MaxRadius < APIMaxRadius {
		c.MaxRadius = bs.MaxRadius
	}
	c.RequestsPerSec = bs.RequestsPerSec
	c.CacheTTL = config.GetDuration(bs.CacheTTL)
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.JobTimeout = config.GetDuration(wc.Timeout)
	}
	return c
}
