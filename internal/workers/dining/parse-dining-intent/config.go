// internal/workers/dining/parse-dining-intent/config.go
package parsediningintent

import (
	"time"

	"dinner-workers/internal/common/config"
)

type Config struct {
	GenAIBaseURL string
	APIKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
}

func LoadConfig() *Config {
	return &Config{
		GenAIBaseURL: "https://api.openai.com/v1",
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		Timeout:      60 * time.Second,
		MaxRetries:   2,
	}
}

// ConfigFrom builds the worker config from the application config.
func ConfigFrom(cfg *config.Config) *Config {
	c := LoadConfig()
	g := cfg.APIs.GenAI
	if g.BaseURL != "" {
		c.GenAIBaseURL = g.BaseURL
	}
	c.APIKey = g.APIKey
	if g.Model != "" {
		c.Model = g.Model
	}
	c.Temperature = g.Temperature
	if g.Timeout > 0 {
		c.Timeout = config.GetDuration(g.Timeout)
	}
	if g.MaxRetries > 0 {
		c.MaxRetries = g.MaxRetries
	}
	return c
}
