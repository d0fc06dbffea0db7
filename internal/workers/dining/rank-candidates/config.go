// internal/workers/dining/rank-candidates/config.go
package rankcandidates

import (
	"time"

	"dinner-workers/internal/common/config"
)

// Weights for the composite score. ShownPenalty is subtracted from candidates
// already shown in the session.
type Weights struct {
	Rating       float64
	Keyword      float64
	Distance     float64
	ReviewCount  float64
	ShownPenalty float64
}

func DefaultWeights() Weights {
	return Weights{
		Rating:       0.4,
		Keyword:      0.25,
		Distance:     0.15,
		ReviewCount:  0.2,
		ShownPenalty: 0.5,
	}
}

type Config struct {
	Weights    Weights
	MaxResults int
	// DefaultMinRating is the rating floor used when the query sets none.
	DefaultMinRating float64
	Timeout          time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Weights:    DefaultWeights(),
		MaxResults: 12,
		Timeout:    5 * time.Second,
	}
}

// ConfigFrom builds the worker config from the application config.
func ConfigFrom(cfg *config.Config) *Config {
	c := LoadConfig()
	r := cfg.Ranking
	c.Weights = Weights{
		Rating:       r.RatingWeight,
		Keyword:      r.KeywordWeight,
		Distance:     r.DistanceWeight,
		ReviewCount:  r.ReviewCountWeight,
		ShownPenalty: r.ShownPenalty,
	}
	if r.MaxResults > 0 {
		c.MaxResults = r.MaxResults
	}
	c.DefaultMinRating = r.DefaultMinRating
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.Timeout = config.GetDuration(wc.Timeout)
	}
	return c
}
