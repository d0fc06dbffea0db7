// internal/workers/dining/enrich-candidates/client.go
package enrichcandidates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"dinner-workers/internal/common/errors"
	commonhttp "dinner-workers/internal/common/http"
)

// ReviewFetcher returns reviews for one business, most relevant first.
type ReviewFetcher interface {
	FetchReviews(ctx context.Context, businessID string) ([]Review, error)
}

type ReviewClient struct {
	baseURL string
	apiKey  string
	http    *commonhttp.Client
}

func NewReviewClient(cfg *Config) *ReviewClient {
	return &ReviewClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    commonhttp.NewRateLimitedClient(cfg.Timeout, cfg.RequestsPerSec),
	}
}

type reviewsResponse struct {
	Reviews []Review `json:"reviews"`
	Total   int      `json:"total"`
}

func (c *ReviewClient) FetchReviews(ctx context.Context, businessID string) ([]Review, error) {
	if c.apiKey == "" {
		return nil, errors.NewAuthError("business_search", "API key is not configured")
	}

	endpoint := fmt.Sprintf("%s/businesses/%s/reviews", c.baseURL, url.PathEscape(businessID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewAuthError("business_search", fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reviews request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out reviewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	return out.Reviews, nil
}
