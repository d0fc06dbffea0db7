// internal/workers/dining/search-businesses/client.go
package searchbusinesses

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"dinner-workers/internal/common/errors"
	commonhttp "dinner-workers/internal/common/http"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/metrics"
	"dinner-workers/internal/models"
)

const serviceName = "business_search"

// Client queries the business search API page by page.
type Client struct {
	config *Config
	http   *commonhttp.Client
	cache  *ResponseCache
	logger logger.Logger
}

func NewClient(cfg *Config, cache *ResponseCache, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		http:   commonhttp.NewRateLimitedClient(cfg.Timeout, cfg.RequestsPerSec),
		cache:  cache,
		logger: log,
	}
}

// Search returns the merged, deduplicated candidates for q. When the first
// page cannot be fetched the call fails; a later page failing yields a partial
// result with a warning.
func (c *Client) Search(ctx context.Context, q *models.QueryModel) (*Output, error) {
	if !q.HasLocation() {
		return nil, errors.NewQueryValidationError(errors.NewValidationError("location", "required for search"))
	}
	if c.config.APIKey == "" {
		return nil, errors.NewAuthError(serviceName, "API key is not configured")
	}

	params, warnings := c.buildParams(q)
	limit, _ := strconv.Atoi(params.Get("limit"))
	start := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor)
		if err != nil || n < 0 {
			warnings = append(warnings, fmt.Sprintf("ignored invalid cursor %q", q.Cursor))
		} else {
			start = n
		}
	}
	params.Set("offset", strconv.Itoa(start))

	key := CacheKey(params, c.config.MaxPages)
	if cached, ok := c.cache.Get(ctx, key); ok {
		cached.Warnings = append([]string(nil), warnings...)
		return cached, nil
	}

	out := &Output{Candidates: []models.Candidate{}, Warnings: warnings}
	seen := make(map[string]bool)
	offset := start

	for page := 1; page <= c.maxPages(); page++ {
		if offset+limit > APIMaxWindow {
			break
		}
		params.Set("offset", strconv.Itoa(offset))

		resp, err := c.fetchPage(ctx, params)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if page == 1 || stderrors.Is(err, errors.ErrAuth) {
				return nil, err
			}
			out.Partial = true
			out.Warnings = append(out.Warnings, fmt.Sprintf("results incomplete: page %d failed: %v", page, err))
			c.logger.Warn("search page failed, returning partial results", map[string]interface{}{
				"page":  page,
				"error": err.Error(),
			})
			break
		}

		out.Total = resp.Total
		for _, b := range resp.Businesses {
			cand, ok := toCandidate(b)
			if !ok {
				out.Dropped++
				metrics.SearchDropped.Inc()
				continue
			}
			if seen[cand.ID] {
				continue
			}
			seen[cand.ID] = true
			out.Candidates = append(out.Candidates, cand)
		}

		offset += len(resp.Businesses)
		out.NextCursor = ""
		if len(resp.Businesses) < limit || offset >= resp.Total {
			break
		}
		out.NextCursor = strconv.Itoa(offset)
	}

	if out.Dropped > 0 {
		c.logger.Info("dropped incomplete search results", map[string]interface{}{"dropped": out.Dropped})
	}

	c.cache.Set(ctx, key, out)
	return out, nil
}

// buildParams maps a query to upstream request parameters. Values beyond the
// API limits are clamped and reported as warnings.
func (c *Client) buildParams(q *models.QueryModel) (url.Values, []string) {
	params := url.Values{}
	var warnings []string

	if q.Location.HasCoordinates() {
		params.Set("latitude", strconv.FormatFloat(*q.Location.Latitude, 'f', -1, 64))
		params.Set("longitude", strconv.FormatFloat(*q.Location.Longitude, 'f', -1, 64))
	} else {
		params.Set("location", strings.TrimSpace(q.Location.Address))
	}

	radius := c.config.DefaultRadius
	if q.RadiusMeters != nil {
		radius = *q.RadiusMeters
	}
	maxRadius := c.config.MaxRadius
	if maxRadius <= 0 || maxRadius > APIMaxRadius {
		maxRadius = APIMaxRadius
	}
	if radius > maxRadius {
		warnings = append(warnings, fmt.Sprintf("radius %dm reduced to the %dm maximum", radius, maxRadius))
		radius = maxRadius
	}
	if radius < APIMinRadius {
		warnings = append(warnings, fmt.Sprintf("radius %dm raised to the %dm minimum", radius, APIMinRadius))
		radius = APIMinRadius
	}
	params.Set("radius", strconv.Itoa(radius))

	limit := c.config.PageSize
	if q.Limit != nil {
		limit = *q.Limit
	}
	if limit > APIMaxLimit {
		warnings = append(warnings, fmt.Sprintf("limit %d reduced to %d", limit, APIMaxLimit))
		limit = APIMaxLimit
	}
	if limit < 1 {
		limit = 1
	}
	params.Set("limit", strconv.Itoa(limit))

	if len(q.Cuisine) > 0 {
		cats := append([]string{}, q.Cuisine...)
		sort.Strings(cats)
		params.Set("categories", strings.Join(cats, ","))
	}

	if len(q.PriceTier) > 0 {
		tiers := make([]string, len(q.PriceTier))
		for i, t := range q.PriceTier {
			tiers[i] = strconv.Itoa(t)
		}
		params.Set("price", strings.Join(tiers, ","))
	}

	openNow := c.config.DefaultOpenNow
	if q.OpenNow != nil {
		openNow = *q.OpenNow
	}
	if openNow {
		params.Set("open_now", "true")
	}

	if len(q.Keywords) > 0 {
		params.Set("term", strings.Join(q.Keywords, " "))
	}
	params.Set("sort_by", "best_match")

	return params, warnings
}

func (c *Client) maxPages() int {
	if c.config.MaxPages < 1 {
		return 1
	}
	return c.config.MaxPages
}

// fetchPage performs one page request with retries. Transient failures are
// retried with exponential backoff; exhaustion yields SEARCH_UNAVAILABLE.
func (c *Client) fetchPage(ctx context.Context, params url.Values) (*searchResponse, error) {
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxRetries+1; attempt++ {
		attempts = attempt
		resp, retryAfter, err := c.doRequest(ctx, params)
		if err == nil {
			metrics.SearchRequests.WithLabelValues("success").Inc()
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !isRetryable(err) {
			metrics.SearchRequests.WithLabelValues("rejected").Inc()
			return nil, err
		}

		metrics.SearchRequests.WithLabelValues("retry").Inc()
		lastErr = err
		if attempt > c.config.MaxRetries {
			break
		}

		delay := commonhttp.Backoff(attempt, c.config.BaseBackoff, c.config.MaxBackoff)
		if retryAfter > 0 {
			delay = retryAfter
			if c.config.MaxBackoff > 0 && delay > c.config.MaxBackoff {
				delay = c.config.MaxBackoff
			}
		}
		c.logger.Debug("retrying search request", map[string]interface{}{
			"attempt": attempt,
			"delayMs": delay.Milliseconds(),
			"error":   err.Error(),
		})
		if err := commonhttp.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	metrics.SearchRequests.WithLabelValues("unavailable").Inc()
	return nil, errors.NewSearchUnavailableError(attempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, params url.Values) (*searchResponse, time.Duration, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/businesses/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, errors.NewInternalError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, errors.NewAuthError(serviceName, fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := commonhttp.RetryAfter(resp)
		return nil, wait, errors.NewRateLimitedError(serviceName, wait)
	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("search returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, errors.NewSearchRejectedError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}
	return &out, 0, nil
}

// isRetryable treats typed errors by their flag and everything else
// (transport, 5xx, decoding) as transient.
func isRetryable(err error) bool {
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return true
}

// toCandidate converts one upstream result, rejecting those without an id,
// a name or coordinates.
func toCandidate(b business) (models.Candidate, bool) {
	if b.ID == "" || strings.TrimSpace(b.Name) == "" {
		return models.Candidate{}, false
	}
	if b.Coordinates == nil || b.Coordinates.Latitude == nil || b.Coordinates.Longitude == nil {
		return models.Candidate{}, false
	}

	cats := make([]string, 0, len(b.Categories))
	titles := make([]interface{}, 0, len(b.Categories))
	for _, cat := range b.Categories {
		alias := cat.Alias
		if alias == "" {
			alias = cat.Title
		}
		if token := models.NormalizeToken(alias); token != "" {
			cats = append(cats, token)
		}
		if cat.Title != "" {
			titles = append(titles, cat.Title)
		}
	}

	raw := map[string]interface{}{
		"categoryTitles": titles,
		"isClosed":       b.IsClosed,
	}
	if b.URL != "" {
		raw["url"] = b.URL
	}
	if b.ImageURL != "" {
		raw["imageUrl"] = b.ImageURL
	}
	if b.DisplayPhone != "" {
		raw["phone"] = b.DisplayPhone
	}
	if addr := joinAddress(b.Location); addr != "" {
		raw["address"] = addr
	}
	if len(b.Transactions) > 0 {
		tx := make([]interface{}, len(b.Transactions))
		for i, t := range b.Transactions {
			tx[i] = t
		}
		raw["transactions"] = tx
	}

	distance := b.Distance
	if distance < 0 {
		distance = 0
	}
	reviews := b.ReviewCount
	if reviews < 0 {
		reviews = 0
	}

	return models.Candidate{
		ID:   b.ID,
		Name: strings.TrimSpace(b.Name),
		Coordinates: models.Coordinates{
			Latitude:  *b.Coordinates.Latitude,
			Longitude: *b.Coordinates.Longitude,
		},
		PriceTier:      priceTier(b.Price),
		Rating:         b.Rating,
		ReviewCount:    reviews,
		Categories:     cats,
		DistanceMeters: distance,
		RawAttributes:  raw,
	}, true
}

// priceTier maps "$".."$$$$" to 1..4; anything else is unknown (0).
func priceTier(p string) int {
	p = strings.TrimSpace(p)
	if p == "" || strings.Trim(p, "$") != "" || len(p) > models.MaxPriceTier {
		return 0
	}
	return len(p)
}

func joinAddress(loc *location) string {
	if loc == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{loc.Address1, loc.Address2, loc.Address3, loc.City, loc.State, loc.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
