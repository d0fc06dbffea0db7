package searchbusinesses

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dinner-workers/internal/common/errors"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

func testConfig(baseURL string) *Config {
	c := LoadConfig()
	c.BaseURL = baseURL
	c.APIKey = "test-key"
	c.Timeout = time.Second
	c.MaxRetries = 2
	c.BaseBackoff = time.Millisecond
	c.MaxBackoff = 5 * time.Millisecond
	c.PageSize = 2
	c.MaxPages = 2
	c.RequestsPerSec = 0
	return c
}

func query(t *testing.T, raw map[string]interface{}) *models.QueryModel {
	t.Helper()
	q, err := models.ValidateQuery(raw, true)
	require.NoError(t, err)
	return q
}

func biz(id string, price string) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"name":         "Business " + id,
		"rating":       4.5,
		"review_count": 120,
		"price":        price,
		"distance":     850.2,
		"categories":   []interface{}{map[string]interface{}{"alias": "thai", "title": "Thai"}},
		"coordinates":  map[string]interface{}{"latitude": 47.61, "longitude": -122.33},
		"location": map[string]interface{}{
			"address1": "1 Pike St",
			"city":     "Seattle",
			"state":    "WA",
			"zip_code": "98101",
		},
		"url": "https://example.com/" + id,
	}
}

func writePage(w http.ResponseWriter, total int, businesses ...map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"total":      total,
		"businesses": businesses,
	})
}

func offsetOf(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return n
}

// ==========================
// Parameter Mapping
// ==========================

func TestSearch_RequestParameters(t *testing.T) {
	var mu sync.Mutex
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/businesses/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		mu.Lock()
		got = r.URL.Query()
		mu.Unlock()
		writePage(w, 1, biz("a", "$$"))
	}))
	defer server.Close()

	q := query(t, map[string]interface{}{
		"location":      "Seattle, WA",
		"cuisine":       []interface{}{"thai", "vietnamese"},
		"price_tier":    []interface{}{2, 1},
		"radius_meters": 1500,
		"keywords":      []interface{}{"spicy", "patio"},
	})

	client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger(t))
	out, err := client.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Seattle, WA", got.Get("location"))
	assert.Equal(t, "1500", got.Get("radius"))
	assert.Equal(t, "thai,vietnamese", got.Get("categories"))
	assert.Equal(t, "1,2", got.Get("price"))
	assert.Equal(t, "true", got.Get("open_now"))
	assert.Equal(t, "spicy patio", got.Get("term"))
	assert.Equal(t, "2", got.Get("limit"))
	assert.Equal(t, "0", got.Get("offset"))
	assert.Equal(t, "best_match", got.Get("sort_by"))
}

func TestSearch_CoordinatesAndClamping(t *testing.T) {
	var mu sync.Mutex
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.URL.Query()
		mu.Unlock()
		writePage(w, 0)
	}))
	defer server.Close()

	q := query(t, map[string]interface{}{
		"location":      map[string]interface{}{"latitude": 43.4643, "longitude": -80.5204},
		"radius_meters": 90000,
		"limit":         50,
		"open_now":      false,
	})

	cfg := testConfig(server.URL)
	cfg.MaxRadius = 25000
	out, err := NewClient(cfg, nil, logger.NewNoOpLogger()).Search(context.Background(), q)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "43.4643", got.Get("latitude"))
	assert.Equal(t, "-80.5204", got.Get("longitude"))
	assert.Empty(t, got.Get("location"))
	assert.Equal(t, "25000", got.Get("radius"))
	assert.Empty(t, got.Get("open_now"))
	assert.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "radius")
	assert.Empty(t, out.Candidates)
}

func TestBuildParams_SmallRadiusIsRaisedWithWarning(t *testing.T) {
	client := NewClient(testConfig("http://unused"), nil, logger.NewNoOpLogger())
	q := query(t, map[string]interface{}{"location": "Seattle", "radius_meters": 50})

	params, warnings := client.buildParams(q)
	assert.Equal(t, strconv.Itoa(APIMinRadius), params.Get("radius"))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "raised")
}

// ==========================
// Result Conversion
// ==========================

func TestSearch_DropsIncompleteAndDedupes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		noCoords := biz("c", "$")
		delete(noCoords, "coordinates")
		noName := biz("d", "")
		noName["name"] = ""

		switch offsetOf(r) {
		case 0:
			writePage(w, 4, biz("a", "$$"), biz("b", ""))
		default:
			writePage(w, 4, biz("a", "$$"), noCoords, noName)
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.PageSize = 2
	out, err := NewClient(cfg, nil, logger.NewNoOpLogger()).Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
	require.NoError(t, err)

	require.Len(t, out.Candidates, 2)
	assert.Equal(t, "a", out.Candidates[0].ID)
	assert.Equal(t, "b", out.Candidates[1].ID)
	assert.Equal(t, 2, out.Dropped)
	assert.False(t, out.Partial)

	a := out.Candidates[0]
	assert.Equal(t, 2, a.PriceTier)
	assert.Equal(t, 0, out.Candidates[1].PriceTier)
	assert.Equal(t, []string{"thai"}, a.Categories)
	assert.Equal(t, 120, a.ReviewCount)
	assert.InDelta(t, 850.2, a.DistanceMeters, 1e-9)
	assert.Equal(t, 47.61, a.Coordinates.Latitude)
	assert.Equal(t, "1 Pike St, Seattle, WA, 98101", a.RawAttributes["address"])
	assert.Equal(t, []interface{}{"Thai"}, a.RawAttributes["categoryTitles"])
}

func TestPriceTier(t *testing.T) {
	tests := map[string]int{"$": 1, "$$": 2, "$$$$": 4, "": 0, "$$$$$": 0, "€€": 0}
	for in, expected := range tests {
		assert.Equal(t, expected, priceTier(in), in)
	}
}

// ==========================
// Pagination and Retries
// ==========================

func TestSearch_LaterPageFailureIsPartial(t *testing.T) {
	var page2Calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if offsetOf(r) == 0 {
			writePage(w, 10, biz("a", "$"), biz("b", "$"))
			return
		}
		atomic.AddInt32(&page2Calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	out, err := NewClient(testConfig(server.URL), nil, logger.NewTestLogger(t)).
		Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
	require.NoError(t, err)

	assert.True(t, out.Partial)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "page 2")
	assert.Contains(t, out.Warnings[0], string(errors.ErrCodeSearchUnavailable))
	assert.Len(t, out.Candidates, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&page2Calls))
}

func TestSearch_FirstPageExhaustedIsUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).
		Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSearchUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	stdErr := errors.Normalize(err)
	assert.Equal(t, false, stdErr.Metadata["partial"])
	assert.Equal(t, 3, stdErr.Metadata["attempts"])
}

func TestSearch_RetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name   string
		failed func(w http.ResponseWriter)
	}{
		{
			name: "server error",
			failed: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "rate limited with retry-after",
			failed: func(w http.ResponseWriter) {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed body",
			failed: func(w http.ResponseWriter) {
				fmt.Fprint(w, `{"businesses": [`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) == 1 {
					tt.failed(w)
					return
				}
				writePage(w, 1, biz("a", "$"))
			}))
			defer server.Close()

			start := time.Now()
			out, err := NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).
				Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
			require.NoError(t, err)
			assert.Len(t, out.Candidates, 1)
			assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
			// Retry-After is capped by MaxBackoff
			assert.Less(t, time.Since(start), 500*time.Millisecond)
		})
	}
}

func TestSearch_NonRetryableResponses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, expected: errors.ErrAuth},
		{name: "forbidden", status: http.StatusForbidden, expected: errors.ErrAuth},
		{name: "bad request", status: http.StatusBadRequest, expected: errors.ErrSearchRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"code": "VALIDATION_ERROR"}}`)
			}))
			defer server.Close()

			_, err := NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).
				Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestSearch_AuthFailureOnLaterPageIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if offsetOf(r) == 0 {
			writePage(w, 10, biz("a", "$"), biz("b", "$"))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).
		Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
	assert.ErrorIs(t, err, errors.ErrAuth)
}

func TestSearch_PreconditionsAvoidUpstreamCalls(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.APIKey = ""
	_, err := NewClient(cfg, nil, logger.NewNoOpLogger()).
		Search(context.Background(), query(t, map[string]interface{}{"location": "Seattle"}))
	assert.ErrorIs(t, err, errors.ErrAuth)

	noLocation, err := models.ValidateQuery(map[string]interface{}{"cuisine": "thai"}, false)
	require.NoError(t, err)
	_, err = NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).Search(context.Background(), noLocation)
	assert.ErrorIs(t, err, errors.ErrValidation)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSearch_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).
		Search(ctx, query(t, map[string]interface{}{"location": "Seattle"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_CursorContinuesPagination(t *testing.T) {
	var mu sync.Mutex
	var offsets []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		offsets = append(offsets, offsetOf(r))
		mu.Unlock()
		writePage(w, 9, biz(fmt.Sprintf("x%d", offsetOf(r)), "$"), biz(fmt.Sprintf("y%d", offsetOf(r)), "$"))
	}))
	defer server.Close()

	q := query(t, map[string]interface{}{"location": "Seattle", "cursor": "4"})
	out, err := NewClient(testConfig(server.URL), nil, logger.NewNoOpLogger()).Search(context.Background(), q)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []int{4, 6}, offsets)
	mu.Unlock()
	assert.Equal(t, "8", out.NextCursor)
	assert.Len(t, out.Candidates, 4)
}

// ==========================
// Cache
// ==========================

func TestSearch_CachesCompleteResults(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writePage(w, 1, biz("a", "$$"))
	}))
	defer server.Close()

	log := logger.NewNoOpLogger()
	cache := NewResponseCache(rdb, time.Minute, log)
	client := NewClient(testConfig(server.URL), cache, log)
	q := query(t, map[string]interface{}{"location": "Seattle", "cuisine": "thai"})

	first, err := client.Search(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := client.Search(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Candidates, second.Candidates)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "dining:search:")
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	mr.FastForward(2 * time.Minute)
	_, err = client.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearch_CacheHitReportsThisRequestsWarnings(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writePage(w, 1, biz("a", "$$"))
	}))
	defer server.Close()

	log := logger.NewNoOpLogger()
	client := NewClient(testConfig(server.URL), NewResponseCache(rdb, time.Minute, log), log)

	wide := query(t, map[string]interface{}{"location": "Seattle", "radius_meters": 90000})
	first, err := client.Search(context.Background(), wide)
	require.NoError(t, err)
	require.Len(t, first.Warnings, 1)

	exact := query(t, map[string]interface{}{"location": "Seattle", "radius_meters": APIMaxRadius})
	second, err := client.Search(context.Background(), exact)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Empty(t, second.Warnings)

	third, err := client.Search(context.Background(), wide)
	require.NoError(t, err)
	assert.True(t, third.Cached)
	require.Len(t, third.Warnings, 1)
	assert.Contains(t, third.Warnings[0], "90000m")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearch_CacheFailuresDoNotFailSearch(t *testing.T) {
	rdb, mock := redismock.NewClientMock()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 1, biz("a", "$$"))
	}))
	defer server.Close()

	log := logger.NewNoOpLogger()
	client := NewClient(testConfig(server.URL), NewResponseCache(rdb, time.Minute, log), log)
	q := query(t, map[string]interface{}{"location": "Seattle"})

	params, _ := client.buildParams(q)
	params.Set("offset", "0")
	key := CacheKey(params, 2)
	mock.ExpectGet(key).SetErr(fmt.Errorf("connection refused"))
	mock.Regexp().ExpectSet(key, `.*`, time.Minute).SetErr(fmt.Errorf("connection refused"))

	out, err := client.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, out.Candidates, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewResponseCache_Disabled(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	assert.Nil(t, NewResponseCache(nil, time.Minute, logger.NewNoOpLogger()))
	assert.Nil(t, NewResponseCache(rdb, 0, logger.NewNoOpLogger()))
}

// ==========================
// Handler Tests
// ==========================

func TestHandler_ExecuteRequiresQuery(t *testing.T) {
	h := NewHandler(testConfig("http://unused"), nil, logger.NewNoOpLogger())
	_, err := h.Execute(context.Background(), &Input{})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}
