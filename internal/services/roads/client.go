package roads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// OSRMClient fetches driving routes from an OSRM-compatible HTTP API.
type OSRMClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	cache      *RouteCache
	group      singleflight.Group
	limiter    *rate.Limiter

	requests  atomic.Int64
	failures  atomic.Int64
	throttled atomic.Int64
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Distance float64           `json:"distance"`
	Duration float64           `json:"duration"`
}

// NewOSRMClient creates a client. cache may be nil to disable caching.
func NewOSRMClient(baseURL string, timeout time.Duration, userAgent string, cache *RouteCache) *OSRMClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &OSRMClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: cache,
	}
}

// WithRateLimit caps upstream calls at rps with the given burst. Calls over
// the limit fail fast with ErrRoutingUnavailable instead of waiting.
func (c *OSRMClient) WithRateLimit(rps float64, burst int) *OSRMClient {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// GetRoute returns the road path from -> to. Concurrent identical requests
// share a single upstream call.
func (c *OSRMClient) GetRoute(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	path, _, err := c.GetRouteCached(ctx, from, to)
	return path, err
}

// GetRouteCached is GetRoute that also reports whether the path was served
// from the cache without an upstream call.
func (c *OSRMClient) GetRouteCached(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, bool, error) {
	key := RouteKey(from, to)
	if c.cache != nil {
		if path, ok := c.cache.Get(key); ok {
			log.Debug().Str("key", key).Msg("📦 Route cache HIT")
			return path, true, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		path, err := c.fetch(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Set(key, path)
		}
		return path, nil
	})
	if err != nil {
		return nil, false, err
	}
	return models.Path(v.([]models.Coordinate)).Clone(), false, nil
}

func (c *OSRMClient) fetch(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.throttled.Add(1)
		return nil, fmt.Errorf("osrm route: rate limited: %w", errs.ErrRoutingUnavailable)
	}
	c.requests.Add(1)
	path, err := c.doFetch(ctx, from, to)
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("osrm route: %v: %w", err, errs.ErrRoutingUnavailable)
	}
	log.Debug().Int("points", len(path)).Msg("🛣️  Route fetched from OSRM")
	return path, nil
}

func (c *OSRMClient) doFetch(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	url := fmt.Sprintf(
		"%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		c.baseURL,
		from.Longitude, from.Latitude,
		to.Longitude, to.Latitude,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var apiResp osrmResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Code != "Ok" {
		return nil, fmt.Errorf("osrm code %q: %s", apiResp.Code, apiResp.Message)
	}
	if len(apiResp.Routes) == 0 || apiResp.Routes[0].Geometry == nil {
		return nil, errors.New("no route in response")
	}

	geom := apiResp.Routes[0].Geometry
	if !geom.IsLineString() {
		return nil, fmt.Errorf("unexpected geometry type %q", geom.Type)
	}
	path := make([]models.Coordinate, 0, len(geom.LineString))
	for _, pos := range geom.LineString {
		if len(pos) < 2 {
			return nil, errors.New("malformed coordinate in geometry")
		}
		// GeoJSON positions are [lon, lat]
		path = append(path, models.Coordinate{Latitude: pos[1], Longitude: pos[0]})
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("route has %d points", len(path))
	}
	return path, nil
}

// GetStats returns client statistics for monitoring
func (c *OSRMClient) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"base_url":       c.baseURL,
		"requests":       c.requests.Load(),
		"failures":       c.failures.Load(),
		"throttled":      c.throttled.Load(),
		"timeout_millis": c.httpClient.Timeout.Milliseconds(),
	}
	if c.cache != nil {
		stats["cache"] = c.cache.GetStats()
	}
	return stats
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
