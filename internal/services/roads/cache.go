package roads

import (
	"fmt"
	"sync/atomic"
	"time"

	"civic-dispatch-backend/internal/models"

	gocache "github.com/patrickmn/go-cache"
)

// RouteCache keeps recently fetched external routes so repeated dispatches
// between the same points don't hit the routing service again.
type RouteCache struct {
	cache *gocache.Cache
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewRouteCache(ttl time.Duration) *RouteCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RouteCache{
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// RouteKey rounds both endpoints to 5 decimals (~1 m).
func RouteKey(from, to models.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f_%.5f,%.5f", from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}

func (c *RouteCache) Get(key string) ([]models.Coordinate, bool) {
	if v, found := c.cache.Get(key); found {
		c.hits.Add(1)
		return models.Path(v.([]models.Coordinate)).Clone(), true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *RouteCache) Set(key string, path []models.Coordinate) {
	c.cache.SetDefault(key, []models.Coordinate(models.Path(path).Clone()))
}

// GetStats returns cache statistics for monitoring
func (c *RouteCache) GetStats() map[string]interface{} {
	hits, misses := c.hits.Load(), c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return map[string]interface{}{
		"cache_size":  c.cache.ItemCount(),
		"hits":        hits,
		"misses":      misses,
		"hit_rate":    fmt.Sprintf("%.2f%%", hitRate),
		"ttl_seconds": int(c.ttl.Seconds()),
	}
}
