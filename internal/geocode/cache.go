// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/wneessen/geoflow/internal/location"
)

// coordPrecision is the precision used to quantize coordinates (0.001 degrees ≈ 110 m)
const coordPrecision = 1e-3

type cacheKey struct {
	LatQ int32
	LonQ int32
}

type cacheEntry struct {
	Place  Place
	Expiry time.Time
}

// Cache remembers reverse lookups of nearby positions, so a marker moving inside the same
// block does not hit the geocoding API again.
type Cache struct {
	coder   Geocoder
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewCache(coder Geocoder, ttlHit, ttlMiss time.Duration) *Cache {
	return &Cache{
		coder:   coder,
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

func (c *Cache) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

// Reverse returns the cached place of pos or asks the wrapped geocoder. Failed lookups are
// not cached.
func (c *Cache) Reverse(ctx context.Context, pos location.Position) (Place, error) {
	key := newKey(pos.Lat, pos.Lon)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.Expiry) {
		return entry.Place, nil
	}

	place, err := c.coder.Reverse(ctx, pos)
	if err != nil {
		return place, err
	}

	ttl := c.ttlHit
	if !place.Found {
		ttl = c.ttlMiss
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{
		Place:  place,
		Expiry: time.Now().Add(ttl),
	}

	return place, nil
}

// Len returns the number of cached entries, including expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}

func newKey(lat, lon float64) cacheKey {
	return cacheKey{
		LatQ: quantizeCoord(lat),
		LonQ: quantizeCoord(lon),
	}
}
