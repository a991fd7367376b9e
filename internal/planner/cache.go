package planner

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"routeopt/internal/environment"
	"routeopt/internal/geo"
)

type areaKind uint8

const (
	areaTraffic areaKind = iota
	areaWeather
)

// areaKey identifies an analysis by its grid footprint rather than the raw
// center coordinate, so nearby requests share an entry.
type areaKey struct {
	kind areaKind
	cell geo.Cell
	ring int
}

// areaCache holds analyses for a bounded time. Cached values are shared
// between callers and must not be mutated.
type areaCache struct {
	lru *expirable.LRU[areaKey, any]
}

func newAreaCache(size int, ttl time.Duration) *areaCache {
	if size <= 0 {
		return nil
	}
	return &areaCache{lru: expirable.NewLRU[areaKey, any](size, nil, ttl)}
}

// areaKey also returns the coverage of this request. Requests sharing a key
// may differ in requested radius, so a cached hit takes the caller's coverage.
func (e *Engine) areaKey(kind areaKind, center geo.Coordinate, radiusKm float64, resolution int) (areaKey, environment.Coverage, error) {
	c, err := geo.CellOf(center, resolution)
	if err != nil {
		return areaKey{}, environment.Coverage{}, err
	}
	cov, err := e.analyzer.Coverage(radiusKm, resolution)
	if err != nil {
		return areaKey{}, environment.Coverage{}, err
	}
	return areaKey{kind: kind, cell: c, ring: cov.Ring}, cov, nil
}

func (e *Engine) traffic(center geo.Coordinate, radiusKm float64, resolution int) (environment.TrafficAnalysis, error) {
	if e.cache == nil {
		return e.analyzer.AnalyzeTraffic(center, radiusKm, resolution)
	}
	k, cov, err := e.areaKey(areaTraffic, center, radiusKm, resolution)
	if err != nil {
		return environment.TrafficAnalysis{}, err
	}
	if v, ok := e.cache.lru.Get(k); ok {
		out := v.(environment.TrafficAnalysis)
		out.Coverage = cov
		return out, nil
	}
	out, err := e.analyzer.AnalyzeTraffic(center, radiusKm, resolution)
	if err != nil {
		return out, err
	}
	e.cache.lru.Add(k, out)
	return out, nil
}

func (e *Engine) weather(center geo.Coordinate, radiusKm float64, resolution int) (environment.WeatherAnalysis, error) {
	if e.cache == nil {
		return e.analyzer.AnalyzeWeather(center, radiusKm, resolution)
	}
	k, cov, err := e.areaKey(areaWeather, center, radiusKm, resolution)
	if err != nil {
		return environment.WeatherAnalysis{}, err
	}
	if v, ok := e.cache.lru.Get(k); ok {
		out := v.(environment.WeatherAnalysis)
		out.Coverage = cov
		return out, nil
	}
	out, err := e.analyzer.AnalyzeWeather(center, radiusKm, resolution)
	if err != nil {
		return out, err
	}
	e.cache.lru.Add(k, out)
	return out, nil
}

// CachedAnalyses reports the number of live cache entries.
func (e *Engine) CachedAnalyses() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.lru.Len()
}
