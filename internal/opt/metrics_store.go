package opt

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Metrics describes one solve for a driver and algorithm.
type Metrics struct {
	Algorithm   Algorithm `json:"algorithm"`
	Points      int       `json:"points"`
	Iterations  int       `json:"iterations"`
	RawDistance float64   `json:"rawDistanceKm"`
	DurationMs  int64     `json:"durationMs"`
	SolvedAt    time.Time `json:"solvedAt"`
}

type key struct {
	Driver string
	Algo   Algorithm
}

// DefaultRecentSolves bounds a MetricsStore created with size <= 0.
const DefaultRecentSolves = 4096

// MetricsStore keeps the latest Metrics per driver and algorithm. The least
// recently written entries are evicted once size is reached. Safe for
// concurrent use.
type MetricsStore struct {
	recent *lru.Cache[key, Metrics]
}

func NewMetricsStore(size int) *MetricsStore {
	if size <= 0 {
		size = DefaultRecentSolves
	}
	c, _ := lru.New[key, Metrics](size) // only fails for size <= 0
	return &MetricsStore{recent: c}
}

func (s *MetricsStore) Record(driver string, m Metrics) {
	s.recent.Add(key{Driver: driver, Algo: m.Algorithm}, m)
}

// Get returns the last metrics per algorithm for driver.
func (s *MetricsStore) Get(driver string) map[Algorithm]Metrics {
	out := map[Algorithm]Metrics{}
	for _, k := range s.recent.Keys() {
		if k.Driver != driver {
			continue
		}
		if m, ok := s.recent.Peek(k); ok {
			out[k.Algo] = m
		}
	}
	return out
}

// Drivers lists every driver with recorded metrics, sorted.
func (s *MetricsStore) Drivers() []string {
	seen := map[string]struct{}{}
	for _, k := range s.recent.Keys() {
		seen[k.Driver] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s *MetricsStore) Len() int { return s.recent.Len() }
