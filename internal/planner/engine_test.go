package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"routeopt/internal/config"
	"routeopt/internal/geo"
	"routeopt/internal/model"
	"routeopt/internal/opt"
)

var istanbul = geo.Coordinate{Latitude: 41.0082, Longitude: 28.9784}

func newEngine() *Engine {
	cfg := config.Default().Engine
	cfg.Seed = 7
	return New(cfg, nil)
}

func off() *bool { b := false; return &b }

func deliveries(coords ...geo.Coordinate) []model.DeliveryIn {
	out := make([]model.DeliveryIn, len(coords))
	for i, c := range coords {
		out[i] = model.DeliveryIn{ID: string(rune('A' + i)), Address: "addr", Coordinates: c}
	}
	return out
}

func spread(n int) []geo.Coordinate {
	out := make([]geo.Coordinate, n)
	for i := range out {
		out[i] = geo.Coordinate{
			Latitude:  41.0 + 0.013*float64(i%4) + 0.002*float64(i),
			Longitude: 28.95 + 0.017*float64(i/4) - 0.001*float64(i),
		}
	}
	return out
}

func TestIstanbulScenario(t *testing.T) {
	req := model.OptimizeRequest{
		DriverID:        "driver1",
		DriverLocation:  istanbul,
		Deliveries:      deliveries(geo.Coordinate{Latitude: 41.05, Longitude: 29.02}, geo.Coordinate{Latitude: 41.02, Longitude: 28.99}),
		Algorithm:       "greedy",
		IncludeAnalysis: off(),
	}
	res, err := newEngine().Optimize(context.Background(), req)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.OptimizedRoute) != 2 {
		t.Fatalf("route len %d", len(res.OptimizedRoute))
	}
	if res.OptimizedRoute[0].DeliveryID != "B" {
		t.Fatalf("nearer delivery should come first, got %s", res.OptimizedRoute[0].DeliveryID)
	}
	if res.TotalDistance <= 0 {
		t.Fatalf("total distance %v", res.TotalDistance)
	}
	sumTime := 0
	for _, p := range res.OptimizedRoute {
		if want := int(math.Round(p.DistanceFromPrevious * 60 / 50)); absInt(p.EstimatedTime-want) > 1 {
			t.Fatalf("leg minutes %d for %v km", p.EstimatedTime, p.DistanceFromPrevious)
		}
		sumTime += p.EstimatedTime
	}
	if res.TotalTime != sumTime {
		t.Fatalf("total time %d, sum %d", res.TotalTime, sumTime)
	}
	if res.Efficiency < 0 || res.Efficiency > 100 || math.IsNaN(res.FuelEstimate) || res.FuelEstimate <= 0 {
		t.Fatalf("scores out of bounds: eff=%v fuel=%v", res.Efficiency, res.FuelEstimate)
	}
	if res.SustainabilityScore == nil || *res.SustainabilityScore < 0 || *res.SustainabilityScore > 100 {
		t.Fatalf("sustainability %v", res.SustainabilityScore)
	}
	if res.Algorithm != "H3 GREEDY Algorithm" || res.Resolution != 9 {
		t.Fatalf("label %q res %d", res.Algorithm, res.Resolution)
	}
	if !strings.HasPrefix(res.Message, "H3 route optimized in ") {
		t.Fatalf("message %q", res.Message)
	}
	if res.TrafficAnalysis != nil || res.WeatherAnalysis != nil {
		t.Fatalf("analysis attached with includeAnalysis=false")
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestEmptyScenario(t *testing.T) {
	res, err := newEngine().Optimize(context.Background(), model.OptimizeRequest{DriverID: "d"})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.OptimizedRoute) != 0 || res.TotalDistance != 0 || res.Efficiency != 100 {
		t.Fatalf("empty result: %+v", res)
	}
	if res.Message != "No deliveries to optimize" {
		t.Fatalf("message %q", res.Message)
	}
	if res.SustainabilityScore == nil || *res.SustainabilityScore != 100 {
		t.Fatalf("sustainability %v", res.SustainabilityScore)
	}
}

func TestEveryAlgorithmVisitsEachDeliveryOnce(t *testing.T) {
	e := newEngine()
	for _, alg := range opt.Algorithms {
		req := model.OptimizeRequest{
			DriverID:        "d-" + string(alg),
			DriverLocation:  istanbul,
			Deliveries:      deliveries(spread(9)...),
			Algorithm:       string(alg),
			IncludeAnalysis: off(),
		}
		res, sm, err := e.OptimizeWithMetrics(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		seen := map[string]bool{}
		legs := 0.0
		for i, p := range res.OptimizedRoute {
			if p.Order != i+1 {
				t.Fatalf("%s: order %d at %d", alg, p.Order, i)
			}
			if seen[p.DeliveryID] {
				t.Fatalf("%s: %s visited twice", alg, p.DeliveryID)
			}
			seen[p.DeliveryID] = true
			legs += p.DistanceFromPrevious
		}
		if len(seen) != 9 {
			t.Fatalf("%s: visited %d of 9", alg, len(seen))
		}
		if math.Abs(legs-res.TotalDistance) > 0.01 {
			t.Fatalf("%s: legs %v total %v", alg, legs, res.TotalDistance)
		}
		if sm.Algorithm != alg || sm.Points != 9 || sm.RawDistance <= 0 || sm.SolvedAt.IsZero() {
			t.Fatalf("%s: solve metrics %+v", alg, sm)
		}
	}
}

func TestTwoOptNoLongerThanGreedy(t *testing.T) {
	e := newEngine()
	raw := func(alg opt.Algorithm) float64 {
		_, sm, err := e.OptimizeWithMetrics(context.Background(), model.OptimizeRequest{
			DriverID: "cmp", DriverLocation: istanbul, Deliveries: deliveries(spread(10)...), Algorithm: string(alg), IncludeAnalysis: off(),
		})
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		return sm.RawDistance
	}
	if g, o := raw(opt.AlgorithmGreedy), raw(opt.AlgorithmTwoOpt); o > g+0.01 {
		t.Fatalf("2-opt raw %v longer than greedy %v", o, g)
	}
}

func TestSeededRunsAreDeterministic(t *testing.T) {
	e := newEngine()
	for _, alg := range []string{"greedy", "2-opt", "genetic", "ant_colony"} {
		req := model.OptimizeRequest{
			DriverLocation: istanbul, Deliveries: deliveries(spread(8)...), Algorithm: alg, Seed: 99, IncludeAnalysis: off(),
		}
		a, err := e.Optimize(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", alg, err)
		}
		b, _ := e.Optimize(context.Background(), req)
		if !reflect.DeepEqual(ids(a), ids(b)) || a.TotalDistance != b.TotalDistance {
			t.Fatalf("%s not deterministic: %v vs %v", alg, ids(a), ids(b))
		}
	}
}

func ids(r model.RouteResult) []string {
	out := make([]string, len(r.OptimizedRoute))
	for i, p := range r.OptimizedRoute {
		out[i] = p.DeliveryID
	}
	return out
}

func TestInvalidCellsAreSkipped(t *testing.T) {
	good, err := geo.CellOf(geo.Coordinate{Latitude: 41.03, Longitude: 29.0}, 9)
	if err != nil {
		t.Fatalf("CellOf: %v", err)
	}
	req := model.OptimizeRequest{
		DriverLocation: istanbul,
		Deliveries: []model.DeliveryIn{
			{ID: "bad-cell", H3Index: "not-a-cell"},
			{ID: "bad-coord", Coordinates: geo.Coordinate{Latitude: 123, Longitude: 0}},
			{ID: "by-cell", H3Index: good.String()},
			{ID: "by-coord", Coordinates: geo.Coordinate{Latitude: 41.02, Longitude: 28.99}},
		},
		IncludeAnalysis: off(),
	}
	res, err := newEngine().Optimize(context.Background(), req)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(res.OptimizedRoute) != 2 || len(res.SkippedDeliveries) != 2 {
		t.Fatalf("route %d skipped %v", len(res.OptimizedRoute), res.SkippedDeliveries)
	}
	for _, p := range res.OptimizedRoute {
		if p.DeliveryID == "by-cell" && (p.Cell != good || !p.Coordinates.Valid() || p.Coordinates.Latitude == 0) {
			t.Fatalf("cell-only delivery should take the cell centre: %+v", p)
		}
	}

	req.Deliveries = req.Deliveries[:2]
	if _, err := newEngine().Optimize(context.Background(), req); !errors.Is(err, ErrNoValidSpatialData) {
		t.Fatalf("want ErrNoValidSpatialData, got %v", err)
	}
}

func TestRequestErrors(t *testing.T) {
	e := newEngine()
	ds := deliveries(geo.Coordinate{Latitude: 41.02, Longitude: 28.99})
	if _, err := e.Optimize(context.Background(), model.OptimizeRequest{DriverLocation: istanbul, Deliveries: ds, Algorithm: "simulated_annealing"}); !errors.Is(err, opt.ErrUnsupportedAlgorithm) {
		t.Fatalf("want ErrUnsupportedAlgorithm, got %v", err)
	}
	res := 16
	if _, err := e.Optimize(context.Background(), model.OptimizeRequest{DriverLocation: istanbul, Deliveries: ds, Resolution: &res}); !errors.Is(err, geo.ErrInvalidResolution) {
		t.Fatalf("want ErrInvalidResolution, got %v", err)
	}
	if _, err := e.Optimize(context.Background(), model.OptimizeRequest{DriverLocation: geo.Coordinate{Latitude: 95}, Deliveries: ds}); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("want ErrInvalidLocation, got %v", err)
	}
}

func TestAnalysisAttached(t *testing.T) {
	seven := 7
	res, err := newEngine().Optimize(context.Background(), model.OptimizeRequest{
		DriverLocation:   istanbul,
		Deliveries:       deliveries(spread(3)...),
		H3Resolution:     &seven,
		AnalysisRadiusKm: 2,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Resolution != 7 {
		t.Fatalf("h3Resolution alias ignored: %d", res.Resolution)
	}
	if res.TrafficAnalysis == nil || res.WeatherAnalysis == nil {
		t.Fatalf("analysis missing")
	}
	if res.TrafficAnalysis.CellsAnalyzed != len(res.TrafficAnalysis.Hotspots) || res.TrafficAnalysis.CellsAnalyzed < 7 {
		t.Fatalf("traffic analysis: %+v", res.TrafficAnalysis.CongestionSummary)
	}
	for _, p := range res.OptimizedRoute {
		if p.Cell.Resolution() != 7 {
			t.Fatalf("point cell at resolution %d", p.Cell.Resolution())
		}
	}
}

func TestAnalyzeEndpoints(t *testing.T) {
	e := newEngine()
	tr, err := e.AnalyzeTraffic(context.Background(), model.AnalysisRequest{Center: istanbul, RadiusKm: 1, Resolution: 8})
	if err != nil {
		t.Fatalf("AnalyzeTraffic: %v", err)
	}
	s := tr.CongestionSummary
	if s.Light+s.Moderate+s.Heavy+s.Congested != tr.CellsAnalyzed {
		t.Fatalf("summary %+v for %d cells", s, tr.CellsAnalyzed)
	}
	w, err := e.AnalyzeWeather(context.Background(), model.AnalysisRequest{Center: istanbul, RadiusKm: 1, Resolution: 8})
	if err != nil {
		t.Fatalf("AnalyzeWeather: %v", err)
	}
	if w.CenterCell != tr.CenterCell {
		t.Fatalf("centers differ: %s vs %s", w.CenterCell, tr.CenterCell)
	}
	if _, err := e.AnalyzeWeather(context.Background(), model.AnalysisRequest{Center: geo.Coordinate{Longitude: 200}, Resolution: 8}); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("want ErrInvalidLocation, got %v", err)
	}
}

func TestOptimizeBasic(t *testing.T) {
	req := model.OptimizeRequest{
		DriverID:       "basic",
		DriverLocation: istanbul,
		Deliveries:     deliveries(geo.Coordinate{Latitude: 41.05, Longitude: 29.02}, geo.Coordinate{Latitude: 41.02, Longitude: 28.99}),
	}
	res, err := newEngine().OptimizeBasic(context.Background(), req)
	if err != nil {
		t.Fatalf("OptimizeBasic: %v", err)
	}
	if res.Algorithm != BasicAlgorithm || !strings.HasPrefix(res.Message, "Route optimized in ") {
		t.Fatalf("label %q message %q", res.Algorithm, res.Message)
	}
	if got := ids(res); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("order %v", got)
	}
	want := geo.Haversine(istanbul, req.Deliveries[1].Coordinates) + geo.Haversine(req.Deliveries[1].Coordinates, req.Deliveries[0].Coordinates)
	if math.Abs(res.TotalDistance-want) > 0.01 {
		t.Fatalf("total %v want %v", res.TotalDistance, want)
	}
	if res.SustainabilityScore != nil || res.OptimizedRoute[0].TrafficLevel != "" {
		t.Fatalf("basic result should not carry environment data")
	}

	empty, _ := newEngine().OptimizeBasic(context.Background(), model.OptimizeRequest{})
	if empty.Message != "No deliveries to optimize" || empty.Efficiency != 100 {
		t.Fatalf("empty basic: %+v", empty)
	}
}

func TestOptimizeBasicLegsSumToTotal(t *testing.T) {
	e := newEngine()
	rng := rand.New(rand.NewSource(11))
	for run := 0; run < 50; run++ {
		ds := make([]model.DeliveryIn, 40)
		for i := range ds {
			ds[i] = model.DeliveryIn{
				ID:          fmt.Sprintf("p%d", i),
				Coordinates: geo.Coordinate{Latitude: 40.95 + rng.Float64()*0.15, Longitude: 28.85 + rng.Float64()*0.3},
			}
		}
		res, err := e.OptimizeBasic(context.Background(), model.OptimizeRequest{DriverID: "basic", DriverLocation: istanbul, Deliveries: ds})
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		legs, minutes := 0.0, 0
		for _, p := range res.OptimizedRoute {
			legs += p.DistanceFromPrevious
			minutes += p.EstimatedTime
			if math.Abs(legs-p.CumulativeDistance) > 0.01 || minutes != p.CumulativeTime {
				t.Fatalf("run %d: cumulative drift at %d: %v vs %v", run, p.Order, legs, p.CumulativeDistance)
			}
		}
		if math.Abs(legs-res.TotalDistance) > 0.01 || minutes != res.TotalTime {
			t.Fatalf("run %d: legs %v total %v", run, legs, res.TotalDistance)
		}
	}
}
