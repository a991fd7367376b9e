package planner

import (
	"context"
	"reflect"
	"testing"

	"routeopt/internal/config"
	"routeopt/internal/geo"
	"routeopt/internal/model"
)

func TestAnalysisCache(t *testing.T) {
	cfg := config.Default().Engine
	cfg.AnalysisCacheSize = 16
	e := New(cfg, nil)
	req := model.AnalysisRequest{Center: istanbul, RadiusKm: 2, Resolution: 7}
	first, err := e.AnalyzeTraffic(context.Background(), req)
	if err != nil {
		t.Fatalf("AnalyzeTraffic: %v", err)
	}
	if n := e.CachedAnalyses(); n != 1 {
		t.Fatalf("cached entries %d, want 1", n)
	}
	// the centroid of the same cell hits the cached entry
	cell, err := geo.CellOf(istanbul, 7)
	if err != nil {
		t.Fatal(err)
	}
	near := req
	if near.Center, err = geo.CoordOf(cell); err != nil {
		t.Fatal(err)
	}
	second, err := e.AnalyzeTraffic(context.Background(), near)
	if err != nil {
		t.Fatalf("AnalyzeTraffic: %v", err)
	}
	if !reflect.DeepEqual(first, second) || e.CachedAnalyses() != 1 {
		t.Fatalf("expected cache hit, entries=%d", e.CachedAnalyses())
	}
	if _, err := e.AnalyzeWeather(context.Background(), req); err != nil {
		t.Fatalf("AnalyzeWeather: %v", err)
	}
	if n := e.CachedAnalyses(); n != 2 {
		t.Fatalf("traffic and weather should be cached separately, got %d", n)
	}
}

func TestAnalysisCacheKeepsCallerCoverage(t *testing.T) {
	cfg := config.Default().Engine
	cfg.AnalysisCacheSize = 16
	e := New(cfg, nil)
	edge, err := geo.EdgeLength(9, "km")
	if err != nil {
		t.Fatal(err)
	}
	// both radii resolve to the capped ring and share one entry
	small := model.AnalysisRequest{Center: istanbul, RadiusKm: edge * 29.5, Resolution: 9}
	large := small
	large.RadiusKm = 50
	a, err := e.AnalyzeWeather(context.Background(), small)
	if err != nil {
		t.Fatalf("AnalyzeWeather: %v", err)
	}
	b, err := e.AnalyzeWeather(context.Background(), large)
	if err != nil {
		t.Fatalf("AnalyzeWeather: %v", err)
	}
	if e.CachedAnalyses() != 1 {
		t.Fatalf("expected one shared entry, got %d", e.CachedAnalyses())
	}
	if a.Coverage.Clamped || a.Coverage.RequestedRadiusKm != small.RadiusKm {
		t.Fatalf("small coverage %+v", a.Coverage)
	}
	if !b.Coverage.Clamped || b.Coverage.RequestedRadiusKm != 50 || b.Coverage.Ring != a.Coverage.Ring {
		t.Fatalf("large coverage %+v", b.Coverage)
	}
	if !reflect.DeepEqual(a.Zones, b.Zones) {
		t.Fatalf("cached zones should match")
	}
}

func TestAnalysisCacheDisabled(t *testing.T) {
	e := New(config.Default().Engine, nil)
	req := model.AnalysisRequest{Center: istanbul, RadiusKm: 1, Resolution: 7}
	a, err := e.AnalyzeWeather(context.Background(), req)
	if err != nil {
		t.Fatalf("AnalyzeWeather: %v", err)
	}
	b, _ := e.AnalyzeWeather(context.Background(), req)
	if !reflect.DeepEqual(a, b) || e.CachedAnalyses() != 0 {
		t.Fatalf("uncached analyses should still be deterministic")
	}
}
