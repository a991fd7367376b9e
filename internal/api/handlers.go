package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"routeopt/internal/buildinfo"
	"routeopt/internal/geo"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/opt"
	"routeopt/internal/planner"
)

// OptimizeHandler runs the grid-based optimizer on POST /v1/optimize.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeError(w, r, "Invalid optimize request", err)
		return
	}
	res, err := s.optimize(r.Context(), req)
	if err != nil {
		writeError(w, r, "Optimize failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BasicOptimizeHandler runs the haversine-only optimizer on POST /v1/optimize/basic.
func (s *Server) BasicOptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if len(req.Deliveries) > maxDeliveries {
		writeError(w, r, "Invalid optimize request", invalid("at most %d deliveries per request", maxDeliveries))
		return
	}
	if err := validateDeliveries(req.Deliveries); err != nil {
		writeError(w, r, "Invalid optimize request", err)
		return
	}
	start := time.Now()
	res, err := s.Engine.OptimizeBasic(r.Context(), req)
	metrics.ObserveOptimization("basic", outcome(err), time.Since(start), len(res.SkippedDeliveries))
	if err != nil {
		writeError(w, r, "Optimize failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// optimize runs the engine and fans the result out to metrics, the plan
// metrics store, the driver event channel and webhooks.
func (s *Server) optimize(ctx context.Context, req model.OptimizeRequest) (model.RouteResult, error) {
	tag := req.Algorithm
	if tag == "" {
		tag = s.Engine.Config().DefaultAlgorithm
	}
	alg, perr := opt.ParseAlgorithm(tag)
	label := string(alg)
	if perr != nil {
		label = "unknown"
	}
	start := time.Now()
	res, sm, err := s.Engine.OptimizeWithMetrics(ctx, req)
	metrics.ObserveOptimization(label, outcome(err), time.Since(start), len(res.SkippedDeliveries))
	if err != nil {
		return res, err
	}
	if len(res.OptimizedRoute) == 0 {
		return res, nil
	}
	if req.DriverID != "" {
		s.Solves.Record(req.DriverID, sm)
		if err := s.Store.SavePlanMetrics(ctx, req.DriverID, sm); err != nil {
			log.Printf("save plan metrics driver=%s: %v", req.DriverID, err)
		}
	}
	s.publishRoute(ctx, res)
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, planner.ErrNoValidSpatialData):
		return "no_valid_data"
	case statusFor(err) == http.StatusBadRequest:
		return "invalid"
	default:
		return "error"
	}
}

// TrafficAnalysisHandler serves GET /v1/analysis/traffic?lat=&lng=&radiusKm=&resolution=
func (s *Server) TrafficAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := s.analysisQuery(r)
	if err != nil {
		writeError(w, r, "Invalid analysis request", err)
		return
	}
	out, err := s.Engine.AnalyzeTraffic(r.Context(), req)
	if err != nil {
		writeError(w, r, "Traffic analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// WeatherAnalysisHandler serves GET /v1/analysis/weather with the traffic query parameters.
func (s *Server) WeatherAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := s.analysisQuery(r)
	if err != nil {
		writeError(w, r, "Invalid analysis request", err)
		return
	}
	out, err := s.Engine.AnalyzeWeather(r.Context(), req)
	if err != nil {
		writeError(w, r, "Weather analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) analysisQuery(r *http.Request) (model.AnalysisRequest, error) {
	q := r.URL.Query()
	req := model.AnalysisRequest{Resolution: s.Engine.Config().DefaultResolution}
	if q.Get("lat") == "" || q.Get("lng") == "" {
		return req, invalid("lat and lng are required")
	}
	var err error
	if req.Center.Latitude, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
		return req, invalid("lat: %v", err)
	}
	if req.Center.Longitude, err = strconv.ParseFloat(q.Get("lng"), 64); err != nil {
		return req, invalid("lng: %v", err)
	}
	if !req.Center.Valid() {
		return req, fmt.Errorf("%w: %+v", geo.ErrInvalidCoordinate, req.Center)
	}
	if v := q.Get("radiusKm"); v != "" {
		if req.RadiusKm, err = strconv.ParseFloat(v, 64); err != nil || req.RadiusKm < 0 {
			return req, invalid("radiusKm must be a non-negative number")
		}
	}
	if v := q.Get("resolution"); v != "" {
		if req.Resolution, err = strconv.Atoi(v); err != nil {
			return req, invalid("resolution: %v", err)
		}
	}
	return req, nil
}

// OptimizerConfigHandler returns the engine defaults and supported algorithms.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{
		"defaults":   s.Engine.Config(),
		"algorithms": opt.Algorithms,
	})
}

// PlanMetricsHandler lists solver metrics for ?driverId=, optionally filtered by ?algo=.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/plan-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	driverID := r.URL.Query().Get("driverId")
	if driverID == "" {
		writeJSON(w, 200, map[string]any{"drivers": s.Solves.Drivers()})
		return
	}
	var algo opt.Algorithm
	if v := r.URL.Query().Get("algo"); v != "" {
		a, err := opt.ParseAlgorithm(v)
		if err != nil {
			writeError(w, r, "Invalid algo", err)
			return
		}
		algo = a
	}
	// Prefer stored metrics; fallback to in-memory
	items, err := s.Store.ListPlanMetrics(r.Context(), driverID, algo)
	if err != nil || len(items) == 0 {
		items = []opt.Metrics{}
		for a, m := range s.Solves.Get(driverID) {
			if algo != "" && a != algo {
				continue
			}
			items = append(items, m)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Algorithm < items[j].Algorithm })
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookEventsHandler lists outbox events, filtered by ?status= and ?limit=.
func (s *Server) WebhookEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-events" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, 400, "Invalid limit", "", r.URL.Path)
			return
		}
		limit = n
	}
	items, err := s.Store.ListEvents(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeProblem(w, 500, "List events failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	if p, ok := s.Broker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
