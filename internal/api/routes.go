package api

import "net/http"

// Routes registers every API endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimize/basic", s.BasicOptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

	// Area analysis
	mux.HandleFunc("/v1/analysis/traffic", s.TrafficAnalysisHandler)
	mux.HandleFunc("/v1/analysis/weather", s.WeatherAnalysisHandler)

	// Drivers: location, assignments, optimize, events/stream
	mux.HandleFunc("/v1/drivers/", s.DriversHandler)
	mux.HandleFunc("/v1/routes/ws", s.RouteEventsWSHandler)

	// Admin
	mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-events", s.WebhookEventsHandler)

	// Health and docs
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	return mux
}
