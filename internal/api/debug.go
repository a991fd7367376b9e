package api

import (
	"net/http"
	"time"

	"routeopt/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret parts of the configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":            c.Server.Port,
			"rateLimitRps":    c.Server.RateLimitRPS,
			"rateLimitBurst":  c.Server.RateLimitBurst,
			"maxBodyBytes":    c.Server.MaxBodyBytes,
			"hasDatabaseUrl":  c.Server.DatabaseURL != "",
			"hasRedisUrl":     c.Server.RedisURL != "",
			"webhookUrls":     len(c.Webhooks.URLs),
			"webhookSigned":   c.Webhooks.Secret != "",
			"webhookAttempts": c.Webhooks.MaxAttempts,
			"engine":          c.Engine,
		},
	})
}
