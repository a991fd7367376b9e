package api

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"routeopt/internal/model"
	"routeopt/internal/webhooks"
)

// Event types published on a driver channel.
const (
	EventRouteOptimized   = webhooks.EventRouteOptimized
	EventLocationUpdated  = "driver.location.updated"
	EventAssignmentUpdate = "assignment.updated"
	eventHeartbeat        = "heartbeat"
)

func newEvent(eventType string, data map[string]any) SSEEvent {
	return SSEEvent{ID: "evt_" + uuid.NewString(), Type: eventType, Data: data}
}

// publishRoute announces res on the driver channel and enqueues the
// route.optimized webhook. Failures are logged, never returned.
func (s *Server) publishRoute(ctx context.Context, res model.RouteResult) {
	order := make([]string, 0, len(res.OptimizedRoute))
	for _, p := range res.OptimizedRoute {
		order = append(order, p.DeliveryID)
	}
	if res.DriverID != "" {
		s.Broker.Publish(res.DriverID, newEvent(EventRouteOptimized, map[string]any{
			"driverId":         res.DriverID,
			"algorithm":        res.Algorithm,
			"resolution":       res.Resolution,
			"order":            order,
			"totalDistance":    res.TotalDistance,
			"totalTime":        res.TotalTime,
			"efficiency":       res.Efficiency,
			"processingTimeMs": res.ProcessingTimeMs,
			"ts":               time.Now().UTC().Format(time.RFC3339),
		}))
	}
	if _, err := s.Pub.Emit(ctx, webhooks.EventRouteOptimized, res); err != nil {
		log.Printf("webhooks: emit %s driver=%s: %v", webhooks.EventRouteOptimized, res.DriverID, err)
	}
}
