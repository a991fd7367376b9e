package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"routeopt/internal/geo"
	"routeopt/internal/model"
)

// heartbeatInterval spaces SSE heartbeats on an idle stream.
var heartbeatInterval = 15 * time.Second

// DriversHandler handles location, assignment, optimize and event stream
// endpoints under /v1/drivers/{driverId}/...
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/drivers/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/drivers/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	driverID := parts[0]
	switch action := strings.Join(parts[1:], "/"); {
	case action == "location":
		s.driverLocation(w, r, driverID)
	case action == "assignments":
		s.driverAssignments(w, r, driverID)
	case len(parts) == 3 && parts[1] == "assignments":
		s.assignmentStatus(w, r, driverID, parts[2])
	case action == "optimize":
		s.driverOptimize(w, r, driverID)
	case action == "events/stream":
		s.driverEvents(w, r, driverID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) driverLocation(w http.ResponseWriter, r *http.Request, driverID string) {
	switch r.Method {
	case http.MethodGet:
		loc, err := s.Store.GetDriverLocation(r.Context(), driverID)
		if err != nil {
			writeError(w, r, "Get location failed", err)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	case http.MethodPut:
		var loc model.DriverLocation
		if err := decodeJSON(r, &loc); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if !loc.Coordinates.Valid() {
			writeError(w, r, "Invalid location", fmt.Errorf("%w: %+v", geo.ErrInvalidCoordinate, loc.Coordinates))
			return
		}
		loc.DriverID = driverID
		loc.RecordedAt = time.Now().UTC().Format(time.RFC3339)
		if err := s.Store.UpsertDriverLocation(r.Context(), loc); err != nil {
			writeError(w, r, "Update location failed", err)
			return
		}
		s.Broker.Publish(driverID, newEvent(EventLocationUpdated, map[string]any{
			"driverId": driverID, "lat": loc.Coordinates.Latitude, "lng": loc.Coordinates.Longitude, "ts": loc.RecordedAt,
		}))
		writeJSON(w, http.StatusOK, loc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) driverAssignments(w http.ResponseWriter, r *http.Request, driverID string) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListPendingDeliveries(r.Context(), driverID)
		if err != nil {
			writeError(w, r, "List assignments failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var body struct {
			Deliveries []model.DeliveryIn `json:"deliveries"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if len(body.Deliveries) == 0 {
			writeProblem(w, http.StatusBadRequest, "Missing deliveries", "", r.URL.Path)
			return
		}
		if err := validateDeliveries(body.Deliveries); err != nil {
			writeError(w, r, "Invalid assignment", err)
			return
		}
		for _, d := range body.Deliveries {
			if err := s.Store.AssignDelivery(r.Context(), driverID, d); err != nil {
				writeError(w, r, "Assign failed", err)
				return
			}
		}
		writeJSON(w, http.StatusCreated, map[string]any{"assigned": len(body.Deliveries)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) assignmentStatus(w http.ResponseWriter, r *http.Request, driverID, deliveryID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.UpdateAssignmentStatus(r.Context(), driverID, deliveryID, body.Status); err != nil {
		writeError(w, r, "Update assignment failed", err)
		return
	}
	s.Broker.Publish(driverID, newEvent(EventAssignmentUpdate, map[string]any{
		"driverId": driverID, "deliveryId": deliveryID, "status": body.Status,
	}))
	writeJSON(w, http.StatusOK, map[string]string{"deliveryId": deliveryID, "status": body.Status})
}

// driverOptimize plans the driver's open assignments from the last known
// location. The request body is optional.
func (s *Server) driverOptimize(w http.ResponseWriter, r *http.Request, driverID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body model.DriverOptimizeRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateDriverOptimize(&body); err != nil {
		writeError(w, r, "Invalid optimize request", err)
		return
	}
	loc, err := s.Store.GetDriverLocation(r.Context(), driverID)
	if err != nil {
		writeError(w, r, "Driver location unknown", err)
		return
	}
	deliveries, err := s.Store.ListPendingDeliveries(r.Context(), driverID)
	if err != nil {
		writeError(w, r, "List assignments failed", err)
		return
	}
	res, err := s.optimize(r.Context(), model.OptimizeRequest{
		DriverID:        driverID,
		DriverLocation:  loc.Coordinates,
		Deliveries:      deliveries,
		Resolution:      body.Resolution,
		Algorithm:       body.Algorithm,
		VehicleCapacity: body.VehicleCapacity,
		VehicleVolume:   body.VehicleVolume,
		VehicleType:     body.VehicleType,
		IncludeAnalysis: body.IncludeAnalysis,
		Seed:            body.Seed,
	})
	if err != nil {
		writeError(w, r, "Optimize failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// driverEvents streams the driver channel as server-sent events.
func (s *Server) driverEvents(w http.ResponseWriter, r *http.Request, driverID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(driverID)
	defer s.Broker.Unsubscribe(driverID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: %s\n", eventHeartbeat)
		fmt.Fprintf(w, "data: {\"driverId\":%q,\"ts\":%q}\n\n", driverID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			if evt.ID != "" {
				fmt.Fprintf(w, "id: %s\n", evt.ID)
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
