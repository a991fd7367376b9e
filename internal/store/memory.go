package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"routeopt/internal/model"
	"routeopt/internal/opt"
)

// Memory is an in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	locations map[string]model.DriverLocation // driverId -> last location
	// driverId -> assignments in assignment order
	assignments map[string][]*memAssignment
	metrics     map[string][]opt.Metrics // driverId -> plan metrics, oldest first
	events      map[string]*memEvent     // id -> event
	eventIDs    []string                 // insertion order
	dedup       map[string]string        // type|url|dedupKey -> id
}

type memAssignment struct {
	delivery model.DeliveryIn
	status   string
}

type memEvent struct {
	OutboxEvent
	DeliveredAt *time.Time
	LatencyMs   int
}

func NewMemory() *Memory {
	return &Memory{
		locations:   map[string]model.DriverLocation{},
		assignments: map[string][]*memAssignment{},
		metrics:     map[string][]opt.Metrics{},
		events:      map[string]*memEvent{},
		dedup:       map[string]string{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) UpsertDriverLocation(ctx context.Context, loc model.DriverLocation) error {
	if loc.RecordedAt == "" {
		loc.RecordedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.DriverID] = loc
	return nil
}

func (m *Memory) GetDriverLocation(ctx context.Context, driverID string) (model.DriverLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[driverID]
	if !ok {
		return model.DriverLocation{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	return loc, nil
}

// AssignDelivery adds d to the driver's assignments, or resets an existing
// assignment with the same delivery id to pending.
func (m *Memory) AssignDelivery(ctx context.Context, driverID string, d model.DeliveryIn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments[driverID] {
		if a.delivery.ID == d.ID {
			a.delivery = d
			a.status = model.AssignmentPending
			return nil
		}
	}
	m.assignments[driverID] = append(m.assignments[driverID], &memAssignment{delivery: d, status: model.AssignmentPending})
	return nil
}

func (m *Memory) UpdateAssignmentStatus(ctx context.Context, driverID, deliveryID, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments[driverID] {
		if a.delivery.ID == deliveryID {
			a.status = status
			return nil
		}
	}
	return fmt.Errorf("assignment %s/%s: %w", driverID, deliveryID, ErrNotFound)
}

// ListPendingDeliveries returns the driver's open assignments in assignment order.
func (m *Memory) ListPendingDeliveries(ctx context.Context, driverID string) ([]model.DeliveryIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryIn{}
	for _, a := range m.assignments[driverID] {
		if isOpen(a.status) {
			out = append(out, a.delivery)
		}
	}
	return out, nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, driverID string, pm opt.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[driverID] = append(m.metrics[driverID], pm)
	return nil
}

// ListPlanMetrics returns the driver's metrics, newest first. An empty algo matches all.
func (m *Memory) ListPlanMetrics(ctx context.Context, driverID string, algo opt.Algorithm) ([]opt.Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.metrics[driverID]
	out := []opt.Metrics{}
	for i := len(items) - 1; i >= 0; i-- {
		if algo == "" || items[i].Algorithm == algo {
			out = append(out, items[i])
		}
	}
	return out, nil
}

func (m *Memory) EnqueueEvent(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[dk]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.events[id] = &memEvent{OutboxEvent: OutboxEvent{
		ID:            id,
		EventType:     eventType,
		URL:           url,
		Secret:        secret,
		Payload:       payload,
		Status:        EventPending,
		NextAttemptAt: time.Now(),
	}}
	m.eventIDs = append(m.eventIDs, id)
	m.dedup[dk] = id
	return id, nil
}

func (m *Memory) FetchDueEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []OutboxEvent{}
	for _, id := range m.eventIDs {
		e := m.events[id]
		if (e.Status == EventPending || e.Status == EventRetry) && !e.NextAttemptAt.After(now) {
			out = append(out, e.OutboxEvent)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkEvent(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[id]
	if e == nil {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	e.Attempts++
	e.ResponseCode = responseCode
	e.LatencyMs = latencyMs
	if success {
		now := time.Now()
		e.Status = EventDelivered
		e.DeliveredAt = &now
		return nil
	}
	e.Status = EventRetry
	e.LastError = lastError
	if nextAttemptAt != nil {
		e.NextAttemptAt = *nextAttemptAt
	} else {
		e.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailEvent(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[id]
	if e == nil {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	e.Attempts++
	e.Status = EventFailed
	e.LastError = lastError
	e.ResponseCode = responseCode
	e.LatencyMs = latencyMs
	return nil
}

// ListEvents returns events newest first. An empty status matches all.
func (m *Memory) ListEvents(ctx context.Context, status string, limit int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []OutboxEvent{}
	for i := len(m.eventIDs) - 1; i >= 0; i-- {
		e := m.events[m.eventIDs[i]]
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e.OutboxEvent)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
