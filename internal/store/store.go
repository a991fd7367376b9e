package store

import (
	"context"
	"errors"
	"time"

	"routeopt/internal/model"
	"routeopt/internal/opt"
)

// Store is the persistence interface used by the API server: the driver and
// delivery data the optimizer reads, plus the outbound event queue.
type Store interface {
	Ping(ctx context.Context) error

	// Drivers
	UpsertDriverLocation(ctx context.Context, loc model.DriverLocation) error
	GetDriverLocation(ctx context.Context, driverID string) (model.DriverLocation, error)

	// Assignments
	AssignDelivery(ctx context.Context, driverID string, d model.DeliveryIn) error
	UpdateAssignmentStatus(ctx context.Context, driverID, deliveryID, status string) error
	ListPendingDeliveries(ctx context.Context, driverID string) ([]model.DeliveryIn, error)

	// Plan metrics
	SavePlanMetrics(ctx context.Context, driverID string, m opt.Metrics) error
	ListPlanMetrics(ctx context.Context, driverID string, algo opt.Algorithm) ([]opt.Metrics, error)

	Outbox
}

// Outbox is the queue of outbound webhook events.
type Outbox interface {
	EnqueueEvent(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEvent(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailEvent(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListEvents(ctx context.Context, status string, limit int) ([]OutboxEvent, error)
}

// Outbox event statuses.
const (
	EventPending   = "pending"
	EventRetry     = "retry"
	EventDelivered = "delivered"
	EventFailed    = "failed"
)

type OutboxEvent struct {
	ID            string    `json:"id"`
	EventType     string    `json:"eventType"`
	URL           string    `json:"url"`
	Secret        string    `json:"-"`
	Payload       []byte    `json:"-"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
	ResponseCode  int       `json:"responseCode,omitempty"`
}

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid assignment status")
)

// openStatuses are the assignment states still to be delivered.
var openStatuses = []string{model.AssignmentPending, model.AssignmentAccepted, model.AssignmentInProgress}

func validStatus(s string) bool {
	switch s {
	case model.AssignmentPending, model.AssignmentAccepted, model.AssignmentInProgress,
		model.AssignmentCompleted, model.AssignmentRejected, model.AssignmentCancelled:
		return true
	}
	return false
}

func isOpen(s string) bool {
	for _, o := range openStatuses {
		if s == o {
			return true
		}
	}
	return false
}
