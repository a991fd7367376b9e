package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routeopt/internal/store"
)

// EventRouteOptimized is emitted after every successful optimization.
const EventRouteOptimized = "route.optimized"

// Publisher fans an event out to every configured endpoint through the outbox.
type Publisher struct {
	Outbox store.Outbox
	URLs   []string
	Secret string
}

func NewPublisher(o store.Outbox, urls []string, secret string) *Publisher {
	return &Publisher{Outbox: o, URLs: urls, Secret: secret}
}

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
	Data any       `json:"data"`
}

// Emit enqueues data for every URL and returns the event id. With no URLs
// configured it is a no-op.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) (string, error) {
	if p == nil || len(p.URLs) == 0 {
		return "", nil
	}
	env := Envelope{ID: "evt_" + uuid.NewString(), Type: eventType, TS: time.Now().UTC(), Data: data}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", eventType, err)
	}
	var errs []error
	for _, u := range p.URLs {
		if _, err := p.Outbox.EnqueueEvent(ctx, eventType, u, p.Secret, body); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s for %s: %w", eventType, u, err))
		}
	}
	return env.ID, errors.Join(errs...)
}
