//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"routeopt/internal/geo"
	"routeopt/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir(t.Context(), "../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}
	loc := model.DriverLocation{DriverID: "it-driver", Coordinates: geo.Coordinate{Latitude: 41.0082, Longitude: 28.9784}}
	if err := p.UpsertDriverLocation(t.Context(), loc); err != nil {
		t.Fatalf("UpsertDriverLocation: %v", err)
	}
	if err := p.AssignDelivery(t.Context(), "it-driver", model.DeliveryIn{ID: "it-1", Coordinates: geo.Coordinate{Latitude: 41.02, Longitude: 28.99}}); err != nil {
		t.Fatalf("AssignDelivery: %v", err)
	}
	ds, err := p.ListPendingDeliveries(t.Context(), "it-driver")
	if err != nil || len(ds) == 0 {
		t.Fatalf("ListPendingDeliveries: %v %v", ds, err)
	}
}
