package api

import (
	"context"
	"errors"
	"log"
	"strings"

	"routeopt/internal/config"
	"routeopt/internal/opt"
	"routeopt/internal/planner"
	"routeopt/internal/store"
	"routeopt/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Engine *planner.Engine
	Pub    *webhooks.Publisher
	Broker EventBroker
	Config config.Config
	// Solves holds the latest solve per driver and algorithm.
	Solves *opt.MetricsStore
}

// NewServer wires a Server from cfg. Without a Redis URL events stay in-process.
func NewServer(cfg config.Config) (*Server, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	var broker EventBroker
	if cfg.Server.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.Server.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	return &Server{
		Store:  s,
		Engine: planner.New(cfg.Engine, nil),
		Pub:    webhooks.NewPublisher(s, cfg.Webhooks.URLs, cfg.Webhooks.Secret),
		Broker: broker,
		Config: cfg,
		Solves: opt.NewMetricsStore(opt.DefaultRecentSolves),
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts)
}

// Close releases the store and broker connections.
func (s *Server) Close() error {
	type closer interface{ Close() error }
	var errs []error
	if c, ok := s.Store.(closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.Broker.(closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// openStore picks Postgres when DATABASE_URL is set, then SQLite when
// SQLITE_PATH is set, and falls back to memory.
func openStore(cfg config.Config) (store.Store, error) {
	switch {
	case strings.TrimSpace(cfg.Server.DatabaseURL) != "":
		sp, err := store.NewPostgres(cfg.Server.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Server.Migrate {
			if err := sp.MigrateDir(context.Background(), cfg.Server.MigrationsDir); err != nil {
				_ = sp.Close()
				return nil, err
			}
		}
		return sp, nil
	case strings.TrimSpace(cfg.Server.SQLitePath) != "":
		sl, err := store.NewSQLite(cfg.Server.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sl, nil
	default:
		return store.NewMemory(), nil
	}
}
