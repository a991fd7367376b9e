// Package config loads service and engine settings from an optional YAML
// file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"routeopt/internal/environment"
	"routeopt/internal/geo"
	"routeopt/internal/opt"
)

type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Engine   EngineConfig  `yaml:"engine"`
	Webhooks WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Port           string  `yaml:"port"`
	DatabaseURL    string  `yaml:"databaseUrl"`
	RedisURL       string  `yaml:"redisUrl"`
	SQLitePath     string  `yaml:"sqlitePath"`
	Migrate        bool    `yaml:"migrate"`
	MigrationsDir  string  `yaml:"migrationsDir"`
	RateLimitRPS   float64 `yaml:"rateLimitRps"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`
	MaxBodyBytes   int64   `yaml:"maxBodyBytes"`
}

// EngineConfig holds the planner defaults. AnalysisCacheSize caps cached
// area analyses; zero disables the cache.
type EngineConfig struct {
	DefaultResolution  int        `yaml:"defaultResolution" json:"defaultResolution"`
	DefaultAlgorithm   string     `yaml:"defaultAlgorithm" json:"defaultAlgorithm"`
	DefaultCapacity    float64    `yaml:"defaultVehicleCapacity" json:"defaultVehicleCapacity"`
	DefaultVolume      float64    `yaml:"defaultVehicleVolume" json:"defaultVehicleVolume"`
	DefaultVehicleType string     `yaml:"defaultVehicleType" json:"defaultVehicleType"`
	DefaultServiceMin  int        `yaml:"defaultServiceTimeMin" json:"defaultServiceTimeMin"`
	AnalysisRadiusKm   float64    `yaml:"analysisRadiusKm" json:"analysisRadiusKm"`
	MaxAnalysisRing    int        `yaml:"maxAnalysisRing" json:"maxAnalysisRing"`
	AnalysisCacheSize  int        `yaml:"analysisCacheSize" json:"analysisCacheSize"`
	AnalysisCacheTTLMs int        `yaml:"analysisCacheTtlMs" json:"analysisCacheTtlMs"`
	TimeBudgetMs       int        `yaml:"timeBudgetMs" json:"timeBudgetMs"`
	Seed               int64      `yaml:"seed" json:"seed"`
	Solver             opt.Params `yaml:"solver" json:"solver"`
}

// TimeBudget is the wall-clock cutoff for a solve, zero meaning none.
func (e EngineConfig) TimeBudget() time.Duration {
	return time.Duration(e.TimeBudgetMs) * time.Millisecond
}

type WebhookConfig struct {
	URLs        []string `yaml:"urls"`
	Secret      string   `yaml:"secret"`
	MaxAttempts int      `yaml:"maxAttempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			Migrate:        true,
			MigrationsDir:  "db/migrations",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			MaxBodyBytes:   1 << 20,
		},
		Engine: EngineConfig{
			DefaultResolution:  9,
			DefaultAlgorithm:   string(opt.AlgorithmGreedy),
			DefaultCapacity:    1000,
			DefaultVolume:      10,
			DefaultVehicleType: "medium_truck",
			DefaultServiceMin:  5,
			AnalysisRadiusKm:   50,
			MaxAnalysisRing:    environment.DefaultMaxRing,
			AnalysisCacheTTLMs: 60000,
			Solver:             opt.DefaultParams(),
		},
		Webhooks: WebhookConfig{MaxAttempts: 10},
	}
}

// Load reads path (if non-empty) over Default, then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load with the path taken from ROUTEOPT_CONFIG.
func FromEnv() (Config, error) {
	return Load(os.Getenv("ROUTEOPT_CONFIG"))
}

func (c Config) Validate() error {
	var errs []error
	e := c.Engine
	if e.DefaultResolution < 0 || e.DefaultResolution > geo.MaxResolution {
		errs = append(errs, fmt.Errorf("engine.defaultResolution must be in 0..%d", geo.MaxResolution))
	}
	if _, err := opt.ParseAlgorithm(e.DefaultAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("engine.defaultAlgorithm: %w", err))
	}
	if e.AnalysisRadiusKm < 0 {
		errs = append(errs, errors.New("engine.analysisRadiusKm must be >= 0"))
	}
	if e.AnalysisCacheSize < 0 || e.AnalysisCacheTTLMs < 0 {
		errs = append(errs, errors.New("engine analysis cache settings must be >= 0"))
	}
	if e.TimeBudgetMs < 0 {
		errs = append(errs, errors.New("engine.timeBudgetMs must be >= 0"))
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server rate limit must be >= 0"))
	}
	return errors.Join(errs...)
}

func applyEnv(c *Config) error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.DatabaseURL = getEnv("DATABASE_URL", c.Server.DatabaseURL)
	c.Server.RedisURL = getEnv("REDIS_URL", c.Server.RedisURL)
	c.Server.SQLitePath = getEnv("SQLITE_PATH", c.Server.SQLitePath)
	c.Server.MigrationsDir = getEnv("DB_MIGRATIONS_DIR", c.Server.MigrationsDir)
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.Server.Migrate = v != "false" && v != "0"
	}
	c.Engine.DefaultAlgorithm = getEnv("OPTIMIZER_DEFAULT_ALGORITHM", c.Engine.DefaultAlgorithm)
	c.Engine.DefaultVehicleType = getEnv("OPTIMIZER_DEFAULT_VEHICLE_TYPE", c.Engine.DefaultVehicleType)
	if v := os.Getenv("WEBHOOK_URLS"); v != "" {
		c.Webhooks.URLs = splitList(v)
	}
	c.Webhooks.Secret = getEnv("WEBHOOK_SECRET", c.Webhooks.Secret)

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	parse("RATE_LIMIT_RPS", func(v string) (err error) { c.Server.RateLimitRPS, err = strconv.ParseFloat(v, 64); return })
	parse("RATE_LIMIT_BURST", func(v string) (err error) { c.Server.RateLimitBurst, err = strconv.Atoi(v); return })
	parse("OPTIMIZER_DEFAULT_RESOLUTION", func(v string) (err error) { c.Engine.DefaultResolution, err = strconv.Atoi(v); return })
	parse("OPTIMIZER_SEED", func(v string) (err error) { c.Engine.Seed, err = strconv.ParseInt(v, 10, 64); return })
	parse("OPTIMIZER_TIME_BUDGET_MS", func(v string) (err error) { c.Engine.TimeBudgetMs, err = strconv.Atoi(v); return })
	parse("ANALYSIS_RADIUS_KM", func(v string) (err error) { c.Engine.AnalysisRadiusKm, err = strconv.ParseFloat(v, 64); return })
	parse("ANALYSIS_CACHE_SIZE", func(v string) (err error) { c.Engine.AnalysisCacheSize, err = strconv.Atoi(v); return })
	parse("ANALYSIS_MAX_RING", func(v string) (err error) { c.Engine.MaxAnalysisRing, err = strconv.Atoi(v); return })
	parse("WEBHOOK_MAX_ATTEMPTS", func(v string) (err error) { c.Webhooks.MaxAttempts, err = strconv.Atoi(v); return })
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
