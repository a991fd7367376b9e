// Package planner orchestrates a route optimization: it validates the
// request, binds deliveries to H3 cells, runs the chosen solver and scores
// the resulting itinerary.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"routeopt/internal/config"
	"routeopt/internal/environment"
	"routeopt/internal/geo"
	"routeopt/internal/itinerary"
	"routeopt/internal/model"
	"routeopt/internal/obs"
	"routeopt/internal/opt"
)

var (
	ErrNoValidSpatialData = errors.New("no deliveries with valid spatial data")
	ErrInvalidLocation    = errors.New("invalid driver location")
)

const emptyMessage = "No deliveries to optimize"

// Engine is safe for concurrent use.
type Engine struct {
	cfg      config.EngineConfig
	env      environment.Model
	analyzer *environment.Analyzer
	cache    *areaCache
}

// New returns an Engine over env. A nil env means the synthetic model.
func New(cfg config.EngineConfig, env environment.Model) *Engine {
	if env == nil {
		env = environment.Synthetic{}
	}
	return &Engine{
		cfg:      cfg,
		env:      env,
		analyzer: environment.NewAnalyzer(env, cfg.MaxAnalysisRing),
		cache:    newAreaCache(cfg.AnalysisCacheSize, time.Duration(cfg.AnalysisCacheTTLMs)*time.Millisecond),
	}
}

// Config returns the engine settings.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// Label is the algorithm name reported on a result.
func Label(alg opt.Algorithm) string {
	return fmt.Sprintf("H3 %s Algorithm", strings.ToUpper(string(alg)))
}

// Optimize orders req.Deliveries starting from req.DriverLocation.
func (e *Engine) Optimize(ctx context.Context, req model.OptimizeRequest) (model.RouteResult, error) {
	res, _, err := e.OptimizeWithMetrics(ctx, req)
	return res, err
}

// OptimizeWithMetrics is Optimize plus the solver metrics of the run. The
// metrics are zero when there was nothing to solve.
func (e *Engine) OptimizeWithMetrics(ctx context.Context, req model.OptimizeRequest) (res model.RouteResult, sm opt.Metrics, err error) {
	defer obs.Time(ctx, "planner.optimize")(&err)
	started := time.Now()

	resolution := req.EffectiveResolution(e.cfg.DefaultResolution)
	if resolution < 0 || resolution > geo.MaxResolution {
		return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("%w: %d", geo.ErrInvalidResolution, resolution)
	}
	tag := req.Algorithm
	if tag == "" {
		tag = e.cfg.DefaultAlgorithm
	}
	alg, err := opt.ParseAlgorithm(tag)
	if err != nil {
		return model.RouteResult{}, opt.Metrics{}, err
	}

	if len(req.Deliveries) == 0 {
		score := 100.0
		return model.RouteResult{
			DriverID:            req.DriverID,
			OptimizedRoute:      []model.RoutePoint{},
			Efficiency:          100,
			Algorithm:           Label(alg),
			Resolution:          resolution,
			SustainabilityScore: &score,
			ProcessingTimeMs:    time.Since(started).Milliseconds(),
			Message:             emptyMessage,
		}, opt.Metrics{}, nil
	}

	if !req.DriverLocation.Valid() {
		return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("%w: %+v", ErrInvalidLocation, req.DriverLocation)
	}
	startCell, err := geo.CellOf(req.DriverLocation, resolution)
	if err != nil {
		return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	stops, skipped := e.bind(req.Deliveries, resolution)
	if len(stops) == 0 {
		return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("%w: %d deliveries rejected", ErrNoValidSpatialData, len(skipped))
	}

	strategy, err := opt.StrategyFor(alg, e.cfg.Solver)
	if err != nil {
		return model.RouteResult{}, opt.Metrics{}, err
	}
	cells := make([]geo.Cell, 0, len(stops)+1)
	cells = append(cells, startCell)
	for _, s := range stops {
		cells = append(cells, s.Cell)
	}
	m, err := opt.BuildMatrix(len(cells), func(i, j int) (float64, error) {
		return geo.CellDistance(cells[i], cells[j])
	})
	if err != nil {
		return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("distance matrix: %w", err)
	}

	solveCtx, cancel := e.budget(ctx, req.TimeBudgetMs)
	defer cancel()
	seed := req.Seed
	if seed == 0 {
		seed = e.cfg.Seed
	}
	solveStart := time.Now()
	tour := strategy.Solve(solveCtx, m, opt.NewRand(seed))
	solveDur := time.Since(solveStart)

	it, err := itinerary.Builder{Model: e.env, AttachConditions: true}.Build(startCell, stops, tour.Order)
	if err != nil {
		return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("build itinerary: %w", err)
	}

	capacity := req.VehicleCapacity
	if capacity <= 0 {
		capacity = e.cfg.DefaultCapacity
	}
	vehicleType := req.VehicleType
	if vehicleType == "" {
		vehicleType = e.cfg.DefaultVehicleType
	}
	sustainability := itinerary.Sustainability(it.TotalDistance, it.Conditions, vehicleType)

	res = model.RouteResult{
		DriverID:            req.DriverID,
		OptimizedRoute:      it.Points,
		TotalDistance:       it.TotalDistance,
		TotalTime:           it.TotalTime,
		FuelEstimate:        itinerary.FuelEstimate(it.TotalDistance, capacity),
		Efficiency:          itinerary.Efficiency(it.TotalDistance, len(stops), resolution),
		Algorithm:           Label(alg),
		Resolution:          resolution,
		SustainabilityScore: &sustainability,
		SkippedDeliveries:   skipped,
	}

	if req.IncludeAnalysis == nil || *req.IncludeAnalysis {
		radius := req.AnalysisRadiusKm
		if radius <= 0 {
			radius = e.cfg.AnalysisRadiusKm
		}
		traffic, err := e.traffic(req.DriverLocation, radius, resolution)
		if err != nil {
			return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("traffic analysis: %w", err)
		}
		weather, err := e.weather(req.DriverLocation, radius, resolution)
		if err != nil {
			return model.RouteResult{}, opt.Metrics{}, fmt.Errorf("weather analysis: %w", err)
		}
		res.TrafficAnalysis = &traffic
		res.WeatherAnalysis = &weather
	}

	sm = opt.Metrics{
		Algorithm:   alg,
		Points:      len(stops),
		Iterations:  tour.Iterations,
		RawDistance: itinerary.Round2(it.RawDistance),
		DurationMs:  solveDur.Milliseconds(),
		SolvedAt:    time.Now().UTC(),
	}

	res.ProcessingTimeMs = time.Since(started).Milliseconds()
	res.Message = fmt.Sprintf("H3 route optimized in %dms", res.ProcessingTimeMs)
	return res, sm, nil
}

// bind validates deliveries and assigns each its cell. A supplied h3Index
// takes precedence over the coordinates.
func (e *Engine) bind(in []model.DeliveryIn, resolution int) ([]model.DeliveryPoint, []model.SkippedDelivery) {
	stops := make([]model.DeliveryPoint, 0, len(in))
	var skipped []model.SkippedDelivery
	skip := func(d model.DeliveryIn, reason string) {
		log.Printf("planner: skipping delivery id=%s reason=%q", d.ID, reason)
		skipped = append(skipped, model.SkippedDelivery{DeliveryID: d.ID, Reason: reason})
	}
	for _, d := range in {
		var (
			cell  geo.Cell
			coord = d.Coordinates
			err   error
		)
		if d.H3Index != "" {
			cell, err = geo.ParseCell(d.H3Index)
			if err != nil {
				skip(d, err.Error())
				continue
			}
			if !coord.Valid() || (coord == geo.Coordinate{}) {
				if coord, err = geo.CoordOf(cell); err != nil {
					skip(d, err.Error())
					continue
				}
			}
		} else {
			cell, err = geo.CellOf(coord, resolution)
			if err != nil {
				skip(d, err.Error())
				continue
			}
		}
		stops = append(stops, e.point(d, coord, cell))
	}
	return stops, skipped
}

func (e *Engine) point(d model.DeliveryIn, coord geo.Coordinate, cell geo.Cell) model.DeliveryPoint {
	p := model.DeliveryPoint{
		ID:                  d.ID,
		Address:             d.Address,
		Coordinates:         coord,
		Cell:                cell,
		Priority:            d.Priority,
		Weight:              d.Weight,
		Volume:              d.Volume,
		TimeWindow:          d.TimeWindow,
		ServiceTimeMin:      d.ServiceTimeMin,
		SpecialRequirements: d.SpecialRequirements,
	}
	if p.Priority == "" {
		p.Priority = model.PriorityMedium
	}
	if p.ServiceTimeMin <= 0 {
		p.ServiceTimeMin = e.cfg.DefaultServiceMin
	}
	return p
}

func (e *Engine) budget(ctx context.Context, requestMs int) (context.Context, context.CancelFunc) {
	d := e.cfg.TimeBudget()
	if requestMs > 0 {
		d = time.Duration(requestMs) * time.Millisecond
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (e *Engine) analysisDefaults(req model.AnalysisRequest) (model.AnalysisRequest, error) {
	if !req.Center.Valid() {
		return req, fmt.Errorf("%w: %+v", ErrInvalidLocation, req.Center)
	}
	if req.Resolution < 0 || req.Resolution > geo.MaxResolution {
		return req, fmt.Errorf("%w: %d", geo.ErrInvalidResolution, req.Resolution)
	}
	if req.RadiusKm <= 0 {
		req.RadiusKm = e.cfg.AnalysisRadiusKm
	}
	return req, nil
}

// AnalyzeTraffic samples traffic around req.Center.
func (e *Engine) AnalyzeTraffic(ctx context.Context, req model.AnalysisRequest) (out environment.TrafficAnalysis, err error) {
	defer obs.Time(ctx, "planner.analyze_traffic")(&err)
	if req, err = e.analysisDefaults(req); err != nil {
		return out, err
	}
	return e.traffic(req.Center, req.RadiusKm, req.Resolution)
}

// AnalyzeWeather samples weather around req.Center.
func (e *Engine) AnalyzeWeather(ctx context.Context, req model.AnalysisRequest) (out environment.WeatherAnalysis, err error) {
	defer obs.Time(ctx, "planner.analyze_weather")(&err)
	if req, err = e.analysisDefaults(req); err != nil {
		return out, err
	}
	return e.weather(req.Center, req.RadiusKm, req.Resolution)
}
