package planner

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"routeopt/internal/geo"
	"routeopt/internal/itinerary"
	"routeopt/internal/model"
	"routeopt/internal/obs"
	"routeopt/internal/opt"
)

// BasicAlgorithm labels results of OptimizeBasic.
const BasicAlgorithm = "Greedy TSP + Haversine"

// OptimizeBasic orders deliveries by nearest neighbour over raw haversine
// distances. It ignores the grid, the environment and the algorithm field.
func (e *Engine) OptimizeBasic(ctx context.Context, req model.OptimizeRequest) (res model.RouteResult, err error) {
	defer obs.Time(ctx, "planner.optimize_basic")(&err)
	started := time.Now()

	if len(req.Deliveries) == 0 {
		return model.RouteResult{
			DriverID:         req.DriverID,
			OptimizedRoute:   []model.RoutePoint{},
			Efficiency:       100,
			Algorithm:        BasicAlgorithm,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
			Message:          emptyMessage,
		}, nil
	}
	if !req.DriverLocation.Valid() {
		return model.RouteResult{}, fmt.Errorf("%w: %+v", ErrInvalidLocation, req.DriverLocation)
	}

	stops := make([]model.DeliveryIn, 0, len(req.Deliveries))
	var skipped []model.SkippedDelivery
	for _, d := range req.Deliveries {
		if !d.Coordinates.Valid() {
			log.Printf("planner: skipping delivery id=%s reason=%q", d.ID, "invalid coordinates")
			skipped = append(skipped, model.SkippedDelivery{DeliveryID: d.ID, Reason: "invalid coordinates"})
			continue
		}
		stops = append(stops, d)
	}
	if len(stops) == 0 {
		return model.RouteResult{}, fmt.Errorf("%w: %d deliveries rejected", ErrNoValidSpatialData, len(skipped))
	}

	coords := make([]geo.Coordinate, 0, len(stops)+1)
	coords = append(coords, req.DriverLocation)
	for _, s := range stops {
		coords = append(coords, s.Coordinates)
	}
	m, err := opt.BuildMatrix(len(coords), func(i, j int) (float64, error) {
		return geo.Haversine(coords[i], coords[j]), nil
	})
	if err != nil {
		return model.RouteResult{}, err
	}
	tour := opt.Greedy{}.Solve(ctx, m, nil)

	points := make([]model.RoutePoint, 0, len(stops))
	total, cumTime := 0.0, 0
	for pos := 1; pos < len(tour.Order); pos++ {
		raw := m.At(tour.Order[pos-1], tour.Order[pos])
		d := stops[tour.Order[pos]-1]
		minutes := int(math.Round(raw * 60 / itinerary.BaseSpeedKmh))
		leg := itinerary.Round2(raw)
		total = itinerary.Round2(total + leg)
		cumTime += minutes
		points = append(points, model.RoutePoint{
			Order:                pos,
			DeliveryID:           d.ID,
			Address:              d.Address,
			Coordinates:          d.Coordinates,
			DistanceFromPrevious: leg,
			EstimatedTime:        minutes,
			CumulativeDistance:   total,
			CumulativeTime:       cumTime,
		})
	}

	res = model.RouteResult{
		DriverID:          req.DriverID,
		OptimizedRoute:    points,
		TotalDistance:     total,
		TotalTime:         cumTime,
		FuelEstimate:      itinerary.Round2(total / itinerary.BaseFuelRateKmL),
		Efficiency:        itinerary.Round1(math.Max(0, 100-total/float64(len(stops))*2)),
		Algorithm:         BasicAlgorithm,
		SkippedDeliveries: skipped,
	}
	res.ProcessingTimeMs = time.Since(started).Milliseconds()
	res.Message = fmt.Sprintf("Route optimized in %dms", res.ProcessingTimeMs)
	return res, nil
}
