// Package itinerary turns a visiting order into per-leg distances and times
// and scores the resulting route.
package itinerary

import (
	"fmt"
	"math"

	"routeopt/internal/environment"
	"routeopt/internal/geo"
	"routeopt/internal/model"
)

const (
	BaseSpeedKmh      = 50.0
	BaseFuelRateKmL   = 8.0
	minLoadEfficiency = 0.1
)

// Itinerary is a built route before scoring.
type Itinerary struct {
	Points        []model.RoutePoint
	Conditions    []environment.Conditions
	TotalDistance float64
	TotalTime     int
	// RawDistance is the unadjusted haversine length of the path.
	RawDistance float64
}

// Builder walks an order over a start cell and its stops.
type Builder struct {
	Model environment.Model
	// AttachConditions copies each stop's traffic and weather onto its point.
	AttachConditions bool
}

// Build walks order, where index 0 is start and index i is stops[i-1].
func (b Builder) Build(start geo.Cell, stops []model.DeliveryPoint, order []int) (Itinerary, error) {
	env := b.Model
	if env == nil {
		env = environment.Synthetic{}
	}
	if len(order) > 0 && order[0] != 0 {
		return Itinerary{}, fmt.Errorf("order must start at 0, got %d", order[0])
	}
	it := Itinerary{Points: make([]model.RoutePoint, 0, len(stops)), Conditions: make([]environment.Conditions, 0, len(stops))}
	prev := start
	cumDist := 0.0
	cumTime := 0
	for pos := 1; pos < len(order); pos++ {
		idx := order[pos]
		if idx < 1 || idx > len(stops) {
			return Itinerary{}, fmt.Errorf("order index %d out of range", idx)
		}
		stop := stops[idx-1]
		raw, err := geo.CellDistance(prev, stop.Cell)
		if err != nil {
			return Itinerary{}, fmt.Errorf("leg to %s: %w", stop.ID, err)
		}
		cond := env.Sample(stop.Cell)
		adjusted := raw * cond.LegFactor()
		minutes := int(math.Round(adjusted * 60 / BaseSpeedKmh))
		leg := Round2(adjusted)
		cumDist = Round2(cumDist + leg)
		cumTime += minutes

		p := model.RoutePoint{
			Order:                pos,
			DeliveryID:           stop.ID,
			Address:              stop.Address,
			Coordinates:          stop.Coordinates,
			Cell:                 stop.Cell,
			DistanceFromPrevious: leg,
			EstimatedTime:        minutes,
			CumulativeDistance:   cumDist,
			CumulativeTime:       cumTime,
		}
		if b.AttachConditions {
			p.TrafficLevel = cond.Traffic
			p.WeatherCondition = cond.Weather
		}
		it.Points = append(it.Points, p)
		it.Conditions = append(it.Conditions, cond)
		it.RawDistance += raw
		prev = stop.Cell
	}
	it.TotalDistance = cumDist
	it.TotalTime = cumTime
	return it, nil
}

// FuelEstimate is litres for distanceKm with the given payload capacity.
func FuelEstimate(distanceKm, capacity float64) float64 {
	load := 1.0 - (capacity/1000)*0.2
	if load < minLoadEfficiency {
		load = minLoadEfficiency
	}
	return Round2(distanceKm / (BaseFuelRateKmL * load))
}

// Efficiency scores distance per delivery, rewarding coarser resolutions.
func Efficiency(distanceKm float64, deliveries, resolution int) float64 {
	if deliveries <= 0 {
		return 100
	}
	score := 100 - (distanceKm/float64(deliveries))*2 + float64(10-resolution)*2
	return Round1(clamp(score))
}

// VehicleBonus is the sustainability credit for a vehicle type.
func VehicleBonus(vehicleType string) float64 {
	switch vehicleType {
	case "electric":
		return 20
	case "hybrid":
		return 10
	default:
		return 0
	}
}

// Sustainability scores a route from its length and the conditions at each stop.
func Sustainability(distanceKm float64, conds []environment.Conditions, vehicleType string) float64 {
	deductions := distanceKm * 0.5
	for _, c := range conds {
		deductions += c.Traffic.Penalty() + c.Weather.Penalty()
	}
	return Round1(clamp(100 - deductions + VehicleBonus(vehicleType)))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }

func Round1(v float64) float64 { return math.Round(v*10) / 10 }
