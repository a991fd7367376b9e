// Package environment derives traffic and weather conditions for H3 cells.
//
// The Synthetic model is a pure function of the cell identifier, so repeated
// runs over the same cells always see the same conditions. A live feed can
// replace it by implementing Model.
package environment

import "routeopt/internal/geo"

type TrafficLevel string

const (
	TrafficLight     TrafficLevel = "light"
	TrafficModerate  TrafficLevel = "moderate"
	TrafficHeavy     TrafficLevel = "heavy"
	TrafficCongested TrafficLevel = "congested"
)

// Factor is the multiplier applied to a leg ending in a cell at this level.
func (l TrafficLevel) Factor() float64 {
	switch l {
	case TrafficModerate:
		return 1.2
	case TrafficHeavy:
		return 1.5
	case TrafficCongested:
		return 2.0
	default:
		return 1.0
	}
}

// Penalty is the sustainability deduction for a stop at this level.
func (l TrafficLevel) Penalty() float64 {
	switch l {
	case TrafficModerate:
		return 2
	case TrafficHeavy:
		return 5
	case TrafficCongested:
		return 10
	default:
		return 0
	}
}

type WeatherCondition string

const (
	WeatherClear  WeatherCondition = "clear"
	WeatherCloudy WeatherCondition = "cloudy"
	WeatherRain   WeatherCondition = "rain"
	WeatherSnow   WeatherCondition = "snow"
	WeatherFog    WeatherCondition = "fog"
)

func (w WeatherCondition) Factor() float64 {
	switch w {
	case WeatherCloudy:
		return 1.1
	case WeatherRain:
		return 1.3
	case WeatherSnow:
		return 1.8
	case WeatherFog:
		return 1.4
	default:
		return 1.0
	}
}

func (w WeatherCondition) Penalty() float64 {
	switch w {
	case WeatherCloudy:
		return 1
	case WeatherRain:
		return 3
	case WeatherSnow:
		return 8
	case WeatherFog:
		return 5
	default:
		return 0
	}
}

// Conditions is everything the model knows about one cell.
type Conditions struct {
	Traffic         TrafficLevel
	Weather         WeatherCondition
	CongestionScore float64
	Temperature     int
	Humidity        int
}

// LegFactor is the combined traffic and weather multiplier.
func (c Conditions) LegFactor() float64 {
	return c.Traffic.Factor() * c.Weather.Factor()
}

// Model samples per-cell conditions.
type Model interface {
	Sample(cell geo.Cell) Conditions
}

// Synthetic derives conditions from a hash of the cell identifier.
type Synthetic struct{}

func (Synthetic) Sample(cell geo.Cell) Conditions {
	h := Hash(cell.String())
	bucket := h % 100
	return Conditions{
		Traffic:         trafficForBucket(bucket),
		Weather:         weatherForBucket(bucket),
		CongestionScore: float64(bucket) / 100,
		// 15 + h%30 - 15, so 0..29
		Temperature: int(15 + h%30 - 15),
		Humidity:    int(40 + h%40),
	}
}

func trafficForBucket(b int64) TrafficLevel {
	switch {
	case b < 60:
		return TrafficLight
	case b < 80:
		return TrafficModerate
	case b < 95:
		return TrafficHeavy
	default:
		return TrafficCongested
	}
}

func weatherForBucket(b int64) WeatherCondition {
	switch {
	case b < 70:
		return WeatherClear
	case b < 85:
		return WeatherCloudy
	case b < 95:
		return WeatherRain
	case b < 98:
		return WeatherSnow
	default:
		return WeatherFog
	}
}

// Hash is the 32-bit string hash h = h*31 + c with wraparound, returned as a
// non-negative value.
func Hash(id string) int64 {
	var h int32
	for i := 0; i < len(id); i++ {
		h = (h << 5) - h + int32(id[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}
