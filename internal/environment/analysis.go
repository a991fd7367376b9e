package environment

import (
	"fmt"
	"math"

	"routeopt/internal/geo"
)

// DefaultMaxRing bounds the grid disk enumerated for an area analysis.
// Resolution 9 with a 50 km radius would otherwise cover ~250k cells.
const DefaultMaxRing = 30

type TrafficHotspot struct {
	Cell            geo.Cell       `json:"h3Index"`
	TrafficLevel    TrafficLevel   `json:"trafficLevel"`
	CongestionScore float64        `json:"congestionScore"`
	Coordinates     geo.Coordinate `json:"coordinates"`
}

type CongestionSummary struct {
	Light     int `json:"light"`
	Moderate  int `json:"moderate"`
	Heavy     int `json:"heavy"`
	Congested int `json:"congested"`
}

// Coverage reports the area an analysis actually examined. RadiusKm is the
// grid-disk radius in kilometres and is smaller than RequestedRadiusKm when
// the ring was capped.
type Coverage struct {
	RequestedRadiusKm float64 `json:"requestedRadiusKm"`
	RadiusKm          float64 `json:"radiusKm"`
	Ring              int     `json:"ringRadius"`
	Clamped           bool    `json:"clamped"`
}

type TrafficAnalysis struct {
	CenterCell        geo.Cell          `json:"centerH3"`
	CellsAnalyzed     int               `json:"cellsAnalyzed"`
	Coverage          Coverage          `json:"coverage"`
	Hotspots          []TrafficHotspot  `json:"trafficHotspots"`
	CongestionSummary CongestionSummary `json:"congestionSummary"`
}

type WeatherZone struct {
	Cell             geo.Cell         `json:"h3Index"`
	WeatherCondition WeatherCondition `json:"weatherCondition"`
	Temperature      int              `json:"temperature"`
	Humidity         int              `json:"humidity"`
	Coordinates      geo.Coordinate   `json:"coordinates"`
}

type WeatherAlert struct {
	Type          WeatherCondition `json:"type"`
	Severity      string           `json:"severity"`
	Description   string           `json:"description"`
	AffectedCells []geo.Cell       `json:"affectedH3Cells"`
}

type WeatherSummary struct {
	Clear  int `json:"clear"`
	Cloudy int `json:"cloudy"`
	Rain   int `json:"rain"`
	Snow   int `json:"snow"`
	Fog    int `json:"fog"`
}

type WeatherAnalysis struct {
	CenterCell     geo.Cell       `json:"centerH3"`
	CellsAnalyzed  int            `json:"cellsAnalyzed"`
	Coverage       Coverage       `json:"coverage"`
	Zones          []WeatherZone  `json:"weatherZones"`
	Alerts         []WeatherAlert `json:"weatherAlerts"`
	WeatherSummary WeatherSummary `json:"weatherSummary"`
}

// Analyzer runs area analyses around a center point.
type Analyzer struct {
	Model   Model
	MaxRing int
}

// NewAnalyzer returns an Analyzer over m. A nil model means Synthetic.
func NewAnalyzer(m Model, maxRing int) *Analyzer {
	if m == nil {
		m = Synthetic{}
	}
	if maxRing <= 0 {
		maxRing = DefaultMaxRing
	}
	return &Analyzer{Model: m, MaxRing: maxRing}
}

// Ring converts a radius in kilometres to a grid-disk radius at resolution.
func (a *Analyzer) Ring(radiusKm float64, resolution int) (int, error) {
	cov, err := a.Coverage(radiusKm, resolution)
	return cov.Ring, err
}

// Coverage computes the grid disk used for radiusKm at resolution, capped
// at MaxRing.
func (a *Analyzer) Coverage(radiusKm float64, resolution int) (Coverage, error) {
	edge, err := geo.EdgeLength(resolution, "km")
	if err != nil {
		return Coverage{}, err
	}
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		return Coverage{}, nil
	}
	cov := Coverage{RequestedRadiusKm: radiusKm, Ring: int(math.Ceil(radiusKm / edge))}
	if limit := a.maxRing(); cov.Ring > limit {
		cov.Ring = limit
		cov.Clamped = true
	}
	cov.RadiusKm = math.Round(float64(cov.Ring)*edge*100) / 100
	return cov, nil
}

func (a *Analyzer) maxRing() int {
	if a.MaxRing <= 0 {
		return DefaultMaxRing
	}
	return a.MaxRing
}

func (a *Analyzer) model() Model {
	if a.Model == nil {
		return Synthetic{}
	}
	return a.Model
}

func (a *Analyzer) area(center geo.Coordinate, radiusKm float64, resolution int) (geo.Cell, Coverage, []geo.Cell, error) {
	c, err := geo.CellOf(center, resolution)
	if err != nil {
		return geo.Cell{}, Coverage{}, nil, fmt.Errorf("analysis center: %w", err)
	}
	cov, err := a.Coverage(radiusKm, resolution)
	if err != nil {
		return geo.Cell{}, Coverage{}, nil, err
	}
	cells, err := geo.NeighborsWithin(c, cov.Ring)
	if err != nil {
		return geo.Cell{}, Coverage{}, nil, err
	}
	return c, cov, cells, nil
}

// AnalyzeTraffic samples traffic for every cell within radiusKm of center.
func (a *Analyzer) AnalyzeTraffic(center geo.Coordinate, radiusKm float64, resolution int) (TrafficAnalysis, error) {
	c, cov, cells, err := a.area(center, radiusKm, resolution)
	if err != nil {
		return TrafficAnalysis{}, err
	}
	m := a.model()
	out := TrafficAnalysis{CenterCell: c, CellsAnalyzed: len(cells), Coverage: cov, Hotspots: make([]TrafficHotspot, 0, len(cells))}
	for _, cell := range cells {
		coord, err := geo.CoordOf(cell)
		if err != nil {
			return TrafficAnalysis{}, err
		}
		cond := m.Sample(cell)
		out.Hotspots = append(out.Hotspots, TrafficHotspot{
			Cell:            cell,
			TrafficLevel:    cond.Traffic,
			CongestionScore: cond.CongestionScore,
			Coordinates:     coord,
		})
		switch cond.Traffic {
		case TrafficLight:
			out.CongestionSummary.Light++
		case TrafficModerate:
			out.CongestionSummary.Moderate++
		case TrafficHeavy:
			out.CongestionSummary.Heavy++
		case TrafficCongested:
			out.CongestionSummary.Congested++
		}
	}
	return out, nil
}

var alertSeverity = []struct {
	cond     WeatherCondition
	severity string
}{
	{WeatherSnow, "high"},
	{WeatherFog, "medium"},
	{WeatherRain, "low"},
}

// AnalyzeWeather samples weather for every cell within radiusKm of center and
// raises one alert per adverse condition found.
func (a *Analyzer) AnalyzeWeather(center geo.Coordinate, radiusKm float64, resolution int) (WeatherAnalysis, error) {
	c, cov, cells, err := a.area(center, radiusKm, resolution)
	if err != nil {
		return WeatherAnalysis{}, err
	}
	m := a.model()
	out := WeatherAnalysis{CenterCell: c, CellsAnalyzed: len(cells), Coverage: cov, Zones: make([]WeatherZone, 0, len(cells)), Alerts: []WeatherAlert{}}
	affected := map[WeatherCondition][]geo.Cell{}
	for _, cell := range cells {
		coord, err := geo.CoordOf(cell)
		if err != nil {
			return WeatherAnalysis{}, err
		}
		cond := m.Sample(cell)
		out.Zones = append(out.Zones, WeatherZone{
			Cell:             cell,
			WeatherCondition: cond.Weather,
			Temperature:      cond.Temperature,
			Humidity:         cond.Humidity,
			Coordinates:      coord,
		})
		switch cond.Weather {
		case WeatherClear:
			out.WeatherSummary.Clear++
		case WeatherCloudy:
			out.WeatherSummary.Cloudy++
		case WeatherRain:
			out.WeatherSummary.Rain++
			affected[WeatherRain] = append(affected[WeatherRain], cell)
		case WeatherSnow:
			out.WeatherSummary.Snow++
			affected[WeatherSnow] = append(affected[WeatherSnow], cell)
		case WeatherFog:
			out.WeatherSummary.Fog++
			affected[WeatherFog] = append(affected[WeatherFog], cell)
		}
	}
	for _, s := range alertSeverity {
		hit := affected[s.cond]
		if len(hit) == 0 {
			continue
		}
		out.Alerts = append(out.Alerts, WeatherAlert{
			Type:          s.cond,
			Severity:      s.severity,
			Description:   fmt.Sprintf("%s reported in %d of %d cells", s.cond, len(hit), len(cells)),
			AffectedCells: hit,
		})
	}
	return out, nil
}
