package model

import (
	"routeopt/internal/environment"
	"routeopt/internal/geo"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// TimeWindow bounds a delivery in HH:MM local time.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DeliveryIn is one delivery as submitted by a caller. H3Index, when set,
// overrides the cell derived from Coordinates.
type DeliveryIn struct {
	ID                  string         `json:"id"`
	Address             string         `json:"address"`
	Coordinates         geo.Coordinate `json:"coordinates"`
	H3Index             string         `json:"h3Index,omitempty"`
	Priority            Priority       `json:"priority,omitempty"`
	Weight              float64        `json:"weight,omitempty"`
	Volume              float64        `json:"volume,omitempty"`
	TimeWindow          *TimeWindow    `json:"timeWindow,omitempty"`
	ServiceTimeMin      int            `json:"serviceTimeMin,omitempty"`
	SpecialRequirements []string       `json:"specialRequirements,omitempty"`
}

// DeliveryPoint is a validated delivery bound to its cell.
type DeliveryPoint struct {
	ID                  string
	Address             string
	Coordinates         geo.Coordinate
	Cell                geo.Cell
	Priority            Priority
	Weight              float64
	Volume              float64
	TimeWindow          *TimeWindow
	ServiceTimeMin      int
	SpecialRequirements []string
}

type OptimizeRequest struct {
	DriverID       string         `json:"driverId"`
	DriverLocation geo.Coordinate `json:"driverLocation"`
	Deliveries     []DeliveryIn   `json:"deliveries"`
	// Resolution and H3Resolution are aliases; Resolution wins when both are set.
	Resolution      *int    `json:"resolution,omitempty"`
	H3Resolution    *int    `json:"h3Resolution,omitempty"`
	Algorithm       string  `json:"algorithm,omitempty"`
	VehicleCapacity float64 `json:"vehicleCapacity,omitempty"`
	VehicleVolume   float64 `json:"vehicleVolume,omitempty"`
	VehicleType     string  `json:"vehicleType,omitempty"`
	// IncludeAnalysis defaults to true.
	IncludeAnalysis  *bool   `json:"includeAnalysis,omitempty"`
	AnalysisRadiusKm float64 `json:"analysisRadiusKm,omitempty"`
	Seed             int64   `json:"seed,omitempty"`
	TimeBudgetMs     int     `json:"timeBudgetMs,omitempty"`
}

// EffectiveResolution returns the requested resolution or def.
func (r OptimizeRequest) EffectiveResolution(def int) int {
	if r.Resolution != nil {
		return *r.Resolution
	}
	if r.H3Resolution != nil {
		return *r.H3Resolution
	}
	return def
}

type RoutePoint struct {
	Order                int                          `json:"order"`
	DeliveryID           string                       `json:"deliveryId"`
	Address              string                       `json:"address"`
	Coordinates          geo.Coordinate               `json:"coordinates"`
	Cell                 geo.Cell                     `json:"h3Index"`
	DistanceFromPrevious float64                      `json:"distanceFromPrevious"`
	EstimatedTime        int                          `json:"estimatedTime"`
	CumulativeDistance   float64                      `json:"cumulativeDistance"`
	CumulativeTime       int                          `json:"cumulativeTime"`
	TrafficLevel         environment.TrafficLevel     `json:"trafficLevel,omitempty"`
	WeatherCondition     environment.WeatherCondition `json:"weatherCondition,omitempty"`
}

type SkippedDelivery struct {
	DeliveryID string `json:"deliveryId"`
	Reason     string `json:"reason"`
}

type RouteResult struct {
	DriverID            string                       `json:"driverId"`
	OptimizedRoute      []RoutePoint                 `json:"optimizedRoute"`
	TotalDistance       float64                      `json:"totalDistance"`
	TotalTime           int                          `json:"totalTime"`
	FuelEstimate        float64                      `json:"fuelEstimate"`
	Efficiency          float64                      `json:"efficiency"`
	Algorithm           string                       `json:"algorithm"`
	Resolution          int                          `json:"resolution"`
	TrafficAnalysis     *environment.TrafficAnalysis `json:"trafficAnalysis,omitempty"`
	WeatherAnalysis     *environment.WeatherAnalysis `json:"weatherAnalysis,omitempty"`
	SustainabilityScore *float64                     `json:"sustainabilityScore,omitempty"`
	SkippedDeliveries   []SkippedDelivery            `json:"skippedDeliveries,omitempty"`
	ProcessingTimeMs    int64                        `json:"processingTimeMs"`
	Message             string                       `json:"message"`
}

// AnalysisRequest is the query for a standalone area analysis.
type AnalysisRequest struct {
	Center     geo.Coordinate
	RadiusKm   float64
	Resolution int
}

// DriverLocation is the last known position of a driver.
type DriverLocation struct {
	DriverID    string         `json:"driverId"`
	Coordinates geo.Coordinate `json:"coordinates"`
	RecordedAt  string         `json:"recordedAt,omitempty"`
}

// Assignment statuses a delivery can be in for a driver.
const (
	AssignmentPending    = "pending"
	AssignmentAccepted   = "accepted"
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
	AssignmentRejected   = "rejected"
	AssignmentCancelled  = "cancelled"
)

// DriverOptimizeRequest optimizes the open assignments of a stored driver.
type DriverOptimizeRequest struct {
	Algorithm       string  `json:"algorithm,omitempty"`
	Resolution      *int    `json:"resolution,omitempty"`
	VehicleCapacity float64 `json:"vehicleCapacity,omitempty"`
	VehicleVolume   float64 `json:"vehicleVolume,omitempty"`
	VehicleType     string  `json:"vehicleType,omitempty"`
	IncludeAnalysis *bool   `json:"includeAnalysis,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
}
