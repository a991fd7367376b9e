package api

import (
	"fmt"

	"routeopt/internal/geo"
	"routeopt/internal/model"
	"routeopt/internal/opt"
)

// maxDeliveries caps a single optimize request.
const maxDeliveries = 500

type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.Algorithm != "" {
		if _, err := opt.ParseAlgorithm(req.Algorithm); err != nil {
			return err
		}
	}
	for _, r := range []*int{req.Resolution, req.H3Resolution} {
		if r != nil && (*r < 0 || *r > geo.MaxResolution) {
			return fmt.Errorf("%w: %d", geo.ErrInvalidResolution, *r)
		}
	}
	if req.TimeBudgetMs < 0 {
		return invalid("timeBudgetMs must be >= 0")
	}
	if req.AnalysisRadiusKm < 0 {
		return invalid("analysisRadiusKm must be >= 0")
	}
	if req.VehicleCapacity < 0 || req.VehicleVolume < 0 {
		return invalid("vehicle capacity and volume must be >= 0")
	}
	if len(req.Deliveries) > maxDeliveries {
		return invalid("at most %d deliveries per request, got %d", maxDeliveries, len(req.Deliveries))
	}
	return validateDeliveries(req.Deliveries)
}

// validateDeliveries checks request shape only. Bad coordinates are left to
// the engine, which skips and reports them.
func validateDeliveries(ds []model.DeliveryIn) error {
	seen := make(map[string]struct{}, len(ds))
	for i, d := range ds {
		if d.ID == "" {
			return invalid("deliveries[%d].id is required", i)
		}
		if _, dup := seen[d.ID]; dup {
			return invalid("duplicate delivery id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
		switch d.Priority {
		case "", model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		default:
			return invalid("deliveries[%d].priority must be high, medium or low", i)
		}
		if d.Weight < 0 || d.Volume < 0 {
			return invalid("deliveries[%d] weight and volume must be >= 0", i)
		}
	}
	return nil
}

func validateDriverOptimize(req *model.DriverOptimizeRequest) error {
	if req.Algorithm != "" {
		if _, err := opt.ParseAlgorithm(req.Algorithm); err != nil {
			return err
		}
	}
	if req.Resolution != nil && (*req.Resolution < 0 || *req.Resolution > geo.MaxResolution) {
		return fmt.Errorf("%w: %d", geo.ErrInvalidResolution, *req.Resolution)
	}
	if req.VehicleCapacity < 0 || req.VehicleVolume < 0 {
		return invalid("vehicle capacity and volume must be >= 0")
	}
	return nil
}
