package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for every distance in the engine.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// CellDistance is the haversine distance between the centers of a and b.
func CellDistance(a, b Cell) (float64, error) {
	if a == b {
		if _, err := CoordOf(a); err != nil {
			return 0, err
		}
		return 0, nil
	}
	ca, err := CoordOf(a)
	if err != nil {
		return 0, err
	}
	cb, err := CoordOf(b)
	if err != nil {
		return 0, err
	}
	return Haversine(ca, cb), nil
}
