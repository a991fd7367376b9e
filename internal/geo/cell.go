// Package geo wraps the H3 hexagonal index and the great-circle distance
// helpers used by the route engine.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/uber/h3-go/v4"
)

// MaxResolution is the finest H3 resolution.
const MaxResolution = 15

var (
	ErrInvalidResolution = errors.New("invalid resolution")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidCell       = errors.New("invalid cell")
	ErrUnsupportedUnit   = errors.New("unsupported unit")
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is finite and inside the lat/lng ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) || math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Cell is an H3 cell. The zero value is not a valid cell.
type Cell struct {
	idx h3.Cell
}

func (c Cell) String() string {
	if c.idx == 0 {
		return ""
	}
	return c.idx.String()
}

// Resolution returns the resolution the cell was created at.
func (c Cell) Resolution() int { return c.idx.Resolution() }

// IsZero reports whether c holds no index.
func (c Cell) IsZero() bool { return c.idx == 0 }

func (c Cell) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Cell) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = Cell{}
		return nil
	}
	parsed, err := ParseCell(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CellOf returns the cell containing coord at the given resolution.
func CellOf(coord Coordinate, resolution int) (Cell, error) {
	if resolution < 0 || resolution > MaxResolution {
		return Cell{}, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}
	if !coord.Valid() {
		return Cell{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, coord.Latitude, coord.Longitude)
	}
	idx := h3.LatLngToCell(h3.NewLatLng(coord.Latitude, coord.Longitude), resolution)
	if !idx.IsValid() {
		return Cell{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, coord.Latitude, coord.Longitude)
	}
	return Cell{idx: idx}, nil
}

// ParseCell parses a hexadecimal H3 identifier such as "891ec9a1b2bffff".
func ParseCell(id string) (Cell, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
	if s == "" {
		return Cell{}, fmt.Errorf("%w: empty identifier", ErrInvalidCell)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrInvalidCell, id)
	}
	idx := h3.Cell(v)
	if !idx.IsValid() {
		return Cell{}, fmt.Errorf("%w: %q", ErrInvalidCell, id)
	}
	return Cell{idx: idx}, nil
}

// CoordOf returns the center of the cell.
func CoordOf(c Cell) (Coordinate, error) {
	if !c.idx.IsValid() {
		return Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidCell, c.String())
	}
	ll := h3.CellToLatLng(c.idx)
	return Coordinate{Latitude: ll.Lat, Longitude: ll.Lng}, nil
}

// NeighborsWithin returns every cell within ringRadius grid steps of center,
// center included.
func NeighborsWithin(center Cell, ringRadius int) ([]Cell, error) {
	if !center.idx.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCell, center.String())
	}
	if ringRadius < 0 {
		ringRadius = 0
	}
	disk := h3.GridDisk(center.idx, ringRadius)
	out := make([]Cell, 0, len(disk))
	for _, idx := range disk {
		if idx == 0 {
			continue
		}
		out = append(out, Cell{idx: idx})
	}
	return out, nil
}

// EdgeLength returns the average hexagon edge length at resolution in "km" or "m".
func EdgeLength(resolution int, unit string) (float64, error) {
	if resolution < 0 || resolution > MaxResolution {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}
	switch unit {
	case "km":
		return h3.HexagonEdgeLengthAvgKm(resolution), nil
	case "m":
		return h3.HexagonEdgeLengthAvgM(resolution), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedUnit, unit)
	}
}
