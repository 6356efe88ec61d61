package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/ride-allocation/internal/models"
)

// Metric scores how far apart two coordinates are. Implementations must be
// symmetric, non-negative and zero only for equal coordinates.
type Metric interface {
	Distance(a, b models.Coord) float64
}

// MetricFunc adapts a plain function to Metric.
type MetricFunc func(a, b models.Coord) float64

func (f MetricFunc) Distance(a, b models.Coord) float64 { return f(a, b) }

// Euclidean is the straight-line distance on raw degree deltas. Not
// geodesic; good enough for ranking nearby drivers.
var Euclidean Metric = MetricFunc(func(a, b models.Coord) float64 {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	return math.Sqrt(dLat*dLat + dLon*dLon)
})

// HaversineMetric ranks by great-circle distance in meters.
var HaversineMetric Metric = MetricFunc(func(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
})

// MetricByName resolves DISTANCE_METRIC values.
func MetricByName(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euclidean":
		return Euclidean, nil
	case "haversine":
		return HaversineMetric, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
