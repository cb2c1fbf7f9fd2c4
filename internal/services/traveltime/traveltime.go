// Package traveltime implements the travel-time oracle: given two
// coordinate pairs, estimate travel minutes between them. The oracle is
// a small capability interface so an external routing provider can
// substitute for the default great-circle estimator without touching
// the constraint checker or route optimizer.
package traveltime

import (
	"context"
	"math"
	"sync"
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Oracle estimates non-negative travel minutes between two points.
// Implementations must be deterministic for a given input within a
// single process lifetime and must treat equal points as zero minutes.
type Oracle interface {
	Estimate(ctx context.Context, from, to Coordinate) (int, error)
}

const earthRadiusKM = 6371.0

// GreatCircleOracle is the default implementation: haversine distance
// converted to minutes at an assumed average road speed, with a
// caller-supplied floor so distinct sites never price out as free.
type GreatCircleOracle struct {
	// AverageSpeedKMH is the assumed road speed used to convert
	// distance into time.
	AverageSpeedKMH float64
	// FloorMinutes is the minimum travel time returned for any two
	// distinct coordinates (avoids zero-travel optimism between sites
	// that happen to be very close together).
	FloorMinutes int

	mu    sync.Mutex
	cache map[coordPair]int
	// MaxCacheEntries bounds the process-local read-through cache.
	// Zero means unbounded.
	MaxCacheEntries int
}

type coordPair struct {
	fromLat, fromLng, toLat, toLng float64
}

// NewGreatCircleOracle builds the default oracle with sane fallbacks
// for unset speed/floor values.
func NewGreatCircleOracle(averageSpeedKMH float64, floorMinutes, maxCacheEntries int) *GreatCircleOracle {
	if averageSpeedKMH <= 0 {
		averageSpeedKMH = 40
	}
	if floorMinutes < 0 {
		floorMinutes = 0
	}
	return &GreatCircleOracle{
		AverageSpeedKMH: averageSpeedKMH,
		FloorMinutes:    floorMinutes,
		MaxCacheEntries: maxCacheEntries,
		cache:           make(map[coordPair]int),
	}
}

// Estimate returns the estimated travel minutes between from and to.
// The function is symmetric and returns 0 for equal points regardless
// of the configured floor; the triangle inequality is not guaranteed
// (and is not required by the contract).
func (o *GreatCircleOracle) Estimate(ctx context.Context, from, to Coordinate) (int, error) {
	if from.Latitude == to.Latitude && from.Longitude == to.Longitude {
		return 0, nil
	}

	key := symmetricKey(from, to)
	o.mu.Lock()
	if v, ok := o.cache[key]; ok {
		o.mu.Unlock()
		return v, nil
	}
	o.mu.Unlock()

	distanceKM := haversineKM(from, to)
	minutes := int(math.Ceil(distanceKM / o.AverageSpeedKMH * 60))
	if minutes < o.FloorMinutes {
		minutes = o.FloorMinutes
	}

	o.mu.Lock()
	if o.MaxCacheEntries <= 0 || len(o.cache) < o.MaxCacheEntries {
		o.cache[key] = minutes
	}
	o.mu.Unlock()

	return minutes, nil
}

// symmetricKey normalizes (from, to) so the cache treats A->B and B->A
// as the same entry, matching the oracle's symmetry contract.
func symmetricKey(a, b Coordinate) coordPair {
	if a.Latitude < b.Latitude || (a.Latitude == b.Latitude && a.Longitude <= b.Longitude) {
		return coordPair{a.Latitude, a.Longitude, b.Latitude, b.Longitude}
	}
	return coordPair{b.Latitude, b.Longitude, a.Latitude, a.Longitude}
}

func haversineKM(a, b Coordinate) float64 {
	lat1, lat2 := degToRad(a.Latitude), degToRad(b.Latitude)
	dLat := degToRad(b.Latitude - a.Latitude)
	dLng := degToRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}
