package traveltime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
)

func TestGreatCircleOracle_EqualPointsAreZero(t *testing.T) {
	o := traveltime.NewGreatCircleOracle(40, 5, 0)
	p := traveltime.Coordinate{Latitude: 39.7392, Longitude: -104.9903}

	minutes, err := o.Estimate(context.Background(), p, p)
	require.NoError(t, err)
	assert.Equal(t, 0, minutes)
}

func TestGreatCircleOracle_Symmetric(t *testing.T) {
	o := traveltime.NewGreatCircleOracle(40, 5, 0)
	a := traveltime.Coordinate{Latitude: 39.7392, Longitude: -104.9903}
	b := traveltime.Coordinate{Latitude: 39.8, Longitude: -105.1}

	ab, err := o.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	ba, err := o.Estimate(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestGreatCircleOracle_FloorAppliesToNearbyDistinctPoints(t *testing.T) {
	o := traveltime.NewGreatCircleOracle(40, 5, 0)
	a := traveltime.Coordinate{Latitude: 39.7392, Longitude: -104.9903}
	// A few meters away: true drive time would round to 0 without a floor.
	b := traveltime.Coordinate{Latitude: 39.73921, Longitude: -104.99031}

	minutes, err := o.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, minutes, 5)
}

func TestGreatCircleOracle_NonNegative(t *testing.T) {
	o := traveltime.NewGreatCircleOracle(40, 0, 0)
	a := traveltime.Coordinate{Latitude: 0, Longitude: 0}
	b := traveltime.Coordinate{Latitude: 10, Longitude: 10}

	minutes, err := o.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, minutes, 0)
}

func TestGreatCircleOracle_CacheBound(t *testing.T) {
	o := traveltime.NewGreatCircleOracle(40, 5, 1)
	a := traveltime.Coordinate{Latitude: 0, Longitude: 0}
	b := traveltime.Coordinate{Latitude: 1, Longitude: 1}
	c := traveltime.Coordinate{Latitude: 2, Longitude: 2}

	_, err := o.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	_, err = o.Estimate(context.Background(), a, c)
	require.NoError(t, err)
	// The cache is bounded at 1 entry; the second distinct pair must
	// still resolve without error even though it cannot be cached.
}
