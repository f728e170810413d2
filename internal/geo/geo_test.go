package geo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trafficwatch/trafficwatch/internal/geo"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     geo.Point
		expected float64
		delta    float64
	}{
		{
			name:     "same point",
			a:        geo.Point{Lat: 10.77, Lon: 106.70},
			b:        geo.Point{Lat: 10.77, Lon: 106.70},
			expected: 0,
			delta:    0.001,
		},
		{
			name:     "one degree of latitude",
			a:        geo.Point{Lat: 10, Lon: 106},
			b:        geo.Point{Lat: 11, Lon: 106},
			expected: 111195,
			delta:    50,
		},
		{
			name:     "ten thousandth of a degree on both axes",
			a:        geo.Point{Lat: 10.0, Lon: 106.0},
			b:        geo.Point{Lat: 10.0001, Lon: 106.0001},
			expected: 15.6,
			delta:    0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, geo.Distance(tt.a, tt.b), tt.delta)
			assert.InDelta(t, geo.Distance(tt.a, tt.b), geo.Distance(tt.b, tt.a), 1e-9)
		})
	}
}

func TestBounds_ContainsIsClosed(t *testing.T) {
	b := geo.Bounds{MinLat: 10, MinLon: 106, MaxLat: 11, MaxLon: 107}

	assert.True(t, b.Contains(geo.Point{Lat: 10, Lon: 106}))
	assert.True(t, b.Contains(geo.Point{Lat: 11, Lon: 107}))
	assert.True(t, b.Contains(geo.Point{Lat: 10.5, Lon: 106.5}))
	assert.False(t, b.Contains(geo.Point{Lat: 9.9999, Lon: 106.5}))
	assert.False(t, b.Contains(geo.Point{Lat: 10.5, Lon: 107.0001}))
}

func TestBounds_Valid(t *testing.T) {
	assert.True(t, geo.Bounds{MinLat: 10, MinLon: 106, MaxLat: 11, MaxLon: 107}.Valid())
	assert.True(t, geo.Bounds{MinLat: 10, MinLon: 106, MaxLat: 10, MaxLon: 106}.Valid())
	assert.False(t, geo.Bounds{MinLat: 11, MinLon: 106, MaxLat: 10, MaxLon: 107}.Valid())
	assert.False(t, geo.Bounds{MinLat: -91, MinLon: 106, MaxLat: 10, MaxLon: 107}.Valid())
}

func TestPoint_Valid(t *testing.T) {
	assert.True(t, geo.Point{Lat: 10.77, Lon: 106.70}.Valid())
	assert.False(t, geo.Point{}.Valid())
	assert.False(t, geo.Point{Lat: math.NaN(), Lon: 106}.Valid())
	assert.False(t, geo.Point{Lat: 95, Lon: 106}.Valid())
	assert.False(t, geo.Point{Lat: 10, Lon: 181}.Valid())
}

func TestPoint_Key(t *testing.T) {
	assert.Equal(t, "10.0001:106.0001", geo.Point{Lat: 10.0001, Lon: 106.0001}.Key())
}
