// Package geo holds the great-circle helpers used by availability search.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundingBox is a lat/lng rectangle. When WrapsLongitude is set the box
// touches a pole or the antimeridian and only the latitude bounds apply.
type BoundingBox struct {
	SouthWest      Point
	NorthEast      Point
	WrapsLongitude bool
}

func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	dlat := lat2Rad - lat1Rad
	dlng := toRadians(lng2 - lng1)

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Box returns a rectangle that contains every point within radiusKm of the center.
func Box(centerLat, centerLng, radiusKm float64) BoundingBox {
	angular := radiusKm / EarthRadiusKm
	dLat := toDegrees(angular)

	box := BoundingBox{
		SouthWest: Point{Lat: math.Max(centerLat-dLat, -90), Lng: -180},
		NorthEast: Point{Lat: math.Min(centerLat+dLat, 90), Lng: 180},
	}

	cosLat := math.Cos(toRadians(centerLat))
	if box.SouthWest.Lat <= -90 || box.NorthEast.Lat >= 90 || cosLat < 1e-9 {
		box.WrapsLongitude = true
		return box
	}

	dLng := toDegrees(angular / cosLat)
	minLng, maxLng := centerLng-dLng, centerLng+dLng
	if dLng >= 180 || minLng < -180 || maxLng > 180 {
		box.WrapsLongitude = true
		return box
	}
	box.SouthWest.Lng = minLng
	box.NorthEast.Lng = maxLng
	return box
}

func (b BoundingBox) Contains(p Point) bool {
	if p.Lat < b.SouthWest.Lat || p.Lat > b.NorthEast.Lat {
		return false
	}
	if b.WrapsLongitude {
		return true
	}
	return p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
