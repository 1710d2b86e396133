// Package geo holds the great-circle helpers used for ranking units and for
// heading display.
package geo

import (
	"math"

	"civic-dispatch-backend/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by every distance helper.
const EarthRadiusKm = 6371.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceKm returns the haversine distance between a and b in kilometers.
func DistanceKm(a, b models.Coordinate) float64 {
	lat1Rad := toRad(a.Latitude)
	lat2Rad := toRad(b.Latitude)
	deltaLat := toRad(b.Latitude - a.Latitude)
	deltaLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// DistanceMeters is DistanceKm scaled to meters.
func DistanceMeters(a, b models.Coordinate) float64 {
	return DistanceKm(a, b) * 1000
}

// BearingDegrees returns the initial compass bearing from -> to in [0, 360).
func BearingDegrees(from, to models.Coordinate) float64 {
	lat1 := toRad(from.Latitude)
	lat2 := toRad(to.Latitude)
	dLon := toRad(to.Longitude - from.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return Normalize(toDeg(math.Atan2(y, x)))
}

// Normalize folds any angle in degrees into [0, 360).
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Destination returns the point reached by travelling distanceKm from origin
// along the given initial bearing.
func Destination(origin models.Coordinate, bearingDeg, distanceKm float64) models.Coordinate {
	delta := distanceKm / EarthRadiusKm
	theta := toRad(bearingDeg)
	lat1 := toRad(origin.Latitude)
	lon1 := toRad(origin.Longitude)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	lon := math.Mod(toDeg(lon2)+540, 360) - 180
	return models.Coordinate{Latitude: toDeg(lat2), Longitude: lon}
}

// Lerp interpolates linearly in coordinate space; t=0 is a, t=1 is b.
func Lerp(a, b models.Coordinate, t float64) models.Coordinate {
	return models.Coordinate{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*t,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*t,
	}
}

// EstimateETAMinutes converts a straight-line distance into minutes at the
// given average speed, rounded to the nearest minute.
func EstimateETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}
