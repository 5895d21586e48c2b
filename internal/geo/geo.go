// Package geo provides the small amount of spherical geometry the pipeline
// needs. All functions are pure; coordinates are EPSG:4326 degrees.
package geo

import (
	"math"

	"github.com/akilada/openlews/internal/model"
)

// EarthRadiusM is the mean Earth radius used throughout the pipeline.
const EarthRadiusM = 6371000.0

// metres per degree of latitude (and of longitude at the equator)
const metresPerDegree = 111320.0

// HaversineM returns the great-circle distance between two points in metres.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// OffsetM shifts a point by the given metre offsets using the equirectangular
// approximation. Good enough at sensor-array scale (tens of metres).
func OffsetM(lat, lon, northM, eastM float64) (float64, float64) {
	dLat := northM / metresPerDegree
	dLon := eastM / (metresPerDegree * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}

// BBoxContains is an inclusive containment test.
func BBoxContains(b model.BBox, lat, lon float64) bool {
	return b.MinLat <= lat && lat <= b.MaxLat &&
		b.MinLon <= lon && lon <= b.MaxLon
}

// BBoxOf builds the bounding box of a polygon ring given as [lat, lon] pairs.
// Returns false for an empty ring.
func BBoxOf(ring [][2]float64) (model.BBox, bool) {
	if len(ring) == 0 {
		return model.BBox{}, false
	}
	box := model.BBox{
		MinLat: ring[0][0], MaxLat: ring[0][0],
		MinLon: ring[0][1], MaxLon: ring[0][1],
	}
	for _, pt := range ring[1:] {
		box.MinLat = math.Min(box.MinLat, pt[0])
		box.MaxLat = math.Max(box.MaxLat, pt[0])
		box.MinLon = math.Min(box.MinLon, pt[1])
		box.MaxLon = math.Max(box.MaxLon, pt[1])
	}
	return box, true
}
