package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusM = 6371000.0 // Mean Earth radius (m)
	DegToRad     = math.Pi / 180.0
	RadToDeg     = 180.0 / math.Pi
)

// Bearing returns the initial compass bearing in degrees [0,360) from point 1
// to point 2 along the great circle.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * DegToRad
	phi2 := lat2 * DegToRad
	dLambda := (lon2 - lon1) * DegToRad

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	deg := math.Atan2(y, x) * RadToDeg
	return normalizeDeg(deg)
}

// DistanceMeters returns the great-circle distance between two points using
// the haversine formula and the mean Earth radius.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * DegToRad
	phi2 := lat2 * DegToRad
	dPhi := (lat2 - lat1) * DegToRad
	dLambda := (lon2 - lon1) * DegToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// SmallestAngleBetween returns the minimal absolute angular difference between
// two compass angles, in degrees [0,180].
func SmallestAngleBetween(a, b float64) float64 {
	diff := math.Mod(math.Abs(a-b), 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// HeadwindComponent projects the wind vector onto the direction of travel.
// windFromDeg is the meteorological "blowing from" direction. The result is
// positive when the wind opposes travel (headwind) and negative for a
// tailwind: wind from dead ahead of the travel bearing gives +windSpeed.
func HeadwindComponent(travelBearing, windFromDeg, windSpeed float64) float64 {
	// angle 0 => wind source directly ahead => full headwind
	angle := SmallestAngleBetween(travelBearing, windFromDeg)
	return windSpeed * math.Cos(angle*DegToRad)
}

// MagneticDeclination returns the magnetic declination in degrees (+East,
// -West) for a position at the given elevation and time. Returns 0 if the
// WMM calculation fails.
func MagneticDeclination(lat, lon, elevM float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, elevM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0.0
	}

	return mag.D()
}

// MagneticBearing converts a true bearing to a magnetic bearing at the given
// position and time.
func MagneticBearing(trueBearing, lat, lon, elevM float64, date time.Time) float64 {
	return normalizeDeg(trueBearing - MagneticDeclination(lat, lon, elevM, date))
}

func normalizeDeg(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
