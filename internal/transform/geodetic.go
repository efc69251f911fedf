package transform

import (
	"errors"
	"math"

	"github.com/soypat/geometry/md3"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// ErrBelowHorizon is returned when a look direction never reaches the
// requested altitude.
var ErrBelowHorizon = errors.New("transform: look direction at or below horizon")

// GeodeticPoint holds a geodetic position (latitude/longitude in degrees, altitude in meters).
type GeodeticPoint struct {
	LatDeg, LonDeg, AltM float64
}

// Site is a ground location in geodetic and Earth-fixed form. The
// Earth-fixed position is precomputed once so it can be reused across
// many look directions.
type Site struct {
	GeodeticPoint
	ECEF md3.Vec // meters
}

// NewSite creates a Site from geodetic coordinates.
// Latitude and longitude are in degrees, altitude in meters above the WGS-84 ellipsoid.
func NewSite(latDeg, lonDeg, altM float64) Site {
	return Site{
		GeodeticPoint: GeodeticPoint{LatDeg: latDeg, LonDeg: lonDeg, AltM: altM},
		ECEF:          GeodeticToECEF(latDeg, lonDeg, altM),
	}
}

// GeodeticToECEF converts geodetic coordinates to Earth-fixed meters.
func GeodeticToECEF(latDeg, lonDeg, altM float64) md3.Vec {
	sinLat, cosLat := math.Sincos(latDeg * deg)
	sinLon, cosLon := math.Sincos(lonDeg * deg)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return md3.Vec{
		X: (N + altM) * cosLat * cosLon,
		Y: (N + altM) * cosLat * sinLon,
		Z: (N*(1-wgs84E2) + altM) * sinLat,
	}
}

// GeodeticToGeocentric returns the geocentric latitude (degrees), longitude
// (degrees) and radius (meters) of a geodetic position.
func GeodeticToGeocentric(latDeg, lonDeg, altM float64) (geoLatDeg, geoLonDeg, radiusM float64) {
	return CartesianToGeocentric(GeodeticToECEF(latDeg, lonDeg, altM))
}

// ECEFToGeodetic converts ECEF coordinates (meters) to geodetic coordinates
// using the iterative Bowring method. Converges in 2-3 iterations for Earth orbits.
func ECEFToGeodetic(v md3.Vec) GeodeticPoint {
	lon := math.Atan2(v.Y, v.X)
	p := math.Hypot(v.X, v.Y)

	// Initial estimate using Bowring's method.
	lat := math.Atan2(v.Z, p*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(v.Z+wgs84E2*N*sinLat, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(v.Z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat / deg,
		LonDeg: lon / deg,
		AltM:   alt,
	}
}

// ElAzToENU returns the unit east/north/up look vector for an elevation
// and azimuth (degrees, azimuth clockwise from north).
func ElAzToENU(elevationDeg, azimuthDeg float64) md3.Vec {
	se, ce := math.Sincos(elevationDeg * deg)
	sa, ca := math.Sincos(azimuthDeg * deg)
	return md3.Vec{X: sa * ce, Y: ca * ce, Z: se}
}

// enuBasis returns the geodetic east, north and up unit vectors at the site.
func (s Site) enuBasis() (east, north, up md3.Vec) {
	sinLat, cosLat := math.Sincos(s.LatDeg * deg)
	sinLon, cosLon := math.Sincos(s.LonDeg * deg)
	east = md3.Vec{X: -sinLon, Y: cosLon, Z: 0}
	north = md3.Vec{X: -sinLat * cosLon, Y: -sinLat * sinLon, Z: cosLat}
	up = md3.Vec{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat}
	return east, north, up
}

// LookDirectionToPosition follows a ray from the site along the ENU look
// direction until it reaches the given geodetic altitude, returning the
// Earth-fixed point in meters. The distance is found by bisection to
// within 1 m of altitude.
func (s Site) LookDirectionToPosition(lookENU md3.Vec, targetAltM float64) (md3.Vec, error) {
	if lookENU.Z <= 0 || targetAltM <= s.AltM {
		return md3.Vec{}, ErrBelowHorizon
	}
	east, north, up := s.enuBasis()
	dir := md3.Add(md3.Add(md3.Scale(lookENU.X, east), md3.Scale(lookENU.Y, north)), md3.Scale(lookENU.Z, up))
	dir = md3.Scale(1/md3.Norm(dir), dir)

	at := func(d float64) md3.Vec { return md3.Add(s.ECEF, md3.Scale(d, dir)) }

	// Bracket the crossing: altitude grows monotonically along an upward ray
	// for the distances of interest.
	lo, hi := 0.0, targetAltM-s.AltM
	for ECEFToGeodetic(at(hi)).AltM < targetAltM {
		lo = hi
		hi *= 2
		if hi > 1e9 {
			return md3.Vec{}, ErrBelowHorizon
		}
	}
	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		alt := ECEFToGeodetic(at(mid)).AltM
		if math.Abs(alt-targetAltM) < 1 {
			return at(mid), nil
		}
		if alt < targetAltM {
			lo = mid
		} else {
			hi = mid
		}
	}
	return at(0.5 * (lo + hi)), nil
}

// LookAngles holds azimuth, elevation, and range from a site to a target.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// LookAnglesTo computes azimuth, elevation and range from the site to an
// Earth-fixed target in meters, using the SEZ (South-East-Zenith)
// topocentric rotation per Vallado Section 4.4.
func (s Site) LookAnglesTo(target md3.Vec) LookAngles {
	rng := md3.Sub(target, s.ECEF)

	sinLat, cosLat := math.Sincos(s.LatDeg * deg)
	sinLon, cosLon := math.Sincos(s.LonDeg * deg)

	south := sinLat*cosLon*rng.X + sinLat*sinLon*rng.Y - cosLat*rng.Z
	east := -sinLon*rng.X + cosLon*rng.Y
	zenith := cosLat*cosLon*rng.X + cosLat*sinLon*rng.Y + sinLat*rng.Z

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)

	el := math.Asin(zenith / rangeMag)

	// In SEZ, North = -South direction, so az = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az / deg,
		ElevationDeg: el / deg,
		RangeKm:      rangeMag / 1000.0,
	}
}
