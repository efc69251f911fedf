// Package transform converts between the coordinate frames used by the
// field model and its callers: geocentric spherical, Earth-fixed Cartesian,
// WGS-84 geodetic, the local NEC field frame and topocentric look angles.
//
// Spherical positions use radius r, colatitude θ and east longitude φ.
// Geocentric latitude is 90° - θ.
package transform

import (
	"math"

	"github.com/soypat/geometry/md3"
)

const deg = math.Pi / 180

// SphericalToCartesian returns the Earth-fixed position for radius r,
// colatitude theta and longitude phi (radians). Units follow r.
func SphericalToCartesian(r, theta, phi float64) md3.Vec {
	st, ct := math.Sincos(theta)
	sp, cp := math.Sincos(phi)
	return md3.Vec{X: r * st * cp, Y: r * st * sp, Z: r * ct}
}

// CartesianToSpherical inverts SphericalToCartesian. Longitude is in (-π, π].
func CartesianToSpherical(v md3.Vec) (r, theta, phi float64) {
	r = md3.Norm(v)
	if r == 0 {
		return 0, 0, 0
	}
	return r, math.Acos(clamp(v.Z/r, -1, 1)), math.Atan2(v.Y, v.X)
}

// GeocentricToCartesian takes latitude and longitude in degrees.
func GeocentricToCartesian(latDeg, lonDeg, r float64) md3.Vec {
	return SphericalToCartesian(r, (90-latDeg)*deg, lonDeg*deg)
}

// CartesianToGeocentric returns latitude and longitude in degrees.
func CartesianToGeocentric(v md3.Vec) (latDeg, lonDeg, r float64) {
	r, theta, phi := CartesianToSpherical(v)
	return 90 - theta/deg, phi / deg, r
}

// NECBasis returns the unit north, east and center (down) vectors at
// colatitude theta and longitude phi, expressed in Earth-fixed axes.
func NECBasis(theta, phi float64) (north, east, center md3.Vec) {
	st, ct := math.Sincos(theta)
	sp, cp := math.Sincos(phi)
	north = md3.Vec{X: -ct * cp, Y: -ct * sp, Z: st}
	east = md3.Vec{X: -sp, Y: cp, Z: 0}
	center = md3.Vec{X: -st * cp, Y: -st * sp, Z: -ct}
	return north, east, center
}

// NECToCartesian rotates a north/east/center vector at (theta, phi) into
// Earth-fixed axes.
func NECToCartesian(theta, phi, n, e, c float64) md3.Vec {
	north, east, center := NECBasis(theta, phi)
	return md3.Add(md3.Add(md3.Scale(n, north), md3.Scale(e, east)), md3.Scale(c, center))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
