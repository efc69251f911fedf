package transform

import (
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soypat/geometry/md3"
)

// GMST returns Greenwich mean sidereal time in radians (IAU-82) for the
// whole-second UTC time t.
func GMST(t time.Time) float64 {
	t = t.UTC()
	return satellite.GSTimeFromDate(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// TEMEToECEF rotates a TEME position (km) into Earth-fixed axes (km) by GMST
// only. Polar motion and the equation of the equinoxes are ignored, which
// is a sub-100 m effect at LEO.
func TEMEToECEF(teme md3.Vec, t time.Time) md3.Vec {
	v := satellite.ECIToECEF(satellite.Vector3{X: teme.X, Y: teme.Y, Z: teme.Z}, GMST(t))
	return md3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}
