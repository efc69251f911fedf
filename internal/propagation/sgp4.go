// Package propagation generates satellite ground tracks with SGP4 and
// samples the field model along them.
package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soypat/geometry/md3"

	"github.com/JohnathanBurchill/chaos/internal/tle"
	"github.com/JohnathanBurchill/chaos/internal/transform"
)

// Note: satellite.Propagate takes Satellite by value so SGP4 error codes
// are not visible to the caller. Propagation failures are detected by
// checking output for NaN/Inf and unreasonable position magnitudes.

// SGP4Propagator wraps the go-satellite library for a single satellite.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
	name    string
}

// NewSGP4Propagator creates an SGP4 propagator from a TLE entry.
// Returns an error if the TLE cannot be parsed or the SGP4 model fails to initialize.
//
// Pre-validates TLE format before passing to the library, because go-satellite
// calls log.Fatal on malformed input (which would kill the process).
func NewSGP4Propagator(entry tle.Entry) (*SGP4Propagator, error) {
	if err := validateTLELines(entry.Line1, entry.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", entry.NORADID, err)
	}

	sat := satellite.TLEToSat(entry.Line1, entry.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", entry.NORADID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: entry.NORADID, name: entry.Name}, nil
}

// validateTLELines performs basic format validation on TLE lines.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// NORADID returns the satellite catalog number.
func (p *SGP4Propagator) NORADID() int { return p.noradID }

// Name returns the satellite name from the TLE title line, if any.
func (p *SGP4Propagator) Name() string { return p.name }

// PositionTEME returns the TEME position in km at t. SGP4 runs at whole
// seconds; within a second the position is the cubic Hermite interpolant of
// the states at both ends.
func (p *SGP4Propagator) PositionTEME(t time.Time) (md3.Vec, error) {
	t = t.UTC()
	lo := t.Truncate(time.Second)
	pos0, vel0, err := p.state(lo)
	if err != nil {
		return md3.Vec{}, err
	}
	frac := t.Sub(lo).Seconds()
	if frac == 0 {
		return pos0, nil
	}
	pos1, vel1, err := p.state(lo.Add(time.Second))
	if err != nil {
		return md3.Vec{}, err
	}
	return hermite(pos0, vel0, pos1, vel1, frac), nil
}

// state returns position (km) and velocity (km/s) at a whole second.
func (p *SGP4Propagator) state(t time.Time) (pos, vel md3.Vec, err error) {
	r, v := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(r.X) || math.IsNaN(r.Y) || math.IsNaN(r.Z) ||
		math.IsInf(r.X, 0) || math.IsInf(r.Y, 0) || math.IsInf(r.Z, 0) {
		return md3.Vec{}, md3.Vec{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.noradID)
	}

	// Sanity check: position magnitude should be between ~6200km and ~50000km.
	pos = md3.Vec{X: r.X, Y: r.Y, Z: r.Z}
	if mag := md3.Norm(pos); mag < 6200.0 || mag > 50000.0 {
		return md3.Vec{}, md3.Vec{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}
	return pos, md3.Vec{X: v.X, Y: v.Y, Z: v.Z}, nil
}

// hermite interpolates over a one-second interval at fraction s in [0, 1).
func hermite(p0, v0, p1, v1 md3.Vec, s float64) md3.Vec {
	s2, s3 := s*s, s*s*s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2
	return md3.Add(
		md3.Add(md3.Scale(h00, p0), md3.Scale(h10, v0)),
		md3.Add(md3.Scale(h01, p1), md3.Scale(h11, v1)),
	)
}

// PositionECEF returns the Earth-fixed position in km at t.
func (p *SGP4Propagator) PositionECEF(t time.Time) (md3.Vec, error) {
	teme, err := p.PositionTEME(t)
	if err != nil {
		return md3.Vec{}, err
	}
	return transform.TEMEToECEF(teme, t), nil
}
