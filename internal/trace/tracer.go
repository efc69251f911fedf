// Package trace follows magnetic field lines from a starting position until
// the altitude leaves a band or a step budget is exhausted.
package trace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/soypat/geometry/md3"

	"github.com/JohnathanBurchill/chaos/internal/metrics"
	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/transform"
)

var (
	// ErrIntegration reports that the stepper could not meet its accuracy
	// or bound constraints with a usable step size.
	ErrIntegration = errors.New("trace: integration failed")
	// ErrField reports a field evaluation failure along the trace.
	ErrField = errors.New("trace: field evaluation failed")
	// ErrInvalidOptions reports unusable tracing options.
	ErrInvalidOptions = errors.New("trace: invalid options")
)

const (
	boundTolerance = 1e-7 // km in radius
	initialStep    = 0.5  // s
	minDtMax       = 1e-12

	DefaultSpeed    = 10.0 // km/s
	DefaultAccuracy = 1e-2 // km
	DefaultMaxSteps = 10000
)

// FieldSource evaluates the total field at radius (km), colatitude and
// longitude (radians). *model.Model and *model.Snapshot satisfy it.
type FieldSource interface {
	Field(r, theta, phi float64) (model.NEC, error)
}

// Position is a geocentric location.
type Position struct {
	Latitude   float64 // degrees
	Longitude  float64 // degrees
	AltitudeKm float64 // above the 6371.2 km reference sphere
}

// Options controls a trace. Zero Speed, Accuracy and MaxSteps take the
// package defaults.
type Options struct {
	// Direction is +1 to follow B and -1 to follow -B.
	Direction  int
	Accuracy   float64
	Speed      float64
	MaxSteps   int
	MinAltKm   float64
	MaxAltKm   float64
	RecordPath bool
}

func (o Options) withDefaults() Options {
	if o.Speed == 0 {
		o.Speed = DefaultSpeed
	}
	if o.Accuracy == 0 {
		o.Accuracy = DefaultAccuracy
	}
	if o.MaxSteps == 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	return o
}

func (o Options) validate() error {
	switch {
	case o.Direction != 1 && o.Direction != -1:
		return fmt.Errorf("%w: direction %d, want 1 or -1", ErrInvalidOptions, o.Direction)
	case !(o.Speed > 0), !(o.Accuracy > 0), o.MaxSteps < 0:
		return fmt.Errorf("%w: speed %v accuracy %v max steps %d", ErrInvalidOptions, o.Speed, o.Accuracy, o.MaxSteps)
	case !(o.MinAltKm < o.MaxAltKm):
		return fmt.Errorf("%w: altitude band [%v, %v]", ErrInvalidOptions, o.MinAltKm, o.MaxAltKm)
	}
	return nil
}

// bandMarginKm lifts the upper bound above a downward start that sits on or
// above the configured maximum.
const bandMarginKm = 1.0

// Band returns opts with the altitude band set so that a trace from startKm
// stops on targetKm. Tracing up uses [min(MinAltKm, start), target]. Tracing
// down uses [target, MaxAltKm], with the upper bound raised to
// start+bandMarginKm when MaxAltKm does not lie strictly above the start.
func Band(opts Options, startKm, targetKm float64) (Options, error) {
	switch {
	case math.IsNaN(startKm) || math.IsNaN(targetKm):
		return opts, fmt.Errorf("%w: start %v km target %v km", ErrInvalidOptions, startKm, targetKm)
	case targetKm > startKm:
		opts.MaxAltKm = targetKm
		opts.MinAltKm = math.Min(opts.MinAltKm, startKm)
	case targetKm < startKm:
		opts.MinAltKm = targetKm
		if !(opts.MaxAltKm > startKm) {
			opts.MaxAltKm = startKm + bandMarginKm
		}
	default:
		return opts, fmt.Errorf("%w: target altitude %v km equals the start", ErrInvalidOptions, targetKm)
	}
	return opts, nil
}

// Result is the outcome of one trace. Complete is false when the context
// was cancelled before the trace finished; End is then the last accepted
// position.
type Result struct {
	End      Position
	Steps    int
	Rejected int
	Complete bool
	// Path holds the start and every accepted position when
	// Options.RecordPath is set.
	Path []Position
}

// Trace integrates dy/dt = speed·direction·B̂ from start in Earth-fixed
// Cartesian coordinates. A step that leaves [minAlt, maxAlt] by more than
// 1e-7 km is rejected and the step size halved, so the final position lies
// on the crossed bound. A start outside the band returns the start with
// zero steps.
func Trace(ctx context.Context, field FieldSource, start Position, opts Options) (*Result, error) {
	began := time.Now()
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	res, err := run(ctx, field, start, opts)
	outcome := "complete"
	switch {
	case err != nil:
		outcome = "failed"
		metrics.RecordTrace(time.Since(began), 0, 0, outcome)
		return nil, err
	case !res.Complete:
		outcome = "cancelled"
	}
	metrics.RecordTrace(time.Since(began), res.Steps, res.Rejected, outcome)
	return res, nil
}

func run(ctx context.Context, field FieldSource, start Position, opts Options) (*Result, error) {
	r := model.EarthRadiusKm + start.AltitudeKm
	theta := (90 - start.Latitude) * math.Pi / 180
	phi := start.Longitude * math.Pi / 180

	// Fail early if the field cannot be evaluated at the start.
	if _, err := field.Field(r, theta, phi); err != nil {
		return nil, fmt.Errorf("%w: at start: %w", ErrField, err)
	}

	rMin := model.EarthRadiusKm + opts.MinAltKm
	rMax := model.EarthRadiusKm + opts.MaxAltKm
	scale := opts.Speed * float64(opts.Direction)

	rhs := func(y md3.Vec) (md3.Vec, error) {
		rr, th, ph := transform.CartesianToSpherical(y)
		b, err := field.Field(rr, th, ph)
		if err != nil {
			return md3.Vec{}, fmt.Errorf("%w: %w", ErrField, err)
		}
		bxyz := transform.NECToCartesian(th, ph, b.N, b.E, b.C)
		mag := md3.Norm(bxyz)
		if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
			return md3.Vec{}, fmt.Errorf("%w: field magnitude %v at r=%.3f", ErrField, mag, rr)
		}
		return md3.Scale(scale/mag, bxyz), nil
	}

	y := transform.SphericalToCartesian(r, theta, phi)
	integ := newAdams(rhs, initialStep, opts.Accuracy)
	dtMax := initialStep

	res := &Result{Complete: true}
	if opts.RecordPath {
		res.Path = append(res.Path, start)
	}

	for res.Steps < opts.MaxSteps && r < rMax && r >= rMin {
		select {
		case <-ctx.Done():
			res.Complete = false
			res.End = toPosition(y)
			return res, nil
		default:
		}

		next, err := integ.advance(y, dtMax)
		if err != nil {
			return nil, err
		}
		rNext := md3.Norm(next)
		if rNext-rMax > boundTolerance || rNext-rMin < -boundTolerance {
			res.Rejected++
			integ.halve()
			dtMax /= 2
			if dtMax < minDtMax {
				return nil, fmt.Errorf("%w: step collapsed at r=%.6f", ErrIntegration, r)
			}
			continue
		}

		y, r = next, rNext
		res.Steps++
		if opts.RecordPath {
			res.Path = append(res.Path, toPosition(y))
		}
	}

	if res.Steps == 0 {
		// Report the start exactly rather than a round trip through Cartesian.
		res.End = start
	} else {
		res.End = toPosition(y)
	}
	return res, nil
}

func toPosition(y md3.Vec) Position {
	lat, lon, r := transform.CartesianToGeocentric(y)
	return Position{Latitude: lat, Longitude: lon, AltitudeKm: r - model.EarthRadiusKm}
}
