package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/transform"
)

// ErrInvalidWindow is returned for an empty time window or a step shorter
// than one second.
var ErrInvalidWindow = errors.New("propagation: invalid time window")

// FieldModel evaluates core and crustal fields at radius (km), colatitude
// and longitude (radians).
type FieldModel interface {
	Components(r, theta, phi float64) (core, crust model.NEC, err error)
}

// Point is one ground-track position with the model field there.
type Point struct {
	Time      time.Time
	Latitude  float64 // geocentric, degrees
	Longitude float64 // degrees
	RadiusKm  float64
	Core      model.NEC
	Crust     model.NEC
}

// Tracker samples a satellite orbit at a fixed cadence.
type Tracker struct {
	prop   *SGP4Propagator
	field  FieldModel
	logger *slog.Logger
}

// NewTracker creates a Tracker. field may be nil, in which case only
// positions are produced.
func NewTracker(prop *SGP4Propagator, field FieldModel, logger *slog.Logger) *Tracker {
	return &Tracker{prop: prop, field: field, logger: logger}
}

// Track propagates from start to end inclusive every step. A point whose
// field evaluation fails numerically carries NaN components and a warning
// log; SGP4 failures abort the track. On cancellation the points so far
// are returned together with ctx.Err().
func (t *Tracker) Track(ctx context.Context, start, end time.Time, step time.Duration) ([]Point, error) {
	if step < time.Second || end.Before(start) {
		return nil, fmt.Errorf("%w: start %s end %s step %s", ErrInvalidWindow,
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), step)
	}

	numPoints := int(end.Sub(start)/step) + 1
	points := make([]Point, 0, numPoints)

	for i := 0; i < numPoints; i++ {
		select {
		case <-ctx.Done():
			return points, ctx.Err()
		default:
		}

		at := start.Add(time.Duration(i) * step)
		ecef, err := t.prop.PositionECEF(at)
		if err != nil {
			return points, fmt.Errorf("point %d at %s: %w", i, at.UTC().Format(time.RFC3339), err)
		}
		r, theta, phi := transform.CartesianToSpherical(ecef)

		pt := Point{
			Time:      at,
			Latitude:  90 - theta*180/math.Pi,
			Longitude: phi * 180 / math.Pi,
			RadiusKm:  r,
		}
		if t.field != nil {
			core, crust, err := t.field.Components(r, theta, phi)
			if err != nil {
				if model.Fatal(err) {
					return points, err
				}
				t.logger.Warn("field evaluation failed",
					"norad_id", t.prop.NORADID(),
					"time", at.UTC().Format(time.RFC3339),
					"error", err,
				)
				nan := math.NaN()
				core = model.NEC{N: nan, E: nan, C: nan}
				crust = core
			}
			pt.Core, pt.Crust = core, crust
		}
		points = append(points, pt)
	}

	t.logger.Debug("track complete",
		"norad_id", t.prop.NORADID(),
		"points", len(points),
	)
	return points, nil
}
