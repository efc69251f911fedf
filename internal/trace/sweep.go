package trace

import (
	"context"
	"fmt"
	"math"
)

// SweepRow is the trace from the sweep start up to one target altitude.
type SweepRow struct {
	TargetAltKm float64
	End         Position
	Steps       int
}

// maxSweepRows bounds the number of targets one sweep may request.
const maxSweepRows = 100000

// SweepTargets lists the target altitudes from fromKm to toKm inclusive in
// increments of stepKm.
func SweepTargets(fromKm, toKm, stepKm float64) ([]float64, error) {
	if !(stepKm > 0) || math.IsInf(stepKm, 0) || !(toKm >= fromKm) || math.IsInf(toKm, 0) {
		return nil, fmt.Errorf("%w: sweep %v to %v by %v", ErrInvalidOptions, fromKm, toKm, stepKm)
	}
	n := int(math.Floor((toKm-fromKm)/stepKm+1e-9)) + 1
	if n > maxSweepRows {
		return nil, fmt.Errorf("%w: sweep has %d targets, limit %d", ErrInvalidOptions, n, maxSweepRows)
	}
	targets := make([]float64, n)
	for i := range targets {
		targets[i] = fromKm + float64(i)*stepKm
	}
	return targets, nil
}

// Sweep traces from start to each target altitude in turn, using the
// target as the upper bound of the band and opts.MinAltKm as the lower.
// fn receives each row as soon as it is traced; a non-nil return stops the
// sweep with that error. A cancelled context stops it with ctx.Err().
func Sweep(ctx context.Context, field FieldSource, start Position, targets []float64, opts Options, fn func(SweepRow) error) error {
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		o := opts
		o.MaxAltKm = target
		o.RecordPath = false
		if !(o.MinAltKm < o.MaxAltKm) {
			// Degenerate band: the start stays where it is.
			if err := fn(SweepRow{TargetAltKm: target, End: start}); err != nil {
				return err
			}
			continue
		}
		res, err := Trace(ctx, field, start, o)
		if err != nil {
			return fmt.Errorf("target %v km: %w", target, err)
		}
		if !res.Complete {
			return ctx.Err()
		}
		if err := fn(SweepRow{TargetAltKm: target, End: res.End, Steps: res.Steps}); err != nil {
			return err
		}
	}
	return nil
}
