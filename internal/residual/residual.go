// Package residual subtracts the modelled core and crustal field from
// satellite magnetometer samples.
package residual

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/metrics"
	"github.com/JohnathanBurchill/chaos/internal/model"
)

// ErrInvalidSkip is returned for an interpolation skip below one.
var ErrInvalidSkip = errors.New("residual: interpolation skip must be at least 1")

// Sample is one magnetometer measurement at a geocentric position.
type Sample struct {
	Time      float64 // seconds, any monotonic epoch
	Latitude  float64 // geocentric, degrees
	Longitude float64 // degrees
	Radius    float64 // meters
	Measured  model.NEC
}

// Result holds per-sample outputs. Entries at or beyond Processed are not
// meaningful when Complete is false.
type Result struct {
	Core      []model.NEC
	Crust     []model.NEC
	Residual  []model.NEC
	Processed int
	Complete  bool
}

// FieldModel evaluates core and crustal fields at radius (km), colatitude
// and longitude (radians).
type FieldModel interface {
	Components(r, theta, phi float64) (core, crust model.NEC, err error)
}

// Calculator evaluates the model exactly every Skip samples and linearly
// interpolates the field in time for the samples in between.
type Calculator struct {
	Model FieldModel
	Skip  int
}

// Calculate computes core, crust and residual fields for samples. It stops
// at the next sample boundary when ctx is cancelled and returns the partial
// Result with Complete set to false and a nil error.
func (c *Calculator) Calculate(ctx context.Context, samples []Sample) (*Result, error) {
	if c.Skip < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSkip, c.Skip)
	}
	n := len(samples)
	res := &Result{
		Core:     make([]model.NEC, n),
		Crust:    make([]model.NEC, n),
		Residual: make([]model.NEC, n),
	}
	if n == 0 {
		res.Complete = true
		return res, nil
	}

	start := time.Now()
	var exact, interpolated int
	defer func() {
		metrics.RecordResiduals(time.Since(start), exact, interpolated, res.Complete)
	}()

	if err := c.evaluate(samples, res, 0); err != nil {
		return nil, err
	}
	exact++
	res.Processed = 1

	last := 0
	for t := c.Skip; t < n; t += c.Skip {
		if ctx.Err() != nil {
			return res, nil
		}
		if err := c.evaluate(samples, res, t); err != nil {
			return nil, err
		}
		exact++
		for i := last + 1; i < t; i++ {
			c.interpolate(samples, res, last, t, i)
			interpolated++
		}
		last = t
		res.Processed = t + 1
	}

	for t := last + 1; t < n; t++ {
		if ctx.Err() != nil {
			return res, nil
		}
		if err := c.evaluate(samples, res, t); err != nil {
			return nil, err
		}
		exact++
		res.Processed = t + 1
	}

	res.Complete = true
	return res, nil
}

func (c *Calculator) evaluate(samples []Sample, res *Result, i int) error {
	s := samples[i]
	theta := (90 - s.Latitude) * math.Pi / 180
	phi := s.Longitude * math.Pi / 180
	core, crust, err := c.Model.Components(s.Radius/1000, theta, phi)
	if err != nil {
		return fmt.Errorf("sample %d: %w", i, err)
	}
	res.Core[i] = core
	res.Crust[i] = crust
	res.Residual[i] = s.Measured.Sub(core).Sub(crust)
	return nil
}

// interpolate fills sample i from the exact evaluations at a and b.
func (c *Calculator) interpolate(samples []Sample, res *Result, a, b, i int) {
	dt := samples[b].Time - samples[a].Time
	if dt <= 0 {
		dt = 1
	}
	f := (samples[i].Time - samples[a].Time) / dt
	res.Core[i] = res.Core[a].Lerp(res.Core[b], f)
	res.Crust[i] = res.Crust[a].Lerp(res.Crust[b], f)
	res.Residual[i] = samples[i].Measured.Sub(res.Core[i]).Sub(res.Crust[i])
}
