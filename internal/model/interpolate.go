package model

import (
	"fmt"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/shc"
)

// daysPerYear is the fixed year length of the fractional-year convention.
// Leap years are not treated specially.
const daysPerYear = 365.25

// Branch records how the core snapshot was derived.
type Branch int

const (
	// BranchCore interpolates between two core epochs.
	BranchCore Branch = iota
	// BranchHeld copies one core epoch: the date is on an epoch or before the first.
	BranchHeld
	// BranchExtrapolated uses the two-epoch extrapolation set.
	BranchExtrapolated
)

func (b Branch) String() string {
	switch b {
	case BranchCore:
		return "core"
	case BranchHeld:
		return "held"
	case BranchExtrapolated:
		return "extrapolated"
	default:
		return fmt.Sprintf("branch(%d)", int(b))
	}
}

// FractionalYear returns year + dayOfYear/365.25 with 1 January as day 1.
func FractionalYear(year, month, day int) (float64, error) {
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("%w: month %d", ErrFractionalYear, month)
	}
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > last {
		return 0, fmt.Errorf("%w: day %d of %04d-%02d", ErrFractionalYear, day, year, month)
	}
	yday := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).YearDay()
	return float64(year) + float64(yday)/daysPerYear, nil
}

// FractionalYearOf applies FractionalYear to the UTC calendar date of t.
func FractionalYearOf(t time.Time) float64 {
	t = t.UTC()
	fy, _ := FractionalYear(t.Year(), int(t.Month()), t.Day())
	return fy
}

// Interpolate reduces the coefficients to the given calendar date.
func Interpolate(c *shc.Coefficients, year, month, day int) (*Model, error) {
	fy, err := FractionalYear(year, month, day)
	if err != nil {
		return nil, err
	}
	return InterpolateAt(c, fy)
}

// InterpolateAt reduces the coefficients to a fractional year. The core is
// interpolated linearly between bracketing epochs, held constant before the
// first epoch, and extrapolated from the two-epoch extrapolation set at or
// after the last core epoch. The crust is copied from its single epoch.
func InterpolateAt(c *shc.Coefficients, fractionalYear float64) (*Model, error) {
	if c == nil || c.Core == nil || c.Extrapolation == nil || c.Crust == nil {
		return nil, fmt.Errorf("%w: coefficients not initialized", ErrInterpolation)
	}

	core, branch, err := interpolateCore(c.Core, c.Extrapolation, fractionalYear)
	if err != nil {
		return nil, err
	}

	if c.Crust.Epochs() != 1 {
		return nil, fmt.Errorf("%w: crust has %d epochs, want 1", ErrInterpolation, c.Crust.Epochs())
	}
	crust := blend(c.Crust, 0, 0, 0, c.Crust.FirstEpoch())

	return &Model{
		Core:           core,
		Crust:          crust,
		FractionalYear: fractionalYear,
		Branch:         branch,
		Fingerprint:    c.Fingerprint(),
	}, nil
}

func interpolateCore(core, ext *shc.Set, fy float64) (*Snapshot, Branch, error) {
	if core.Epochs() < 1 {
		return nil, 0, fmt.Errorf("%w: core has no epochs", ErrInterpolation)
	}

	if fy >= core.LastEpoch() {
		if ext.Epochs() != 2 {
			return nil, 0, fmt.Errorf("%w: extrapolation set has %d epochs, want 2", ErrInterpolation, ext.Epochs())
		}
		t0, t1 := ext.Times[0], ext.Times[1]
		f := (fy - t0) / (t1 - t0)
		return blend(ext, 0, 1, f, fy), BranchExtrapolated, nil
	}

	i := -1
	for k := core.Epochs() - 1; k >= 0; k-- {
		if core.Times[k] <= fy {
			i = k
			break
		}
	}
	switch {
	case i < 0:
		return blend(core, 0, 0, 0, fy), BranchHeld, nil
	case core.Times[i] == fy || i == core.Epochs()-1:
		return blend(core, i, i, 0, fy), BranchHeld, nil
	}

	t0, t1 := core.Times[i], core.Times[i+1]
	f := (fy - t0) / (t1 - t0)
	return blend(core, i, i+1, f, fy), BranchCore, nil
}
