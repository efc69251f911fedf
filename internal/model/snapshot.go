// Package model evaluates the CHAOS geomagnetic field. Coefficient sets are
// reduced to immutable snapshots at a single epoch by the time interpolator,
// and the field at a geocentric position is obtained from the gradient of
// the scalar potential expanded in Schmidt semi-normalized harmonics.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/JohnathanBurchill/chaos/internal/legendre"
	"github.com/JohnathanBurchill/chaos/internal/shc"
)

// EarthRadiusKm is the reference radius a of the CHAOS expansion.
const EarthRadiusKm = 6371.2

var (
	ErrInterpolation      = errors.New("model: interpolation failed")
	ErrFractionalYear     = errors.New("model: invalid date")
	ErrLegendreEvaluation = errors.New("model: legendre evaluation failed")
	ErrInvalidPosition    = errors.New("model: invalid position")
)

// Fatal reports whether err invalidates a whole processing run rather than
// a single sample or pixel.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []error{
		shc.ErrDirectoryRead,
		shc.ErrFileRead,
		shc.ErrFileContents,
		shc.ErrNumberOfCoefficients,
		shc.ErrMissingFile,
		ErrInterpolation,
		ErrFractionalYear,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Snapshot holds Gauss coefficients at one epoch, indexed by
// legendre.Index(n, m). A Snapshot is never modified after construction and
// may be shared between goroutines.
type Snapshot struct {
	minDegree int
	maxDegree int
	epoch     float64
	g, h      []float64
}

// NewSnapshot copies g and h, which must follow the legendre.Index layout
// for degrees up to maxDegree.
func NewSnapshot(minDegree, maxDegree int, epoch float64, g, h []float64) (*Snapshot, error) {
	if minDegree < 1 || maxDegree < minDegree {
		return nil, fmt.Errorf("%w: degree range %d..%d", ErrInterpolation, minDegree, maxDegree)
	}
	size := legendre.Size(maxDegree)
	if len(g) < size || len(h) < size {
		return nil, fmt.Errorf("%w: need %d coefficients, have %d and %d", ErrInterpolation, size, len(g), len(h))
	}
	s := &Snapshot{
		minDegree: minDegree,
		maxDegree: maxDegree,
		epoch:     epoch,
		g:         make([]float64, size),
		h:         make([]float64, size),
	}
	copy(s.g, g)
	copy(s.h, h)
	return s, nil
}

// blend builds the snapshot g = g[i] + f*(g[j] - g[i]) from a set.
func blend(set *shc.Set, i, j int, f, epoch float64) *Snapshot {
	size := legendre.Size(set.MaxDegree)
	s := &Snapshot{
		minDegree: set.MinDegree,
		maxDegree: set.MaxDegree,
		epoch:     epoch,
		g:         make([]float64, size),
		h:         make([]float64, size),
	}
	for n := set.MinDegree; n <= set.MaxDegree; n++ {
		for m := 0; m <= n; m++ {
			k := legendre.Index(n, m)
			g0, g1 := set.G(n, m, i), set.G(n, m, j)
			h0, h1 := set.H(n, m, i), set.H(n, m, j)
			s.g[k] = g0 + f*(g1-g0)
			s.h[k] = h0 + f*(h1-h0)
		}
	}
	return s
}

func (s *Snapshot) MinDegree() int { return s.minDegree }
func (s *Snapshot) MaxDegree() int { return s.maxDegree }

// Epoch is the fractional year the coefficients were reduced to.
func (s *Snapshot) Epoch() float64 { return s.epoch }

func (s *Snapshot) G(n, m int) float64 { return s.g[legendre.Index(n, m)] }
func (s *Snapshot) H(n, m int) float64 { return s.h[legendre.Index(n, m)] }

// NEC is a magnetic field vector in nT: north, east and center (down).
type NEC struct {
	N, E, C float64
}

func (v NEC) Add(o NEC) NEC { return NEC{v.N + o.N, v.E + o.E, v.C + o.C} }
func (v NEC) Sub(o NEC) NEC { return NEC{v.N - o.N, v.E - o.E, v.C - o.C} }

// Lerp returns v + f*(o - v).
func (v NEC) Lerp(o NEC, f float64) NEC {
	return NEC{
		N: v.N + f*(o.N-v.N),
		E: v.E + f*(o.E-v.E),
		C: v.C + f*(o.C-v.C),
	}
}

// Magnitude is the total field intensity F.
func (v NEC) Magnitude() float64 {
	return math.Sqrt(v.N*v.N + v.E*v.E + v.C*v.C)
}
