package trace

import (
	"fmt"
	"math"

	"github.com/soypat/geometry/md3"
)

// Limits on the internal step before the integrator gives up.
const (
	minStep     = 1e-12
	maxSubsteps = 1 << 16
)

// rhsFunc is the autonomous right-hand side dy/dt = f(y).
type rhsFunc func(y md3.Vec) (md3.Vec, error)

// adams is a fourth-order Adams-Bashforth-Moulton predictor-corrector
// (PECE) with a classical Runge-Kutta start. The Milne estimate of the
// local error halves the internal step while it exceeds accuracy.
//
// An adams value holds history and must not be shared between traces.
type adams struct {
	f        rhsFunc
	h        float64
	accuracy float64

	// hist[0] is f at the current point, hist[k] is k steps back, all
	// spaced by spacing.
	hist    [4]md3.Vec
	n       int
	spacing float64
}

func newAdams(f rhsFunc, h, accuracy float64) *adams {
	return &adams{f: f, h: h, accuracy: accuracy}
}

// halve halves the internal step and discards history. The next steps
// restart with RK4.
func (a *adams) halve() {
	a.h /= 2
	a.n = 0
}

// advance integrates from y over dt and returns the new state. Internal
// steps are dt split into equal pieces no longer than h.
func (a *adams) advance(y md3.Vec, dt float64) (md3.Vec, error) {
	for {
		k := math.Ceil(dt/a.h - 1e-9)
		if k < 1 {
			k = 1
		}
		if k > maxSubsteps {
			return md3.Vec{}, fmt.Errorf("%w: %v substeps needed for dt %.3g", ErrIntegration, k, dt)
		}
		step := dt / k
		if a.n > 0 && math.Abs(step-a.spacing) > 1e-12*step {
			// Equal spacing is required by the multistep formulas.
			a.n = 0
		}

		out, ok, err := a.run(y, step, int(k))
		if err != nil {
			return md3.Vec{}, err
		}
		if ok {
			return out, nil
		}
		a.halve()
		if a.h < minStep {
			return md3.Vec{}, fmt.Errorf("%w: step %.3g below minimum", ErrIntegration, a.h)
		}
	}
}

// run takes k steps of size step. ok is false when the error estimate
// rejected a step; the caller must shrink h and retry from y.
func (a *adams) run(y md3.Vec, step float64, k int) (md3.Vec, bool, error) {
	for i := 0; i < k; i++ {
		if a.n == 0 {
			fy, err := a.f(y)
			if err != nil {
				return md3.Vec{}, false, err
			}
			a.push(fy)
		}

		var next md3.Vec
		if a.n < 4 {
			var err error
			next, err = a.rk4(y, step)
			if err != nil {
				return md3.Vec{}, false, err
			}
		} else {
			var errEst float64
			var err error
			next, errEst, err = a.pece(y, step)
			if err != nil {
				return md3.Vec{}, false, err
			}
			if !(errEst <= a.accuracy) {
				return md3.Vec{}, false, nil
			}
		}
		if !finite(next) {
			return md3.Vec{}, false, fmt.Errorf("%w: non-finite state", ErrIntegration)
		}

		fn, err := a.f(next)
		if err != nil {
			return md3.Vec{}, false, err
		}
		a.push(fn)
		a.spacing = step
		y = next
	}
	return y, true, nil
}

func finite(v md3.Vec) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

func (a *adams) push(fy md3.Vec) {
	a.hist[3], a.hist[2], a.hist[1] = a.hist[2], a.hist[1], a.hist[0]
	a.hist[0] = fy
	if a.n < 4 {
		a.n++
	}
}

func (a *adams) rk4(y md3.Vec, h float64) (md3.Vec, error) {
	k1 := a.hist[0]
	k2, err := a.f(md3.Add(y, md3.Scale(h/2, k1)))
	if err != nil {
		return md3.Vec{}, err
	}
	k3, err := a.f(md3.Add(y, md3.Scale(h/2, k2)))
	if err != nil {
		return md3.Vec{}, err
	}
	k4, err := a.f(md3.Add(y, md3.Scale(h, k3)))
	if err != nil {
		return md3.Vec{}, err
	}
	sum := md3.Add(md3.Add(k1, md3.Scale(2, k2)), md3.Add(md3.Scale(2, k3), k4))
	return md3.Add(y, md3.Scale(h/6, sum)), nil
}

// pece returns the corrected state and the Milne local error estimate.
func (a *adams) pece(y md3.Vec, h float64) (md3.Vec, float64, error) {
	f0, f1, f2, f3 := a.hist[0], a.hist[1], a.hist[2], a.hist[3]

	pred := md3.Add(y, md3.Scale(h/24, md3.Add(
		md3.Sub(md3.Scale(55, f0), md3.Scale(59, f1)),
		md3.Sub(md3.Scale(37, f2), md3.Scale(9, f3)),
	)))
	fp, err := a.f(pred)
	if err != nil {
		return md3.Vec{}, 0, err
	}
	corr := md3.Add(y, md3.Scale(h/24, md3.Add(
		md3.Add(md3.Scale(9, fp), md3.Scale(19, f0)),
		md3.Sub(f2, md3.Scale(5, f1)),
	)))
	return corr, 19.0 / 270.0 * md3.Norm(md3.Sub(corr, pred)), nil
}
