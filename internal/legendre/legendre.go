// Package legendre evaluates Schmidt semi-normalized associated Legendre
// functions P_n^m(cos θ) and their derivatives with respect to colatitude θ.
//
// Values exclude the Condon-Shortley phase. Both outputs share the flat
// index Index(n, m) = n(n+1)/2 + m for 0 <= m <= n <= maxDegree.
package legendre

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned for a negative degree, cos θ outside
// [-1, 1], sin θ outside [0, 1] or undersized output slices.
var ErrInvalidArgument = errors.New("legendre: invalid argument")

// Size returns the number of (n, m) terms for degrees 0..maxDegree.
func Size(maxDegree int) int {
	return (maxDegree + 1) * (maxDegree + 2) / 2
}

// Index maps degree n and order m to the flat array position.
func Index(n, m int) int {
	return n*(n+1)/2 + m
}

// Evaluate fills p with P_n^m(x) and dp with dP_n^m/dθ where x = cos θ,
// s = sin θ and θ is in [0, π]. Both slices must hold at least
// Size(maxDegree) values.
//
// s is taken separately: sqrt(1-x²) loses every digit of sin θ once x
// rounds to ±1, within about 1e-8 rad of a pole.
func Evaluate(maxDegree int, x, s float64, p, dp []float64) error {
	if maxDegree < 0 {
		return fmt.Errorf("%w: degree %d", ErrInvalidArgument, maxDegree)
	}
	if math.IsNaN(x) || x < -1 || x > 1 {
		return fmt.Errorf("%w: cos(colatitude) %g outside [-1, 1]", ErrInvalidArgument, x)
	}
	if math.IsNaN(s) || s < 0 || s > 1 {
		return fmt.Errorf("%w: sin(colatitude) %g outside [0, 1]", ErrInvalidArgument, s)
	}
	size := Size(maxDegree)
	if len(p) < size || len(dp) < size {
		return fmt.Errorf("%w: need %d values, have %d and %d", ErrInvalidArgument, size, len(p), len(dp))
	}

	p[0] = 1
	dp[0] = 0
	if maxDegree == 0 {
		return nil
	}

	// Sectoral terms P_n^n.
	p[Index(1, 1)] = s
	dp[Index(1, 1)] = x
	for n := 2; n <= maxDegree; n++ {
		k := math.Sqrt(float64(2*n-1) / float64(2*n))
		prev := Index(n-1, n-1)
		p[Index(n, n)] = k * s * p[prev]
		dp[Index(n, n)] = k * (x*p[prev] + s*dp[prev])
	}

	// Upward recurrence in degree for each order.
	for m := 0; m < maxDegree; m++ {
		mm := float64(m * m)
		for n := m + 1; n <= maxDegree; n++ {
			i1 := Index(n-1, m)
			a := float64(2*n - 1)
			d := math.Sqrt(float64(n*n) - mm)
			pv := a * x * p[i1]
			dv := a * (x*dp[i1] - s*p[i1])
			if n-2 >= m {
				i2 := Index(n-2, m)
				b := math.Sqrt(float64((n-1)*(n-1)) - mm)
				pv -= b * p[i2]
				dv -= b * dp[i2]
			}
			p[Index(n, m)] = pv / d
			dp[Index(n, m)] = dv / d
		}
	}
	return nil
}

// Compute allocates and returns P and dP/dθ for degrees 0..maxDegree, with
// sin θ derived from x.
func Compute(maxDegree int, x float64) (p, dp []float64, err error) {
	if maxDegree < 0 {
		return nil, nil, fmt.Errorf("%w: degree %d", ErrInvalidArgument, maxDegree)
	}
	size := Size(maxDegree)
	p = make([]float64, size)
	dp = make([]float64, size)
	s := math.Sqrt((1 - x) * (1 + x))
	if err := Evaluate(maxDegree, x, s, p, dp); err != nil {
		return nil, nil, err
	}
	return p, dp, nil
}
