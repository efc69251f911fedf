package legendre

import (
	"errors"
	"math"
	"testing"
)

func TestEvaluateClosedForms(t *testing.T) {
	closed := []struct {
		n, m int
		f    func(x, s float64) float64
	}{
		{0, 0, func(x, s float64) float64 { return 1 }},
		{1, 0, func(x, s float64) float64 { return x }},
		{1, 1, func(x, s float64) float64 { return s }},
		{2, 0, func(x, s float64) float64 { return (3*x*x - 1) / 2 }},
		{2, 1, func(x, s float64) float64 { return math.Sqrt(3) * x * s }},
		{2, 2, func(x, s float64) float64 { return math.Sqrt(3) / 2 * s * s }},
		{3, 0, func(x, s float64) float64 { return (5*x*x*x - 3*x) / 2 }},
		{3, 1, func(x, s float64) float64 { return math.Sqrt(3.0/8.0) * s * (5*x*x - 1) }},
		{3, 2, func(x, s float64) float64 { return math.Sqrt(15) / 2 * x * s * s }},
		{3, 3, func(x, s float64) float64 { return math.Sqrt(5.0/8.0) * s * s * s }},
	}

	for _, theta := range []float64{0, 0.1, 0.7, math.Pi / 2, 2.3, math.Pi} {
		x := math.Cos(theta)
		s := math.Sin(theta)
		p, _, err := Compute(3, x)
		if err != nil {
			t.Fatalf("Compute(3, %g) error: %v", x, err)
		}
		for _, c := range closed {
			got := p[Index(c.n, c.m)]
			want := c.f(x, s)
			if math.Abs(got-want) > 1e-13 {
				t.Errorf("theta=%g P(%d,%d) = %.15g, want %.15g", theta, c.n, c.m, got, want)
			}
		}
	}
}

func TestEvaluateDerivativeMatchesFiniteDifference(t *testing.T) {
	const (
		maxDegree = 30
		h         = 1e-6
	)
	for _, theta := range []float64{0.05, 0.4, 1.2, math.Pi / 2, 2.9} {
		_, dp, err := Compute(maxDegree, math.Cos(theta))
		if err != nil {
			t.Fatalf("Compute error: %v", err)
		}
		plus, _, _ := Compute(maxDegree, math.Cos(theta+h))
		minus, _, _ := Compute(maxDegree, math.Cos(theta-h))
		for n := 0; n <= maxDegree; n++ {
			for m := 0; m <= n; m++ {
				i := Index(n, m)
				fd := (plus[i] - minus[i]) / (2 * h)
				if math.Abs(dp[i]-fd) > 1e-6*math.Max(1, float64(n)) {
					t.Errorf("theta=%g dP(%d,%d) = %g, finite difference %g", theta, n, m, dp[i], fd)
				}
			}
		}
	}
}

// Schmidt semi-normalized functions satisfy sum_m P_n^m(x)^2 = 1.
func TestEvaluateSumOfSquaresHighDegree(t *testing.T) {
	const maxDegree = 185
	for _, x := range []float64{-1, -0.93, -0.2, 0, 0.5, 0.999, 1} {
		p, _, err := Compute(maxDegree, x)
		if err != nil {
			t.Fatalf("Compute error: %v", err)
		}
		for _, n := range []int{1, 13, 20, 64, 120, 185} {
			var sum float64
			for m := 0; m <= n; m++ {
				sum += p[Index(n, m)] * p[Index(n, m)]
			}
			if math.Abs(sum-1) > 1e-10 {
				t.Errorf("x=%g n=%d sum of squares = %.15g, want 1", x, n, sum)
			}
		}
	}
}

func TestEvaluatePoles(t *testing.T) {
	for _, x := range []float64{1, -1} {
		p, dp, err := Compute(12, x)
		if err != nil {
			t.Fatalf("Compute error: %v", err)
		}
		for n := 0; n <= 12; n++ {
			for m := 0; m <= n; m++ {
				v, d := p[Index(n, m)], dp[Index(n, m)]
				if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(d) || math.IsInf(d, 0) {
					t.Fatalf("x=%g (%d,%d) not finite: p=%g dp=%g", x, n, m, v, d)
				}
				if m > 0 && v != 0 {
					t.Errorf("x=%g P(%d,%d) = %g, want 0 at the pole", x, n, m, v)
				}
			}
		}
	}
}

// Within 1e-8 rad of a pole cos θ is exactly ±1, yet P_n^1 must still
// scale with sin θ.
func TestEvaluateNearPole(t *testing.T) {
	p := make([]float64, Size(3))
	dp := make([]float64, Size(3))
	for _, theta := range []float64{1e-12, 1e-10, 1e-9, 1e-8, math.Pi - 1e-9} {
		x, s := math.Cos(theta), math.Sin(theta)
		if err := Evaluate(3, x, s, p, dp); err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if got := p[Index(1, 1)]; got != s {
			t.Errorf("theta=%g P(1,1) = %g, want %g", theta, got, s)
		}
		want := math.Sqrt(3) * x * s
		if got := p[Index(2, 1)]; math.Abs(got-want) > 1e-14*s {
			t.Errorf("theta=%g P(2,1) = %g, want %g", theta, got, want)
		}
		if got := dp[Index(1, 1)]; got != x {
			t.Errorf("theta=%g dP(1,1) = %g, want %g", theta, got, x)
		}
	}
}

func TestEvaluateInvalidArguments(t *testing.T) {
	tests := []struct {
		name      string
		maxDegree int
		x, s      float64
		size      int
	}{
		{"negative degree", -1, 0.5, 0.8, 10},
		{"x above one", 3, 1.0001, 0, 10},
		{"x below minus one", 3, -1.5, 0, 10},
		{"nan", 3, math.NaN(), 0.5, 10},
		{"negative sine", 3, 0.5, -0.8, 10},
		{"sine above one", 3, 0.5, 1.2, 10},
		{"nan sine", 3, 0.5, math.NaN(), 10},
		{"short output", 3, 0.5, 0.8, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]float64, tt.size)
			dp := make([]float64, tt.size)
			err := Evaluate(tt.maxDegree, tt.x, tt.s, p, dp)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Evaluate error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestIndex(t *testing.T) {
	next := 0
	for n := 0; n <= 20; n++ {
		for m := 0; m <= n; m++ {
			if got := Index(n, m); got != next {
				t.Fatalf("Index(%d, %d) = %d, want %d", n, m, got, next)
			}
			next++
		}
	}
	if Size(20) != next {
		t.Errorf("Size(20) = %d, want %d", Size(20), next)
	}
}

func BenchmarkEvaluateDegree185(b *testing.B) {
	p := make([]float64, Size(185))
	dp := make([]float64, Size(185))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := Evaluate(185, 0.3, math.Sqrt(0.91), p, dp); err != nil {
			b.Fatal(err)
		}
	}
}
