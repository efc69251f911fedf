package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/JohnathanBurchill/chaos/internal/legendre"
)

// poleSinTheta is the sin(colatitude) below which P/sinθ is replaced by its
// limit (dP/dθ)/cosθ. Only zero and subnormal values qualify.
const poleSinTheta = 0x1p-1022

type workspace struct {
	p, dp      []float64
	cosm, sinm []float64
}

var workspaces = sync.Pool{
	New: func() any { return new(workspace) },
}

func getWorkspace(maxDegree int) *workspace {
	ws := workspaces.Get().(*workspace)
	size := legendre.Size(maxDegree)
	if cap(ws.p) < size {
		ws.p = make([]float64, size)
		ws.dp = make([]float64, size)
	}
	ws.p = ws.p[:size]
	ws.dp = ws.dp[:size]
	if cap(ws.cosm) < maxDegree+1 {
		ws.cosm = make([]float64, maxDegree+1)
		ws.sinm = make([]float64, maxDegree+1)
	}
	ws.cosm = ws.cosm[:maxDegree+1]
	ws.sinm = ws.sinm[:maxDegree+1]
	return ws
}

func (s *Snapshot) prepare(r, theta, phi float64) (*workspace, error) {
	if !(r > 0) || math.IsInf(r, 0) || math.IsNaN(theta) || math.IsNaN(phi) || math.IsInf(phi, 0) {
		return nil, fmt.Errorf("%w: r=%g km colatitude=%g longitude=%g", ErrInvalidPosition, r, theta, phi)
	}
	ws := getWorkspace(s.maxDegree)
	if err := legendre.Evaluate(s.maxDegree, math.Cos(theta), math.Abs(math.Sin(theta)), ws.p, ws.dp); err != nil {
		workspaces.Put(ws)
		return nil, fmt.Errorf("%w: %v", ErrLegendreEvaluation, err)
	}
	for m := 0; m <= s.maxDegree; m++ {
		ws.sinm[m], ws.cosm[m] = math.Sincos(float64(m) * phi)
	}
	return ws, nil
}

// Field returns the field in nT at geocentric radius r (km), colatitude
// theta and longitude phi (radians).
func (s *Snapshot) Field(r, theta, phi float64) (NEC, error) {
	ws, err := s.prepare(r, theta, phi)
	if err != nil {
		return NEC{}, err
	}
	defer workspaces.Put(ws)

	sinTheta := math.Sin(theta)
	cosTheta := math.Cos(theta)
	pole := math.Abs(sinTheta) < poleSinTheta

	ratio := EarthRadiusKm / r
	pow := math.Pow(ratio, float64(s.minDegree+1))

	var br, bt, bp float64
	for n := s.minDegree; n <= s.maxDegree; n++ {
		pow *= ratio // (a/r)^(n+2)
		var sumR, sumT, sumP float64
		base := legendre.Index(n, 0)
		for m := 0; m <= n; m++ {
			k := base + m
			g, h := s.g[k], s.h[k]
			c, sn := ws.cosm[m], ws.sinm[m]
			v := g*c + h*sn
			sumR += v * ws.p[k]
			sumT += v * ws.dp[k]
			if m == 0 {
				continue
			}
			q := ws.p[k]
			if pole {
				q = ws.dp[k] / cosTheta
			}
			sumP += float64(m) * (g*sn - h*c) * q
		}
		br += float64(n+1) * pow * sumR
		bt -= pow * sumT
		bp += pow * sumP
	}
	if !pole {
		bp /= sinTheta
	}

	return NEC{N: -bt, E: bp, C: -br}, nil
}

// Potential returns the scalar potential V in nT·km at the given position.
func (s *Snapshot) Potential(r, theta, phi float64) (float64, error) {
	ws, err := s.prepare(r, theta, phi)
	if err != nil {
		return 0, err
	}
	defer workspaces.Put(ws)

	ratio := EarthRadiusKm / r
	pow := math.Pow(ratio, float64(s.minDegree))

	var v float64
	for n := s.minDegree; n <= s.maxDegree; n++ {
		pow *= ratio // (a/r)^(n+1)
		var sum float64
		for m := 0; m <= n; m++ {
			k := legendre.Index(n, m)
			sum += (s.g[k]*ws.cosm[m] + s.h[k]*ws.sinm[m]) * ws.p[k]
		}
		v += pow * sum
	}
	return EarthRadiusKm * v, nil
}
