package shc

import (
	"encoding/binary"
	"errors"

	"github.com/JohnathanBurchill/chaos/internal/legendre"
	"github.com/zeebo/xxh3"
)

// Error kinds reported by the loader. Callers test with errors.Is.
var (
	ErrDirectoryRead        = errors.New("shc: cannot read coefficient directory")
	ErrFileRead             = errors.New("shc: cannot read coefficient file")
	ErrFileContents         = errors.New("shc: malformed coefficient file")
	ErrNumberOfCoefficients = errors.New("shc: unexpected number of coefficients")
	ErrMissingFile          = errors.New("shc: coefficient file not found")
)

// maxInfoBytes bounds the retained '#' header text of a file.
const maxInfoBytes = 1024

// maxLineBytes bounds one line of an SHC file.
const maxLineBytes = 4 * 1024 * 1024

// Set is one spherical-harmonic model: the core, the core extrapolation or
// the crust. Coefficients are stored per (degree, order) term in the flat
// legendre.Index layout, one value per epoch.
type Set struct {
	Path        string
	Info        string
	MinDegree   int
	MaxDegree   int
	SplineOrder int
	SplineSteps int
	Times       []float64

	// GCoeffs and HCoeffs count the g and h rows read from the file.
	GCoeffs int
	HCoeffs int

	Checksum uint64

	g []float64
	h []float64
}

// NewSet allocates a zeroed set for degrees up to maxDegree with one value
// per epoch in times.
func NewSet(minDegree, maxDegree int, times []float64) *Set {
	size := legendre.Size(maxDegree) * len(times)
	return &Set{
		MinDegree: minDegree,
		MaxDegree: maxDegree,
		Times:     times,
		g:         make([]float64, size),
		h:         make([]float64, size),
	}
}

// ExpectedTerms is the number of g plus h terms for the degree range.
func ExpectedTerms(minDegree, maxDegree int) int {
	return maxDegree*(maxDegree+2) - (minDegree-1)*(minDegree+1)
}

// Epochs returns the number of time samples in the set.
func (s *Set) Epochs() int {
	return len(s.Times)
}

// G returns g_n^m at the given epoch index.
func (s *Set) G(n, m, epoch int) float64 {
	return s.g[legendre.Index(n, m)*len(s.Times)+epoch]
}

// H returns h_n^m at the given epoch index. h_n^0 is always zero.
func (s *Set) H(n, m, epoch int) float64 {
	return s.h[legendre.Index(n, m)*len(s.Times)+epoch]
}

// SetG stores the time series of g_n^m.
func (s *Set) SetG(n, m int, series []float64) {
	copy(s.g[legendre.Index(n, m)*len(s.Times):], series)
}

// SetH stores the time series of h_n^m.
func (s *Set) SetH(n, m int, series []float64) {
	copy(s.h[legendre.Index(n, m)*len(s.Times):], series)
}

// FirstEpoch and LastEpoch bound the time span covered by the set.
func (s *Set) FirstEpoch() float64 { return s.Times[0] }
func (s *Set) LastEpoch() float64  { return s.Times[len(s.Times)-1] }

// Coefficients aggregates the three sets that make up a CHAOS release.
// A value returned by Load is fully initialized and read-only.
type Coefficients struct {
	Core          *Set
	Extrapolation *Set
	Crust         *Set
}

// Fingerprint identifies the model release by hashing the checksums of its
// three files.
func (c *Coefficients) Fingerprint() uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], c.Core.Checksum)
	binary.LittleEndian.PutUint64(buf[8:], c.Extrapolation.Checksum)
	binary.LittleEndian.PutUint64(buf[16:], c.Crust.Checksum)
	return xxh3.Hash(buf[:])
}
