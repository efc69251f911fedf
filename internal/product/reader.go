// Package product reads sample and pixel text inputs and writes evaluation
// products as text or SQLite.
package product

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/residual"
	"github.com/JohnathanBurchill/chaos/internal/trace"
	"github.com/JohnathanBurchill/chaos/internal/transform"
)

// ErrMalformedLine is returned for an input line with the wrong number of
// fields or an unparsable number.
var ErrMalformedLine = errors.New("product: malformed input line")

// Position is a calculator input: a time and a geocentric location.
type Position struct {
	Time       time.Time
	Latitude   float64 // degrees
	Longitude  float64 // degrees
	AltitudeKm float64
}

// GridPoint is one sky-map pixel with two angles whose meaning depends on
// the grid kind: latitude/longitude or elevation/azimuth, in degrees.
type GridPoint struct {
	Row, Col int
	A, B     float64
}

// scanFields calls fn with the numeric fields of each data line. Blank
// lines and lines starting with '#' are skipped.
func scanFields(r io.Reader, want int, fn func(v []float64) error) error {
	scanner := bufio.NewScanner(r)
	values := make([]float64, want)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != want {
			return fmt.Errorf("%w: line %d has %d fields, want %d", ErrMalformedLine, lineNo, len(fields), want)
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("%w: line %d field %d: %v", ErrMalformedLine, lineNo, i+1, err)
			}
			values[i] = v
		}
		if err := fn(values); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func unixTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// ReadPositions reads lines of "unixTime lat lon altKm".
func ReadPositions(r io.Reader) ([]Position, error) {
	var out []Position
	err := scanFields(r, 4, func(v []float64) error {
		out = append(out, Position{Time: unixTime(v[0]), Latitude: v[1], Longitude: v[2], AltitudeKm: v[3]})
		return nil
	})
	return out, err
}

// ReadSamples reads magnetometer lines of "unixTime lat lon radiusM bN bE bC".
func ReadSamples(r io.Reader) ([]residual.Sample, error) {
	var out []residual.Sample
	err := scanFields(r, 7, func(v []float64) error {
		out = append(out, residual.Sample{
			Time:      v[0],
			Latitude:  v[1],
			Longitude: v[2],
			Radius:    v[3],
			Measured:  model.NEC{N: v[4], E: v[5], C: v[6]},
		})
		return nil
	})
	return out, err
}

// ReadGrid reads pixel lines of "row col a b".
func ReadGrid(r io.Reader) ([]GridPoint, error) {
	var out []GridPoint
	err := scanFields(r, 4, func(v []float64) error {
		if v[0] != math.Trunc(v[0]) || v[1] != math.Trunc(v[1]) {
			return fmt.Errorf("%w: row and column must be integers", ErrMalformedLine)
		}
		out = append(out, GridPoint{Row: int(v[0]), Col: int(v[1]), A: v[2], B: v[3]})
		return nil
	})
	return out, err
}

// GeocentricPixels treats A and B as geocentric latitude and longitude and
// starts every pixel at altKm.
func GeocentricPixels(points []GridPoint, altKm float64) []trace.Pixel {
	pixels := make([]trace.Pixel, len(points))
	for i, p := range points {
		pixels[i] = trace.Pixel{
			Row:   p.Row,
			Col:   p.Col,
			Start: trace.Position{Latitude: p.A, Longitude: p.B, AltitudeKm: altKm},
		}
	}
	return pixels
}

// LookDirectionPixels treats A and B as elevation and azimuth seen from
// site and starts each pixel where its line of sight reaches the emission
// altitude. Pixels at or below the horizon get a NaN start, which the
// tracer reports as a failed pixel.
func LookDirectionPixels(points []GridPoint, site transform.Site, emissionAltKm float64) []trace.Pixel {
	pixels := make([]trace.Pixel, len(points))
	nan := math.NaN()
	for i, p := range points {
		start := trace.Position{Latitude: nan, Longitude: nan, AltitudeKm: nan}
		if pos, err := site.LookDirectionToPosition(transform.ElAzToENU(p.A, p.B), emissionAltKm*1000); err == nil {
			lat, lon, r := transform.CartesianToGeocentric(pos)
			start = trace.Position{Latitude: lat, Longitude: lon, AltitudeKm: r/1000 - model.EarthRadiusKm}
		}
		pixels[i] = trace.Pixel{Row: p.Row, Col: p.Col, Start: start}
	}
	return pixels
}
