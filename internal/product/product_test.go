package product

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/propagation"
	"github.com/JohnathanBurchill/chaos/internal/residual"
	"github.com/JohnathanBurchill/chaos/internal/trace"
	"github.com/JohnathanBurchill/chaos/internal/transform"
)

func TestReadPositions(t *testing.T) {
	input := `# unixTime lat lon altKm
1700000000 45.5 -75.25 450

1700000001.5	-10 170 0.5
`
	got, err := ReadPositions(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadPositions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d positions, want 2", len(got))
	}
	want0 := Position{Time: time.Unix(1700000000, 0).UTC(), Latitude: 45.5, Longitude: -75.25, AltitudeKm: 450}
	if got[0] != want0 {
		t.Errorf("position 0 = %+v, want %+v", got[0], want0)
	}
	if got[1].Time.UnixMilli() != 1700000001500 {
		t.Errorf("fractional time = %v", got[1].Time)
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		read  func(string) error
	}{
		{"positions short", "1 2 3\n", func(s string) error { _, err := ReadPositions(strings.NewReader(s)); return err }},
		{"positions text", "1 2 x 4\n", func(s string) error { _, err := ReadPositions(strings.NewReader(s)); return err }},
		{"samples long", "1 2 3 4 5 6 7 8\n", func(s string) error { _, err := ReadSamples(strings.NewReader(s)); return err }},
		{"grid fractional row", "1.5 2 3 4\n", func(s string) error { _, err := ReadGrid(strings.NewReader(s)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(tt.input)
			if !errors.Is(err, ErrMalformedLine) {
				t.Fatalf("err = %v, want ErrMalformedLine", err)
			}
			if !strings.Contains(err.Error(), "line 1") {
				t.Errorf("err = %v, want line number", err)
			}
		})
	}
}

func TestReadSamples(t *testing.T) {
	got, err := ReadSamples(strings.NewReader("10 1 2 6800000 100 -20 30000\n11 1.1 2 6800000 101 -21 30001\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	want := residual.Sample{Time: 10, Latitude: 1, Longitude: 2, Radius: 6800000, Measured: model.NEC{N: 100, E: -20, C: 30000}}
	if got[0] != want {
		t.Errorf("sample 0 = %+v, want %+v", got[0], want)
	}
}

func TestGridPixels(t *testing.T) {
	points, err := ReadGrid(strings.NewReader("0 0 60 -110\n0 1 61 -110\n"))
	if err != nil {
		t.Fatal(err)
	}
	pixels := GeocentricPixels(points, 110)
	if len(pixels) != 2 || pixels[1].Col != 1 || pixels[1].Start != (trace.Position{Latitude: 61, Longitude: -110, AltitudeKm: 110}) {
		t.Errorf("pixels = %+v", pixels)
	}

	// Elevation/azimuth: zenith, a low northward look, and one below the horizon.
	site := transform.NewSite(62.4, -114.3, 200)
	look := LookDirectionPixels([]GridPoint{{0, 0, 90, 0}, {0, 1, 20, 0}, {0, 2, -5, 0}}, site, 110)

	zenith := look[0].Start
	if math.Abs(zenith.Longitude+114.3) > 0.01 {
		t.Errorf("zenith longitude = %v, want -114.3", zenith.Longitude)
	}
	// Geocentric latitude is below geodetic at this latitude.
	if zenith.Latitude > 62.4 || zenith.Latitude < 62.2 {
		t.Errorf("zenith latitude = %v, want just below 62.4", zenith.Latitude)
	}
	if zenith.AltitudeKm < 90 || zenith.AltitudeKm > 120 {
		t.Errorf("zenith altitude = %v km", zenith.AltitudeKm)
	}
	if look[1].Start.Latitude <= zenith.Latitude+1 {
		t.Errorf("northward pixel latitude = %v, want well north of %v", look[1].Start.Latitude, zenith.Latitude)
	}
	if !math.IsNaN(look[2].Start.Latitude) {
		t.Errorf("below-horizon pixel start = %+v, want NaN", look[2].Start)
	}
}

func TestTextWriters(t *testing.T) {
	var buf bytes.Buffer
	p := Position{Time: time.Unix(1700000000, 0), Latitude: 1, Longitude: 2, AltitudeKm: 3}
	if err := WriteFieldRow(&buf, p, model.NEC{N: 1, E: 2, C: 3}, model.NEC{N: 10, E: 20, C: 30}); err != nil {
		t.Fatal(err)
	}
	want := "1700000000\t1.000000\t2.000000\t3.000\t1.000\t2.000\t3.000\t10.000\t20.000\t30.000\t11.000\t22.000\t33.000\n"
	if buf.String() != want {
		t.Errorf("WriteFieldRow = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	samples := []residual.Sample{{Time: 1}, {Time: 2}, {Time: 3}}
	res := &residual.Result{
		Core:      make([]model.NEC, 3),
		Crust:     make([]model.NEC, 3),
		Residual:  make([]model.NEC, 3),
		Processed: 2,
	}
	if err := WriteResidualsText(&buf, samples, res); err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("residual text has %d lines, want header + 2", lines)
	}

	buf.Reset()
	results := []trace.PixelResult{{Pixel: trace.Pixel{Row: 1, Col: 2}, End: trace.Position{Latitude: 3, Longitude: 4, AltitudeKm: 5}, Steps: 6}}
	if err := WriteFootprintsText(&buf, results); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1 2 3.000000 4.000000 5.000000 6\n" {
		t.Errorf("footprints = %q", buf.String())
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "product.db")
	meta := Metadata{Software: "chaos", Version: "1.1", Fingerprint: 0xabc, FractionalYear: 2024.5}

	s, err := Create(path, false, meta)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx := context.Background()

	samples := []residual.Sample{{Time: 1, Latitude: 10, Radius: 6.8e6}, {Time: 2}, {Time: 3}}
	res := &residual.Result{
		Core:      []model.NEC{{N: 1}, {N: 2}, {N: 3}},
		Crust:     make([]model.NEC, 3),
		Residual:  []model.NEC{{C: -1}, {C: -2}, {C: -3}},
		Processed: 2,
	}
	if err := s.WriteResiduals(ctx, samples, res); err != nil {
		t.Fatalf("WriteResiduals: %v", err)
	}

	nan := math.NaN()
	points := []propagation.Point{
		{Time: time.Unix(100, 0), Latitude: 1, RadiusKm: 6800, Core: model.NEC{N: 5}},
		{Time: time.Unix(160, 0), Latitude: 2, RadiusKm: 6800, Core: model.NEC{N: nan, E: nan, C: nan}},
	}
	if err := s.WriteTrack(ctx, points); err != nil {
		t.Fatalf("WriteTrack: %v", err)
	}

	footprints := []trace.PixelResult{
		{Pixel: trace.Pixel{Row: 0, Col: 0}, End: trace.Position{Latitude: 65, Longitude: 10, AltitudeKm: 500}, Steps: 42},
		{Pixel: trace.Pixel{Row: 0, Col: 1}, End: trace.Position{Latitude: nan, Longitude: nan, AltitudeKm: nan}, Err: trace.ErrField},
	}
	if err := s.WriteFootprints(ctx, footprints); err != nil {
		t.Fatalf("WriteFootprints: %v", err)
	}

	count := func(query string) int {
		t.Helper()
		var n int
		if err := s.db.QueryRow(query).Scan(&n); err != nil {
			t.Fatalf("%s: %v", query, err)
		}
		return n
	}
	if n := count(`SELECT COUNT(*) FROM residuals`); n != 2 {
		t.Errorf("residual rows = %d, want 2 (processed only)", n)
	}
	if n := count(`SELECT COUNT(*) FROM track WHERE core_n IS NULL`); n != 1 {
		t.Errorf("NULL track rows = %d, want 1", n)
	}
	if n := count(`SELECT COUNT(*) FROM footprints WHERE error IS NOT NULL AND end_latitude IS NULL`); n != 1 {
		t.Errorf("failed footprint rows = %d, want 1", n)
	}

	var fp string
	if err := s.db.QueryRow(`SELECT value FROM product_info WHERE name = 'model_fingerprint'`).Scan(&fp); err != nil {
		t.Fatal(err)
	}
	if fp != "abc" {
		t.Errorf("fingerprint = %q, want abc", fp)
	}
	var residualC sql.NullFloat64
	if err := s.db.QueryRow(`SELECT residual_c FROM residuals WHERE time = 2`).Scan(&residualC); err != nil {
		t.Fatal(err)
	}
	if residualC.Float64 != -2 {
		t.Errorf("residual_c = %v, want -2", residualC.Float64)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Existing output is protected unless overwriting.
	if _, err := Create(path, false, meta); !errors.Is(err, ErrExists) {
		t.Fatalf("Create over existing = %v, want ErrExists", err)
	}
	s2, err := Create(path, true, meta)
	if err != nil {
		t.Fatalf("Create overwrite: %v", err)
	}
	if n := func() int {
		var n int
		s2.db.QueryRow(`SELECT COUNT(*) FROM residuals`).Scan(&n)
		return n
	}(); n != 0 {
		t.Errorf("overwritten product has %d residual rows, want 0", n)
	}

	// Discard removes the file.
	if err := s2.Discard(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("discarded product still exists: %v", err)
	}
}
