package trace

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestTraceBatchOrder(t *testing.T) {
	field := dipole(t)
	opts := Options{Direction: 1, MinAltKm: 0, MaxAltKm: 500}

	var pixels []Pixel
	for row := 0; row < 4; row++ {
		for col := 0; col < 5; col++ {
			pixels = append(pixels, Pixel{
				Row:   row,
				Col:   col,
				Start: Position{Latitude: -50 - 4*float64(row), Longitude: 20 * float64(col), AltitudeKm: 110},
			})
		}
	}
	// One pixel starts outside the band and comes back unchanged.
	pixels[7].Start.AltitudeKm = 800

	out := NewWorkerPool(4, testLogger()).TraceBatch(context.Background(), field, pixels, opts)
	if !out.Complete {
		t.Fatal("batch incomplete")
	}
	if out.Traced != len(pixels) || out.Failed != 0 {
		t.Errorf("traced %d failed %d, want %d and 0", out.Traced, out.Failed, len(pixels))
	}
	for i, pr := range out.Results {
		if pr.Row != pixels[i].Row || pr.Col != pixels[i].Col {
			t.Fatalf("result %d is pixel (%d,%d), want (%d,%d)", i, pr.Row, pr.Col, pixels[i].Row, pixels[i].Col)
		}
		// Each result matches a direct single trace.
		want, err := Trace(context.Background(), field, pixels[i].Start, opts)
		if err != nil {
			t.Fatal(err)
		}
		if pr.End != want.End || pr.Steps != want.Steps {
			t.Errorf("pixel %d: batch %+v, direct %+v", i, pr.End, want.End)
		}
	}
	if out.Results[7].Steps != 0 || out.Results[7].End != pixels[7].Start {
		t.Errorf("out-of-band pixel = %+v, want unchanged start", out.Results[7])
	}
}

func TestTraceBatchFailures(t *testing.T) {
	pixels := []Pixel{
		{Row: 0, Col: 0, Start: Position{-60, 0, 110}},
		{Row: 0, Col: 1, Start: Position{-60, 10, -7000}}, // below the centre of the Earth
		{Row: 0, Col: 2, Start: Position{-60, 20, 110}},
	}
	opts := Options{Direction: 1, MinAltKm: -8000, MaxAltKm: 500}

	out := NewWorkerPool(2, testLogger()).TraceBatch(context.Background(), dipole(t), pixels, opts)
	if out.Traced != 2 || out.Failed != 1 {
		t.Fatalf("traced %d failed %d, want 2 and 1", out.Traced, out.Failed)
	}
	bad := out.Results[1]
	if !errors.Is(bad.Err, ErrField) {
		t.Errorf("failed pixel err = %v, want ErrField", bad.Err)
	}
	if !math.IsNaN(bad.End.Latitude) || !math.IsNaN(bad.End.Longitude) || !math.IsNaN(bad.End.AltitudeKm) {
		t.Errorf("failed pixel end = %+v, want NaN", bad.End)
	}
	if out.Results[0].Err != nil || out.Results[2].Err != nil {
		t.Errorf("good pixels failed: %v, %v", out.Results[0].Err, out.Results[2].Err)
	}
}

func TestTraceBatchCancelled(t *testing.T) {
	pixels := make([]Pixel, 50)
	for i := range pixels {
		pixels[i] = Pixel{Row: i, Start: Position{-60, float64(i), 110}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewWorkerPool(2, testLogger()).TraceBatch(ctx, dipole(t), pixels, Options{Direction: 1, MaxAltKm: 1000})
	if out.Complete {
		t.Error("cancelled batch reported complete")
	}
	if out.Traced != 0 || out.Failed != 0 {
		t.Errorf("traced %d failed %d, want 0 and 0", out.Traced, out.Failed)
	}
	for i, pr := range out.Results {
		if !errors.Is(pr.Err, context.Canceled) || !math.IsNaN(pr.End.Latitude) {
			t.Fatalf("pixel %d = %+v, want cancelled NaN", i, pr)
		}
	}
}

func TestTraceBatchEmpty(t *testing.T) {
	out := NewWorkerPool(0, testLogger()).TraceBatch(context.Background(), dipole(t), nil, Options{Direction: 1, MaxAltKm: 1})
	if !out.Complete || len(out.Results) != 0 {
		t.Errorf("empty batch = %+v", out)
	}
}
