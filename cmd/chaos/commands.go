package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/product"
	"github.com/JohnathanBurchill/chaos/internal/residual"
	"github.com/JohnathanBurchill/chaos/internal/trace"
)

// positionFlags registers -date, -lat, -lon and -alt.
type positionFlags struct {
	date          string
	lat, lon, alt float64
}

func (p *positionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.date, "date", "", "model date, YYYY-MM-DD or RFC 3339 (default today)")
	fs.Float64Var(&p.lat, "lat", math.NaN(), "geocentric latitude, degrees")
	fs.Float64Var(&p.lon, "lon", math.NaN(), "longitude, degrees")
	fs.Float64Var(&p.alt, "alt", math.NaN(), "altitude above 6371.2 km, km")
}

func (p *positionFlags) resolve() (time.Time, trace.Position, error) {
	if math.IsNaN(p.lat) || math.IsNaN(p.lon) || math.IsNaN(p.alt) {
		return time.Time{}, trace.Position{}, errors.New("-lat, -lon and -alt are required")
	}
	if p.lat < -90 || p.lat > 90 {
		return time.Time{}, trace.Position{}, fmt.Errorf("latitude %v out of range", p.lat)
	}
	date, err := parseDate(p.date)
	if err != nil {
		return time.Time{}, trace.Position{}, err
	}
	return date, trace.Position{Latitude: p.lat, Longitude: p.lon, AltitudeKm: p.alt}, nil
}

func runField(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	var pos positionFlags
	pos.register(fs)
	if err := e.parse(fs, args); err != nil {
		return err
	}
	date, p, err := pos.resolve()
	if err != nil {
		return err
	}

	m, err := e.loadModel(date)
	if err != nil {
		return err
	}
	core, crust, err := m.FieldGeocentric(p.Latitude, p.Longitude, model.EarthRadiusKm+p.AltitudeKm)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "# %s fractional year %.4f (%s)\n", date.Format(time.DateOnly), m.FractionalYear, m.Branch)
	fmt.Fprintln(e.stdout, "# time\tlat\tlon\talt_km\tcore_n\tcore_e\tcore_c\tcrust_n\tcrust_e\tcrust_c\ttotal_n\ttotal_e\ttotal_c")
	return product.WriteFieldRow(e.stdout, product.Position{
		Time:       date,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		AltitudeKm: p.AltitudeKm,
	}, core, crust)
}

// runCalc evaluates the model for every input line. The model date is
// taken from the first line.
func runCalc(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	in := fs.String("in", "", "input file of \"unixTime lat lon altKm\" lines (default stdin)")
	out := fs.String("out", "", "output file (default stdout)")
	if err := e.parse(fs, args); err != nil {
		return err
	}

	r, err := e.openInput(*in)
	if err != nil {
		return err
	}
	positions, err := product.ReadPositions(r)
	r.Close()
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return errors.New("no input positions")
	}

	m, err := e.loadModel(positions[0].Time)
	if err != nil {
		return err
	}

	w, err := e.createOutput(*out)
	if err != nil {
		return err
	}
	defer w.Close()
	bw := bufio.NewWriter(w)

	nan := model.NEC{N: math.NaN(), E: math.NaN(), C: math.NaN()}
	var failed int
	for i, p := range positions {
		if err := ctx.Err(); err != nil {
			bw.Flush()
			return fmt.Errorf("interrupted after %s positions: %w", humanize.Comma(int64(i)), err)
		}
		core, crust, err := m.FieldGeocentric(p.Latitude, p.Longitude, model.EarthRadiusKm+p.AltitudeKm)
		if err != nil {
			if model.Fatal(err) {
				return err
			}
			e.logger.Warn("position skipped", "index", i, "lat", p.Latitude, "lon", p.Longitude, "error", err)
			core, crust = nan, nan
			failed++
		}
		if err := product.WriteFieldRow(bw, p, core, crust); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	e.logger.Info("calc finished",
		"positions", humanize.Comma(int64(len(positions))),
		"failed", failed,
		"branch", m.Branch.String(),
	)
	return nil
}

// runResiduals writes core, crust and residual fields for magnetometer
// samples. Output goes to a SQLite product, or as TSV to stdout when the
// output path is empty or "-". An interrupted run leaves no product.
func runResiduals(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	in := fs.String("in", "", "input file of \"unixTime lat lon radiusM bN bE bC\" lines (default stdin)")
	out := fs.String("out", "", "SQLite output path, - for TSV on stdout (default from config)")
	skip := fs.Int("skip", 0, "samples between exact evaluations (default from config)")
	if err := e.parse(fs, args); err != nil {
		return err
	}
	output := e.cfg.Residuals.Output
	if *out != "" {
		output = *out
	}
	if *skip != 0 {
		e.cfg.Residuals.Skip = *skip
	}

	r, err := e.openInput(*in)
	if err != nil {
		return err
	}
	samples, err := product.ReadSamples(r)
	r.Close()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return errors.New("no input samples")
	}

	first := time.Unix(int64(samples[0].Time), 0).UTC()
	m, err := e.loadModel(first)
	if err != nil {
		return err
	}

	var store *product.Store
	if output != "" && output != "-" {
		store, err = product.Create(output, e.overwrite, product.Metadata{
			Software:       software,
			Version:        version,
			Fingerprint:    m.Fingerprint,
			FractionalYear: m.FractionalYear,
			Created:        time.Now().UTC(),
		})
		if errors.Is(err, product.ErrExists) {
			return fmt.Errorf("%w; use -overwrite to replace it", err)
		}
		if err != nil {
			return err
		}
	}
	discard := func() {
		if store == nil {
			return
		}
		if err := store.Discard(); err != nil {
			e.logger.Warn("removing partial product failed", "path", output, "error", err)
		}
	}

	began := time.Now()
	calc := residual.Calculator{Model: m, Skip: e.cfg.Residuals.Skip}
	res, err := calc.Calculate(ctx, samples)
	if err != nil {
		discard()
		return err
	}
	if !res.Complete {
		discard()
		return fmt.Errorf("interrupted after %s of %s samples: %w",
			humanize.Comma(int64(res.Processed)), humanize.Comma(int64(len(samples))), context.Cause(ctx))
	}

	if store == nil {
		if err := product.WriteResidualsText(e.stdout, samples, res); err != nil {
			return err
		}
	} else {
		if err := store.WriteResiduals(ctx, samples, res); err != nil {
			discard()
			return err
		}
		if err := store.Close(); err != nil {
			return err
		}
	}

	attrs := []any{
		"samples", humanize.Comma(int64(len(samples))),
		"skip", e.cfg.Residuals.Skip,
		"branch", m.Branch.String(),
		"duration_ms", time.Since(began).Milliseconds(),
	}
	if store != nil {
		attrs = append(attrs, "output", output)
		if fi, err := os.Stat(output); err == nil {
			attrs = append(attrs, "size", humanize.Bytes(uint64(fi.Size())))
		}
	}
	e.logger.Info("residuals written", attrs...)
	return nil
}

func runTrace(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	var pos positionFlags
	pos.register(fs)
	target := fs.Float64("target", math.NaN(), "target altitude, km")
	direction := fs.Int("direction", 0, "1 to follow B, -1 to follow -B (default from config)")
	path := fs.Bool("path", false, "print every accepted step")
	if err := e.parse(fs, args); err != nil {
		return err
	}
	date, start, err := pos.resolve()
	if err != nil {
		return err
	}
	if math.IsNaN(*target) {
		return errors.New("-target is required")
	}
	opts := e.cfg.TraceOptions()
	if *direction != 0 {
		opts.Direction = *direction
	}
	opts.RecordPath = *path
	opts, err = trace.Band(opts, start.AltitudeKm, *target)
	if err != nil {
		return err
	}

	m, err := e.loadModel(date)
	if err != nil {
		return err
	}
	res, err := trace.Trace(ctx, m, start, opts)
	if err != nil {
		return err
	}
	if !res.Complete {
		return fmt.Errorf("trace interrupted: %w", context.Cause(ctx))
	}

	bw := bufio.NewWriter(e.stdout)
	fmt.Fprintln(bw, "# lat\tlon\talt_km\tsteps")
	for i, p := range res.Path {
		fmt.Fprintf(bw, "%.6f\t%.6f\t%.6f\t%d\n", p.Latitude, p.Longitude, p.AltitudeKm, i)
	}
	if len(res.Path) == 0 {
		fmt.Fprintf(bw, "%.6f\t%.6f\t%.6f\t%d\n", res.End.Latitude, res.End.Longitude, res.End.AltitudeKm, res.Steps)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if math.Abs(res.End.AltitudeKm-*target) > 1e-6 {
		e.logger.Warn("target altitude not reached",
			"target_km", *target,
			"end_km", res.End.AltitudeKm,
			"steps", res.Steps,
		)
	}
	return nil
}

// runSweep traces from one start up to each target altitude from -alt to
// -stop in increments of -step, printing "targetAlt lat lon alt steps".
func runSweep(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	var pos positionFlags
	pos.register(fs)
	stop := fs.Float64("stop", math.NaN(), "highest target altitude, km")
	step := fs.Float64("step", math.NaN(), "target altitude increment, km")
	direction := fs.Int("direction", 0, "1 to follow B, -1 to follow -B (default from config)")
	if err := e.parse(fs, args); err != nil {
		return err
	}
	date, start, err := pos.resolve()
	if err != nil {
		return err
	}
	targets, err := trace.SweepTargets(start.AltitudeKm, *stop, *step)
	if err != nil {
		return err
	}
	opts := e.cfg.TraceOptions()
	if *direction != 0 {
		opts.Direction = *direction
	}
	opts.MinAltKm = math.Min(opts.MinAltKm, start.AltitudeKm)

	m, err := e.loadModel(date)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(e.stdout)
	defer bw.Flush()
	fmt.Fprintln(bw, "# target_km\tlat\tlon\talt_km\tsteps")
	return trace.Sweep(ctx, m, start, targets, opts, func(row trace.SweepRow) error {
		_, err := fmt.Fprintf(bw, "%.3f\t%.6f\t%.6f\t%.6f\t%d\n",
			row.TargetAltKm, row.End.Latitude, row.End.Longitude, row.End.AltitudeKm, row.Steps)
		return err
	})
}
