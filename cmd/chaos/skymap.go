package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/product"
	"github.com/JohnathanBurchill/chaos/internal/propagation"
	"github.com/JohnathanBurchill/chaos/internal/tle"
	"github.com/JohnathanBurchill/chaos/internal/trace"
	"github.com/JohnathanBurchill/chaos/internal/transform"
)

// productWriter is the part of a product.Store one command writes through.
type productWriter func(ctx context.Context, s *product.Store) error

// writeProduct stores one product at path, or writes text to stdout when
// path is empty or "-".
func (e *env) writeProduct(ctx context.Context, path string, m *model.Model, text func() error, store productWriter) error {
	if path == "" || path == "-" {
		return text()
	}
	s, err := product.Create(path, e.overwrite, product.Metadata{
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
	if err := store(ctx, s); err != nil {
		if derr := s.Discard(); derr != nil {
			e.logger.Warn("removing partial product failed", "path", path, "error", derr)
		}
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	if fi, err := os.Stat(path); err == nil {
		e.logger.Info("product written", "output", path, "size", humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}

// runSkymap traces every pixel of a grid to a target altitude. Pixels are
// either geocentric positions or look directions from a ground site that
// start where the line of sight meets the emission altitude.
func runSkymap(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	in := fs.String("in", "", "grid file of \"row col a b\" lines (default stdin)")
	kind := fs.String("kind", "geocentric", "grid kind: geocentric (a=lat, b=lon) or elaz (a=elevation, b=azimuth)")
	date := fs.String("date", "", "model date, YYYY-MM-DD or RFC 3339 (default today)")
	startAlt := fs.Float64("alt", 110, "start altitude of geocentric pixels, km")
	siteLat := fs.Float64("site-lat", math.NaN(), "site geodetic latitude, degrees (elaz)")
	siteLon := fs.Float64("site-lon", math.NaN(), "site longitude, degrees (elaz)")
	siteAlt := fs.Float64("site-alt", 0, "site height above the WGS-84 ellipsoid, m (elaz)")
	emission := fs.Float64("emission-alt", 110, "emission altitude of elaz pixels, km")
	target := fs.Float64("target", math.NaN(), "footprint altitude, km")
	direction := fs.Int("direction", 0, "1 to follow B, -1 to follow -B (default from config)")
	workers := fs.Int("workers", 0, "trace workers (default from config)")
	out := fs.String("out", "", "SQLite output path (default text on stdout)")
	if err := e.parse(fs, args); err != nil {
		return err
	}
	if math.IsNaN(*target) {
		return errors.New("-target is required")
	}
	when, err := parseDate(*date)
	if err != nil {
		return err
	}

	r, err := e.openInput(*in)
	if err != nil {
		return err
	}
	grid, err := product.ReadGrid(r)
	r.Close()
	if err != nil {
		return err
	}
	if len(grid) == 0 {
		return errors.New("no grid points")
	}

	var pixels []trace.Pixel
	startKm := *startAlt
	switch *kind {
	case "geocentric":
		pixels = product.GeocentricPixels(grid, *startAlt)
	case "elaz":
		if math.IsNaN(*siteLat) || math.IsNaN(*siteLon) {
			return errors.New("-site-lat and -site-lon are required for elaz grids")
		}
		site := transform.NewSite(*siteLat, *siteLon, *siteAlt)
		gLat, gLon, gR := transform.GeodeticToGeocentric(*siteLat, *siteLon, *siteAlt)
		e.logger.Debug("site", "geocentric_lat", gLat, "lon", gLon, "radius_km", gR/1000)
		pixels = product.LookDirectionPixels(grid, site, *emission)
		startKm = *emission
	default:
		return fmt.Errorf("unknown grid kind %q", *kind)
	}

	opts := e.cfg.TraceOptions()
	if *direction != 0 {
		opts.Direction = *direction
	}
	opts, err = trace.Band(opts, startKm, *target)
	if err != nil {
		return err
	}
	if *workers > 0 {
		e.cfg.Trace.Workers = *workers
	}

	m, err := e.loadModel(when)
	if err != nil {
		return err
	}

	began := time.Now()
	pool := trace.NewWorkerPool(e.cfg.Trace.Workers, e.logger.With("component", "trace"))
	batch := pool.TraceBatch(ctx, m, pixels, opts)
	e.logger.Info("sky map traced",
		"pixels", humanize.Comma(int64(len(pixels))),
		"traced", humanize.Comma(int64(batch.Traced)),
		"failed", humanize.Comma(int64(batch.Failed)),
		"workers", e.cfg.Trace.Workers,
		"duration_ms", time.Since(began).Milliseconds(),
	)
	if !batch.Complete {
		return fmt.Errorf("interrupted after %s of %s pixels: %w",
			humanize.Comma(int64(batch.Traced+batch.Failed)), humanize.Comma(int64(len(pixels))), context.Cause(ctx))
	}

	return e.writeProduct(ctx, *out, m,
		func() error { return product.WriteFootprintsText(e.stdout, batch.Results) },
		func(ctx context.Context, s *product.Store) error { return s.WriteFootprints(ctx, batch.Results) },
	)
}

// runTrack evaluates the model along one satellite's SGP4 orbit. The model
// date is the start of the window.
func runTrack(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	source := fs.String("tle", "", "TLE file path or http(s) URL")
	norad := fs.Int("norad", 0, "NORAD catalog number (default first entry)")
	startFlag := fs.String("start", "", "window start, RFC 3339 or YYYY-MM-DD (default now)")
	duration := fs.Duration("duration", 90*time.Minute, "window length")
	step := fs.Duration("step", 10*time.Second, "sample interval")
	out := fs.String("out", "", "SQLite output path (default text on stdout)")
	if err := e.parse(fs, args); err != nil {
		return err
	}
	if *source == "" {
		return errors.New("-tle is required")
	}
	start, err := parseDate(*startFlag)
	if err != nil {
		return err
	}

	fetcher := tle.NewFetcher(*source, e.logger.With("component", "tle"))
	entries, err := fetcher.Load(ctx)
	if err != nil {
		return err
	}
	entry, err := tle.Find(entries, *norad)
	if err != nil {
		return fmt.Errorf("norad %d in %s: %w", *norad, *source, err)
	}
	prop, err := propagation.NewSGP4Propagator(entry)
	if err != nil {
		return err
	}

	m, err := e.loadModel(start)
	if err != nil {
		return err
	}
	if age := start.Sub(entry.Epoch); age > 14*24*time.Hour || age < -14*24*time.Hour {
		e.logger.Warn("TLE epoch far from window start", "epoch", entry.Epoch.Format(time.RFC3339), "start", start.Format(time.RFC3339))
	}

	tracker := propagation.NewTracker(prop, m, e.logger.With("component", "propagation"))
	points, err := tracker.Track(ctx, start, start.Add(*duration), *step)
	if err != nil {
		return err
	}
	e.logger.Info("ground track computed",
		"satellite", prop.Name(),
		"norad", prop.NORADID(),
		"points", humanize.Comma(int64(len(points))),
	)

	return e.writeProduct(ctx, *out, m,
		func() error { return product.WriteTrackText(e.stdout, points) },
		func(ctx context.Context, s *product.Store) error { return s.WriteTrack(ctx, points) },
	)
}
