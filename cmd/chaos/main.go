// Command chaos evaluates the CHAOS geomagnetic field model, computes
// magnetometer residuals, traces field lines and serves the model over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/config"
	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/shc"
)

const (
	software = "chaos"
	version  = "1.1"
)

const about = `chaos version ` + version + `
Evaluates the CHAOS core and crustal geomagnetic field model.

This program is free software: you can redistribute it and/or modify it
under the terms of the GNU General Public License as published by the Free
Software Foundation, either version 3 of the License, or (at your option)
any later version. It is distributed WITHOUT ANY WARRANTY.
`

const usage = `usage: chaos <command> [flags]

commands:
  field      evaluate the field at one position
  calc       evaluate the field for "unixTime lat lon altKm" lines
  residuals  subtract the model from "unixTime lat lon radiusM bN bE bC" lines
  trace      trace a field line to a target altitude
  sweep      trace from one start to a range of target altitudes
  skymap     trace every pixel of a sky-map grid
  track      evaluate the field along an SGP4 ground track
  serve      run the HTTP evaluation service
  version    print the version and licence

Every command accepts -config, -verbose, -overwrite and -about.
Run "chaos <command> -h" for command flags.
`

// errUsage marks a command line that could not be parsed. The flag package
// has already printed the details.
var errUsage = errors.New("usage error")

// errAbout ends a command after -about was printed.
var errAbout = errors.New("about printed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code: 0 on
// success, 1 on failure and 2 on a usage error.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	commands := map[string]func(context.Context, *env, []string) error{
		"field":     runField,
		"calc":      runCalc,
		"residuals": runResiduals,
		"trace":     runTrace,
		"sweep":     runSweep,
		"skymap":    runSkymap,
		"track":     runTrack,
		"serve":     runServe,
	}

	name, rest := args[0], args[1:]
	switch name {
	case "version", "-about", "--about":
		fmt.Fprint(stdout, about)
		return 0
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "chaos: unknown command %q\n\n%s", name, usage)
		return 2
	}

	e := &env{name: name, stdin: stdin, stdout: stdout, stderr: stderr}
	err := cmd(ctx, e, rest)
	switch {
	case err == nil, errors.Is(err, errAbout):
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		if e.logger != nil {
			e.logger.Error("command failed", "command", name, "error", err)
		}
		fmt.Fprintf(stderr, "chaos %s: %v\n", name, err)
		return 1
	}
}

// env carries what every command shares once its flags are parsed.
type env struct {
	name   string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logger    *slog.Logger
	cfg       *config.Config
	overwrite bool

	configPath string
	verbose    bool
	about      bool
}

// flags returns a flag set for the command with the common flags
// registered.
func (e *env) flags() *flag.FlagSet {
	fs := flag.NewFlagSet(e.name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.StringVar(&e.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&e.verbose, "verbose", false, "log at debug level")
	fs.BoolVar(&e.overwrite, "overwrite", false, "replace an existing output file")
	fs.BoolVar(&e.about, "about", false, "print the version and licence and exit")
	return fs
}

// parse parses args and sets up logging and configuration.
func (e *env) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	if e.about {
		fmt.Fprint(e.stdout, about)
		return errAbout
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(e.stderr, "chaos %s: unexpected arguments %v\n", e.name, fs.Args())
		return errUsage
	}

	level := slog.LevelInfo
	if e.verbose {
		level = slog.LevelDebug
	}
	e.logger = slog.New(slog.NewJSONHandler(e.stderr, &slog.HandlerOptions{
		Level: level,
	})).With("command", e.name)

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, e.logger); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	e.cfg = cfg
	return nil
}

// loadCoefficients reads the coefficient release from the configured
// directory.
func (e *env) loadCoefficients() (*shc.Coefficients, error) {
	start := time.Now()
	c, err := shc.Load(e.cfg.CoefficientDir)
	if err != nil {
		return nil, err
	}
	e.logger.Info("coefficients loaded",
		"dir", e.cfg.CoefficientDir,
		"fingerprint", fmt.Sprintf("%016x", c.Fingerprint()),
		"core_degree", c.Core.MaxDegree,
		"crust_degree", c.Crust.MaxDegree,
		"core_epochs", fmt.Sprintf("%.1f-%.1f", c.Core.FirstEpoch(), c.Core.LastEpoch()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return c, nil
}

// loadModel loads the coefficients and interpolates them to the UTC
// calendar date of t.
func (e *env) loadModel(t time.Time) (*model.Model, error) {
	c, err := e.loadCoefficients()
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	m, err := model.Interpolate(c, t.Year(), int(t.Month()), t.Day())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("model interpolated",
		"date", t.Format(time.DateOnly),
		"fractional_year", m.FractionalYear,
		"branch", m.Branch.String(),
	)
	return m, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. An empty string is now.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// openInput returns stdin for "" or "-" and the named file otherwise.
func (e *env) openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(e.stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// createOutput returns stdout for "" or "-". A named file that exists is
// only replaced with -overwrite.
func (e *env) createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{e.stdout}, nil
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !e.overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%s exists, use -overwrite to replace it", path)
	}
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
