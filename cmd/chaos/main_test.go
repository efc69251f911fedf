package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	coreText = `# test core
1 1 2 6 5
2000.0 2020.0
1 0 -30000 -29000
1 1 0 0
1 -1 0 0
`
	extrapolationText = `1 1 2 2 1
2020.0 2030.0
1 0 -29000 -28000
1 1 0 0
1 -1 0 0
`
	crustText = `2 2 1 1 0
2019.0
2 0 1
2 1 0
2 -1 0
2 2 0
2 -2 0
`
)

// writeRelease writes a coefficient release and a config file pointing at
// it, returning the config path.
func writeRelease(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"CHAOS-7.18_core.shc":              coreText,
		"CHAOS-7.18_core_extrapolated.shc": extrapolationText,
		"CHAOS-7.18_static.shc":            crustText,
	}
	for name, text := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := filepath.Join(dir, "chaos.yaml")
	if err := os.WriteFile(cfg, []byte("coefficient_dir: "+dir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCmd(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// dataLines returns the non-comment lines of out.
func dataLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l != "" && !strings.HasPrefix(l, "#") {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestVersionAndUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"version", []string{"version"}, 0, "chaos version 1.1"},
		{"about flag", []string{"-about"}, 0, "chaos version 1.1"},
		{"command about", []string{"field", "-about"}, 0, "GNU General Public License"},
		{"no command", nil, 2, ""},
		{"unknown", []string{"frobnicate"}, 2, ""},
		{"bad flag", []string{"field", "-nope"}, 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runCmd(t, "", tt.args...)
			if r.code != tt.code {
				t.Errorf("exit code = %d, want %d (stderr %s)", r.code, tt.code, r.stderr)
			}
			if !strings.Contains(r.stdout, tt.want) {
				t.Errorf("stdout = %q, want it to contain %q", r.stdout, tt.want)
			}
		})
	}
}

func TestField(t *testing.T) {
	cfg := writeRelease(t)
	r := runCmd(t, "", "field", "-config", cfg, "-date", "2010-01-01", "-lat", "0", "-lon", "0", "-alt", "0")
	if r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	lines := dataLines(r.stdout)
	if len(lines) != 1 {
		t.Fatalf("got %d rows, want 1: %q", len(lines), r.stdout)
	}
	if fields := strings.Split(lines[0], "\t"); len(fields) != 13 {
		t.Errorf("row has %d fields, want 13: %q", len(fields), lines[0])
	}
	if !strings.Contains(r.stdout, "(core)") {
		t.Errorf("header does not report the core branch: %q", r.stdout)
	}

	if r := runCmd(t, "", "field", "-config", cfg, "-lat", "0"); r.code != 1 {
		t.Errorf("missing position: exit code = %d, want 1", r.code)
	}
}

func TestCalc(t *testing.T) {
	cfg := writeRelease(t)
	input := "# 2010-01-01\n1262304000 0 0 0\n1262304060 10 20 400\n"
	r := runCmd(t, input, "calc", "-config", cfg)
	if r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	if lines := dataLines(r.stdout); len(lines) != 2 {
		t.Errorf("got %d rows, want 2: %q", len(lines), r.stdout)
	}

	if r := runCmd(t, "1262304000 0 0\n", "calc", "-config", cfg); r.code != 1 {
		t.Errorf("malformed input: exit code = %d, want 1", r.code)
	}
	if r := runCmd(t, "", "calc", "-config", cfg); r.code != 1 {
		t.Errorf("empty input: exit code = %d, want 1", r.code)
	}
}

func TestResiduals(t *testing.T) {
	cfg := writeRelease(t)
	input := strings.Join([]string{
		"1262304000 0 0 6771200 20000 0 0",
		"1262304001 0.1 0 6771200 20000 0 0",
		"1262304002 0.2 0 6771200 20000 0 0",
		"1262304003 0.3 0 6771200 20000 0 0",
	}, "\n")

	// TSV on stdout.
	r := runCmd(t, input, "residuals", "-config", cfg, "-out", "-", "-skip", "2")
	if r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	if lines := dataLines(r.stdout); len(lines) != 4 {
		t.Errorf("got %d rows, want 4", len(lines))
	}

	out := filepath.Join(t.TempDir(), "residuals.db")
	if r := runCmd(t, input, "residuals", "-config", cfg, "-out", out); r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("product not written: %v", err)
	}

	r = runCmd(t, input, "residuals", "-config", cfg, "-out", out)
	if r.code != 1 || !strings.Contains(r.stderr, "-overwrite") {
		t.Errorf("existing output: exit code = %d, stderr %s", r.code, r.stderr)
	}
	if r := runCmd(t, input, "residuals", "-config", cfg, "-out", out, "-overwrite"); r.code != 0 {
		t.Errorf("overwrite: exit code = %d, stderr %s", r.code, r.stderr)
	}
}

func TestResidualsCancelled(t *testing.T) {
	cfg := writeRelease(t)
	out := filepath.Join(t.TempDir(), "residuals.db")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	input := "1262304000 0 0 6771200 0 0 0\n1262304001 0 0 6771200 0 0 0\n"
	code := run(ctx, []string{"residuals", "-config", cfg, "-out", out}, strings.NewReader(input), &stdout, &stderr)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial product left behind: %v", err)
	}
}

func TestSweep(t *testing.T) {
	cfg := writeRelease(t)
	r := runCmd(t, "", "sweep", "-config", cfg, "-date", "2015-06-01",
		"-lat", "-65", "-lon", "10", "-alt", "110", "-stop", "310", "-step", "100")
	if r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	lines := dataLines(r.stdout)
	if len(lines) != 3 {
		t.Fatalf("got %d rows, want 3: %q", len(lines), r.stdout)
	}
	for i, want := range []string{"110.000", "210.000", "310.000"} {
		if !strings.HasPrefix(lines[i], want+"\t") {
			t.Errorf("row %d = %q, want target %s", i, lines[i], want)
		}
	}

	if r := runCmd(t, "", "sweep", "-config", cfg, "-lat", "-65", "-lon", "10", "-alt", "110", "-stop", "0", "-step", "100"); r.code != 1 {
		t.Errorf("stop below alt: exit code = %d, want 1", r.code)
	}
}

func TestTrace(t *testing.T) {
	cfg := writeRelease(t)
	r := runCmd(t, "", "trace", "-config", cfg, "-date", "2015-06-01",
		"-lat", "-65", "-lon", "10", "-alt", "110", "-target", "600", "-path")
	if r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	lines := dataLines(r.stdout)
	if len(lines) < 2 {
		t.Fatalf("path has %d points, want several", len(lines))
	}
	if !strings.HasPrefix(lines[0], "-65.000000\t10.000000\t110.000000\t0") {
		t.Errorf("first path point = %q", lines[0])
	}
	if last := strings.Split(lines[len(lines)-1], "\t"); last[2] != "600.000000" {
		t.Errorf("last altitude = %s, want 600", last[2])
	}

	// Down from the configured maximum altitude.
	r = runCmd(t, "", "trace", "-config", cfg, "-date", "2015-06-01",
		"-lat", "-65", "-lon", "10", "-alt", "1000", "-target", "110", "-direction", "-1", "-path")
	if r.code != 0 {
		t.Fatalf("downward trace: exit code = %d, stderr %s", r.code, r.stderr)
	}
	lines = dataLines(r.stdout)
	if len(lines) < 2 {
		t.Fatalf("downward path has %d points, want several", len(lines))
	}
	if last := strings.Split(lines[len(lines)-1], "\t"); last[2] != "110.000000" {
		t.Errorf("downward last altitude = %s, want 110", last[2])
	}

	if r := runCmd(t, "", "trace", "-config", cfg, "-lat", "-65", "-lon", "10", "-alt", "110", "-target", "110"); r.code != 1 {
		t.Errorf("target equals alt: exit code = %d, want 1", r.code)
	}
}

func TestSkymap(t *testing.T) {
	cfg := writeRelease(t)
	grid := "0 0 -65 10\n0 1 -66 12\n1 0 -67 14\n"
	r := runCmd(t, grid, "skymap", "-config", cfg, "-date", "2015-06-01", "-alt", "110", "-target", "400", "-workers", "2")
	if r.code != 0 {
		t.Fatalf("exit code = %d, stderr %s", r.code, r.stderr)
	}
	if lines := dataLines(r.stdout); len(lines) != 3 {
		t.Errorf("got %d footprints, want 3: %q", len(lines), r.stdout)
	}

	if r := runCmd(t, grid, "skymap", "-config", cfg, "-kind", "elaz", "-target", "400"); r.code != 1 {
		t.Errorf("elaz without site: exit code = %d, want 1", r.code)
	}
}

func TestMissingCoefficients(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "chaos.yaml")
	if err := os.WriteFile(cfg, []byte("coefficient_dir: "+dir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := runCmd(t, "", "field", "-config", cfg, "-lat", "0", "-lon", "0", "-alt", "0")
	if r.code != 1 || !strings.Contains(r.stderr, "not found") {
		t.Errorf("exit code = %d, stderr %s", r.code, r.stderr)
	}
}
