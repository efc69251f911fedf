package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/propagation"
	"github.com/JohnathanBurchill/chaos/internal/residual"
	"github.com/JohnathanBurchill/chaos/internal/trace"

	_ "modernc.org/sqlite"
)

// ErrExists is returned when the output file exists and overwriting was
// not requested.
var ErrExists = errors.New("product: output exists")

// Metadata describes how a product was made. It is stored in the
// product_info table.
type Metadata struct {
	Software       string
	Version        string
	Fingerprint    uint64
	FractionalYear float64
	Created        time.Time
}

// Store writes products into one SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Create opens a new product database at path. An existing file is
// replaced only when overwrite is set.
func Create(path string, overwrite bool, meta Metadata) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("product: remove existing: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("product: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("product: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	if err := s.writeMetadata(meta); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS product_info (
    name TEXT PRIMARY KEY,
    value TEXT
);`, `
CREATE TABLE IF NOT EXISTS residuals (
    time REAL,
    latitude REAL,
    longitude REAL,
    radius_m REAL,
    core_n REAL, core_e REAL, core_c REAL,
    crust_n REAL, crust_e REAL, crust_c REAL,
    residual_n REAL, residual_e REAL, residual_c REAL
);`, `
CREATE TABLE IF NOT EXISTS track (
    time INTEGER,
    latitude REAL,
    longitude REAL,
    radius_km REAL,
    core_n REAL, core_e REAL, core_c REAL,
    crust_n REAL, crust_e REAL, crust_c REAL
);`, `
CREATE TABLE IF NOT EXISTS footprints (
    pixel_row INTEGER,
    pixel_col INTEGER,
    start_latitude REAL,
    start_longitude REAL,
    start_altitude_km REAL,
    end_latitude REAL,
    end_longitude REAL,
    end_altitude_km REAL,
    steps INTEGER,
    error TEXT
);`,
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("product: schema: %w", err)
		}
	}
	return nil
}

func (s *Store) writeMetadata(meta Metadata) error {
	if meta.Created.IsZero() {
		meta.Created = time.Now()
	}
	rows := [][2]string{
		{"software", meta.Software},
		{"version", meta.Version},
		{"model_fingerprint", strconv.FormatUint(meta.Fingerprint, 16)},
		{"fractional_year", strconv.FormatFloat(meta.FractionalYear, 'f', 6, 64)},
		{"created", meta.Created.UTC().Format(time.RFC3339)},
	}
	for _, kv := range rows {
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO product_info (name, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("product: metadata: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database, keeping the file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Discard closes the database and removes the file. Used when a run is
// interrupted and its output must not be trusted.
func (s *Store) Discard() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("product: discard: %w", err)
	}
	return nil
}

// insertAll runs one prepared insert per row inside a transaction.
func (s *Store) insertAll(ctx context.Context, query string, n int, args func(i int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("product: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("product: prepare: %w", err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("product: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("product: commit: %w", err)
	}
	return nil
}

// WriteResiduals stores the processed samples of res.
func (s *Store) WriteResiduals(ctx context.Context, samples []residual.Sample, res *residual.Result) error {
	return s.insertAll(ctx, `
INSERT INTO residuals (
    time, latitude, longitude, radius_m,
    core_n, core_e, core_c, crust_n, crust_e, crust_c,
    residual_n, residual_e, residual_c
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Processed,
		func(i int) []any {
			sm, c, k, d := samples[i], res.Core[i], res.Crust[i], res.Residual[i]
			return []any{
				sm.Time, sm.Latitude, sm.Longitude, sm.Radius,
				c.N, c.E, c.C, k.N, k.E, k.C, d.N, d.E, d.C,
			}
		})
}

// WriteTrack stores a ground track. NaN field components become NULL.
func (s *Store) WriteTrack(ctx context.Context, points []propagation.Point) error {
	return s.insertAll(ctx, `
INSERT INTO track (
    time, latitude, longitude, radius_km,
    core_n, core_e, core_c, crust_n, crust_e, crust_c
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(points),
		func(i int) []any {
			p := points[i]
			return []any{
				p.Time.Unix(), p.Latitude, p.Longitude, p.RadiusKm,
				nullable(p.Core.N), nullable(p.Core.E), nullable(p.Core.C),
				nullable(p.Crust.N), nullable(p.Crust.E), nullable(p.Crust.C),
			}
		})
}

// WriteFootprints stores traced sky-map pixels. Failed pixels keep NULL
// end positions and the error text.
func (s *Store) WriteFootprints(ctx context.Context, results []trace.PixelResult) error {
	return s.insertAll(ctx, `
INSERT INTO footprints (
    pixel_row, pixel_col, start_latitude, start_longitude, start_altitude_km,
    end_latitude, end_longitude, end_altitude_km, steps, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(results),
		func(i int) []any {
			r := results[i]
			var errText sql.NullString
			if r.Err != nil {
				errText = sql.NullString{String: r.Err.Error(), Valid: true}
			}
			return []any{
				r.Row, r.Col,
				nullable(r.Start.Latitude), nullable(r.Start.Longitude), nullable(r.Start.AltitudeKm),
				nullable(r.End.Latitude), nullable(r.End.Longitude), nullable(r.End.AltitudeKm),
				r.Steps, errText,
			}
		})
}

func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}
