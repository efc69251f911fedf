package trace

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/JohnathanBurchill/chaos/internal/metrics"
)

// Pixel is one sky-map element with its tracing start position.
type Pixel struct {
	Row, Col int
	Start    Position
}

// PixelResult is the traced footprint of a pixel. End is NaN and Err is
// set when the trace failed. Pixels skipped by cancellation carry
// context.Canceled.
type PixelResult struct {
	Pixel
	End   Position
	Steps int
	Err   error
}

// BatchResult holds one result per input pixel, in input order.
type BatchResult struct {
	Results  []PixelResult
	Traced   int
	Failed   int
	Complete bool
}

// traceJob is a unit of work for the worker pool.
type traceJob struct {
	index int
	pixel Pixel
}

// traceResult carries the input index back so results keep pixel order.
type traceResult struct {
	index int
	PixelResult
}

// WorkerPool manages a fixed number of goroutines for parallel tracing.
// Workers share the read-only field source and each trace owns its
// integrator.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// TraceBatch traces every pixel with the same options. Failed pixels are
// logged and reported with NaN positions. When ctx is cancelled the
// remaining pixels are left NaN and Complete is false.
func (wp *WorkerPool) TraceBatch(ctx context.Context, field FieldSource, pixels []Pixel, opts Options) *BatchResult {
	out := &BatchResult{
		Results:  make([]PixelResult, len(pixels)),
		Complete: true,
	}
	nan := math.NaN()
	for i, px := range pixels {
		out.Results[i] = PixelResult{
			Pixel: px,
			End:   Position{Latitude: nan, Longitude: nan, AltitudeKm: nan},
			Err:   context.Canceled,
		}
	}
	if len(pixels) == 0 {
		return out
	}

	jobs := make(chan traceJob, wp.workers*2)
	results := make(chan traceResult, wp.workers*2)

	metrics.SetTraceWorkersActive(wp.workers)
	defer metrics.SetTraceWorkersActive(0)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				pr := traceSingle(ctx, field, job.pixel, opts)
				select {
				case results <- traceResult{index: job.index, PixelResult: pr}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, px := range pixels {
			select {
			case jobs <- traceJob{index: i, pixel: px}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	for tr := range results {
		pr := tr.PixelResult
		out.Results[tr.index] = pr
		switch {
		case errors.Is(pr.Err, context.Canceled):
		case pr.Err != nil:
			out.Failed++
			wp.logger.Warn("pixel trace failed",
				"row", pr.Row,
				"col", pr.Col,
				"error", pr.Err,
			)
		default:
			out.Traced++
		}
	}

	if ctx.Err() != nil {
		out.Complete = false
	}
	return out
}

// traceSingle traces one pixel. A cancelled trace counts as failed.
func traceSingle(ctx context.Context, field FieldSource, px Pixel, opts Options) PixelResult {
	nan := math.NaN()
	pr := PixelResult{Pixel: px, End: Position{Latitude: nan, Longitude: nan, AltitudeKm: nan}}
	res, err := Trace(ctx, field, px.Start, opts)
	switch {
	case err != nil:
		pr.Err = err
	case !res.Complete:
		pr.Err = context.Canceled
	default:
		pr.End = res.End
		pr.Steps = res.Steps
	}
	return pr
}
