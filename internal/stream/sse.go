// Package stream serves altitude sweeps as Server-Sent Events. A client
// connects to GET /api/v1/sweep and receives one row per target altitude
// as soon as it is traced, so long sweeps show progress.
//
// SSE message format:
//
//	data: {"type":"metadata","date":"2024-03-01","fractional_year":2024.16,...}\n\n
//	data: {"type":"row","target_alt_km":500,"lat":-57.9,"lon":30,"alt_km":500,"steps":41}\n\n
//	data: {"type":"done","rows":10}\n\n
//
// A failed sweep ends with {"type":"error","error":"..."} instead of done.
// Closing the connection cancels the remaining traces.
package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/cache"
	"github.com/JohnathanBurchill/chaos/internal/httputil"
	"github.com/JohnathanBurchill/chaos/internal/metrics"
	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/trace"
)

// ModelSource returns the interpolated model for a date.
type ModelSource interface {
	Get(t time.Time) (*model.Model, error)
}

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int // Max concurrent sweeps per client (default: 2).
	MaxTargets         int // Max target altitudes per sweep (default: 1000).
	TrustProxy         bool
	// Trace holds the base tracer options; requests override direction
	// and the upper bound.
	Trace trace.Options
}

// Handler manages sweep streams.
type Handler struct {
	models  ModelSource
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new sweep stream handler.
func NewHandler(models ModelSource, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = 2
	}
	if config.MaxTargets < 1 {
		config.MaxTargets = 1000
	}
	return &Handler{
		models:  models,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP),
		logger:  logger,
		now:     time.Now,
	}
}

// HandleSweep serves one sweep.
// GET /api/v1/sweep?date=2024-03-01&lat=-60&lon=30&alt=110&stop=1000&step=100&direction=1
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	q := httputil.NewQuery(r)
	date := q.Date(h.now())
	start := trace.Position{
		Latitude:   q.Float("lat", 0, -90, 90, true),
		Longitude:  q.Float("lon", 0, -360, 360, true),
		AltitudeKm: q.Float("alt", 0, -1000, 1e6, true),
	}
	stop := q.Float("stop", 0, -1000, 1e6, true)
	step := q.Float("step", 0, 1e-3, 1e6, true)
	opts := h.config.Trace
	opts.Direction = q.Direction(opts.Direction)
	if err := q.Err(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	targets, err := trace.SweepTargets(start.AltitudeKm, stop, step)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid sweep: stop must not be below alt")
		return
	}
	if len(targets) > h.config.MaxTargets {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("sweep has %d targets, limit %d", len(targets), h.config.MaxTargets))
		return
	}

	m, err := h.models.Get(date)
	if err != nil {
		h.logger.Error("sweep model unavailable", "date", cache.Key(date), "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "model unavailable")
		return
	}

	// Sweeps are CPU-bound; cap how many one client runs at once.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamEvent("rate_limit")
		h.logger.Warn("sweep rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "5")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent sweeps")
		return
	}

	metrics.IncStreamEvent("connect")
	metrics.IncStreamsActive()

	began := time.Now()
	h.logger.Info("sweep started",
		"remote_ip", ip,
		"date", cache.Key(date),
		"targets", len(targets),
		"direction", opts.Direction,
	)

	var rows int
	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamEvent("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("sweep finished",
			"remote_ip", ip,
			"rows", rows,
			"duration_ms", time.Since(began).Milliseconds(),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		ip:      ip,
		logger:  h.logger,
	}

	meta := metadataMessage{
		Type:             "metadata",
		Date:             cache.Key(date),
		FractionalYear:   m.FractionalYear,
		Branch:           m.Branch.String(),
		ModelFingerprint: fmt.Sprintf("%016x", m.Fingerprint),
		Start:            positionPayload{start.Latitude, start.Longitude, start.AltitudeKm},
		Targets:          len(targets),
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.IncStreamEvent("send_error")
		h.logger.Warn("sweep send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	err = trace.Sweep(r.Context(), m, start, targets, opts, func(row trace.SweepRow) error {
		err := c.sendJSON(rowMessage{
			Type:        "row",
			TargetAltKm: row.TargetAltKm,
			Latitude:    row.End.Latitude,
			Longitude:   row.End.Longitude,
			AltitudeKm:  row.End.AltitudeKm,
			Steps:       row.Steps,
		})
		if err == nil {
			rows++
		}
		return err
	})
	switch {
	case err == nil:
		c.sendJSON(doneMessage{Type: "done", Rows: rows})
	case r.Context().Err() != nil:
		// Client went away; nothing left to tell it.
	case c.writeFailed:
		metrics.IncStreamEvent("send_error")
		h.logger.Warn("sweep send error", "remote_ip", ip, "error", err)
	default:
		h.logger.Warn("sweep failed", "remote_ip", ip, "rows", rows, "error", err)
		c.sendJSON(errorMessage{Type: "error", Error: err.Error()})
	}
}

// SSE message payload types.

type positionPayload struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	AltitudeKm float64 `json:"alt_km"`
}

type metadataMessage struct {
	Type             string          `json:"type"`
	Date             string          `json:"date"`
	FractionalYear   float64         `json:"fractional_year"`
	Branch           string          `json:"branch"`
	ModelFingerprint string          `json:"model_fingerprint"`
	Start            positionPayload `json:"start"`
	Targets          int             `json:"targets"`
}

type rowMessage struct {
	Type        string  `json:"type"`
	TargetAltKm float64 `json:"target_alt_km"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	AltitudeKm  float64 `json:"alt_km"`
	Steps       int     `json:"steps"`
}

type doneMessage struct {
	Type string `json:"type"`
	Rows int    `json:"rows"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

var _ ModelSource = (*cache.ModelCache)(nil)
