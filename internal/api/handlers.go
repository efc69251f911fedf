package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/cache"
	"github.com/JohnathanBurchill/chaos/internal/health"
	"github.com/JohnathanBurchill/chaos/internal/httputil"
	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/shc"
	"github.com/JohnathanBurchill/chaos/internal/trace"
)

// traceTimeout bounds one trace request.
const traceTimeout = 10 * time.Second

type handlers struct {
	models    Models
	ready     *health.Readiness
	traceOpts trace.Options
	version   string
	logger    *slog.Logger
	now       func() time.Time
}

type necPayload struct {
	N float64 `json:"n"`
	E float64 `json:"e"`
	C float64 `json:"c"`
}

func nec(v model.NEC) necPayload { return necPayload{v.N, v.E, v.C} }

type positionPayload struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	AltitudeKm float64 `json:"alt_km"`
}

type modelPayload struct {
	Date             string  `json:"date"`
	FractionalYear   float64 `json:"fractional_year"`
	Branch           string  `json:"branch"`
	ModelFingerprint string  `json:"model_fingerprint"`
}

func describe(date time.Time, m *model.Model) modelPayload {
	return modelPayload{
		Date:             cache.Key(date),
		FractionalYear:   m.FractionalYear,
		Branch:           m.Branch.String(),
		ModelFingerprint: fmt.Sprintf("%016x", m.Fingerprint),
	}
}

func (h *handlers) requireReady(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Ready() {
			w.Header().Set("Retry-After", "5")
			httputil.WriteError(w, http.StatusServiceUnavailable, "model coefficients not loaded")
			return
		}
		next(w, r)
	}
}

// modelFor resolves the model for the request date, writing the error
// response itself when it fails.
func (h *handlers) modelFor(w http.ResponseWriter, date time.Time) (*model.Model, bool) {
	m, err := h.models.Get(date)
	if err != nil {
		h.logger.Error("model interpolation failed", "date", cache.Key(date), "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "model unavailable for date")
		return nil, false
	}
	return m, true
}

// handleField evaluates core and crust at one position.
// GET /api/v1/field?date=2024-03-01&lat=45&lon=-75&alt=450
func (h *handlers) handleField(w http.ResponseWriter, r *http.Request) {
	q := httputil.NewQuery(r)
	date := q.Date(h.now())
	lat := q.Float("lat", 0, -90, 90, true)
	lon := q.Float("lon", 0, -360, 360, true)
	alt := q.Float("alt", 0, -1000, 1e6, true)
	if err := q.Err(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, ok := h.modelFor(w, date)
	if !ok {
		return
	}
	core, crust, err := m.FieldGeocentric(lat, lon, model.EarthRadiusKm+alt)
	if err != nil {
		h.logger.Warn("field evaluation failed", "lat", lat, "lon", lon, "alt_km", alt, "error", err)
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	total := core.Add(crust)

	httputil.WriteJSON(w, http.StatusOK, struct {
		modelPayload
		Position  positionPayload `json:"position"`
		Core      necPayload      `json:"core"`
		Crust     necPayload      `json:"crust"`
		Total     necPayload      `json:"total"`
		Magnitude float64         `json:"magnitude"`
	}{
		modelPayload: describe(date, m),
		Position:     positionPayload{lat, lon, alt},
		Core:         nec(core),
		Crust:        nec(crust),
		Total:        nec(total),
		Magnitude:    total.Magnitude(),
	})
}

// handleTrace follows the field line from a position to a target altitude.
// GET /api/v1/trace?date=2024-03-01&lat=-65&lon=10&alt=110&target=500&direction=1
//
// The altitude band comes from trace.Band.
func (h *handlers) handleTrace(w http.ResponseWriter, r *http.Request) {
	q := httputil.NewQuery(r)
	date := q.Date(h.now())
	start := trace.Position{
		Latitude:   q.Float("lat", 0, -90, 90, true),
		Longitude:  q.Float("lon", 0, -360, 360, true),
		AltitudeKm: q.Float("alt", 0, -1000, 1e6, true),
	}
	target := q.Float("target", 0, -1000, 1e6, true)
	opts := h.traceOpts
	opts.Direction = q.Direction(opts.Direction)
	if err := q.Err(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := trace.Band(opts, start.AltitudeKm, target)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, ok := h.modelFor(w, date)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), traceTimeout)
	defer cancel()
	res, err := trace.Trace(ctx, m, start, opts)
	switch {
	case errors.Is(err, trace.ErrInvalidOptions):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Warn("trace failed", "start", start, "target_km", target, "error", err)
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case !res.Complete:
		httputil.WriteError(w, http.StatusServiceUnavailable, "trace did not finish in time")
		return
	}

	reached := math.Abs(res.End.AltitudeKm-target) < 1e-6
	httputil.WriteJSON(w, http.StatusOK, struct {
		modelPayload
		Direction int             `json:"direction"`
		Start     positionPayload `json:"start"`
		End       positionPayload `json:"end"`
		TargetKm  float64         `json:"target_alt_km"`
		Reached   bool            `json:"reached"`
		Steps     int             `json:"steps"`
		Rejected  int             `json:"rejected"`
	}{
		modelPayload: describe(date, m),
		Direction:    opts.Direction,
		Start:        positionPayload{start.Latitude, start.Longitude, start.AltitudeKm},
		End:          positionPayload{res.End.Latitude, res.End.Longitude, res.End.AltitudeKm},
		TargetKm:     target,
		Reached:      reached,
		Steps:        res.Steps,
		Rejected:     res.Rejected,
	})
}

type setPayload struct {
	MinDegree  int     `json:"min_degree"`
	MaxDegree  int     `json:"max_degree"`
	Epochs     int     `json:"epochs"`
	FirstEpoch float64 `json:"first_epoch"`
	LastEpoch  float64 `json:"last_epoch"`
	File       string  `json:"file,omitempty"`
	Checksum   string  `json:"checksum"`
}

func describeSet(s *shc.Set) setPayload {
	return setPayload{
		MinDegree:  s.MinDegree,
		MaxDegree:  s.MaxDegree,
		Epochs:     s.Epochs(),
		FirstEpoch: s.FirstEpoch(),
		LastEpoch:  s.LastEpoch(),
		File:       s.Path,
		Checksum:   fmt.Sprintf("%016x", s.Checksum),
	}
}

// handleModel describes the loaded coefficient release.
func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	c := h.models.Coefficients()
	if c == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "model coefficients not loaded")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"fingerprint":   fmt.Sprintf("%016x", c.Fingerprint()),
		"core":          describeSet(c.Core),
		"extrapolation": describeSet(c.Extrapolation),
		"crust":         describeSet(c.Crust),
	})
}

func (h *handlers) handleCache(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.models.Stats())
}

func (h *handlers) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"software": "chaos",
		"version":  h.version,
	})
}
