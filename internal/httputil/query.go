package httputil

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// Query reads typed parameters from a request, remembering the first
// problem so handlers can parse everything and check once.
type Query struct {
	r   *http.Request
	err error
}

// NewQuery wraps r.
func NewQuery(r *http.Request) *Query {
	return &Query{r: r}
}

// Err returns the first parse or range error, if any.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(format string, args ...any) {
	if q.err == nil {
		q.err = fmt.Errorf(format, args...)
	}
}

// Float returns the named parameter within [min, max]. A missing
// parameter gives def, or an error when required is set.
func (q *Query) Float(name string, def, min, max float64, required bool) float64 {
	v := q.r.URL.Query().Get(name)
	if v == "" {
		if required {
			q.fail("missing %s parameter", name)
		}
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || f < min || f > max {
		q.fail("invalid %s parameter, must be %g to %g", name, min, max)
		return def
	}
	return f
}

// Direction returns the tracing direction, +1 or -1, defaulting to def.
func (q *Query) Direction(def int) int {
	v := q.r.URL.Query().Get("direction")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || (n != 1 && n != -1) {
		q.fail("invalid direction parameter, must be 1 or -1")
		return def
	}
	return n
}

// Date parses the date parameter as YYYY-MM-DD or RFC 3339. A missing
// date gives now.
func (q *Query) Date(now time.Time) time.Time {
	v := q.r.URL.Query().Get("date")
	if v == "" {
		return now
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		q.fail("invalid date parameter, want YYYY-MM-DD or RFC 3339")
		return now
	}
	return t
}
