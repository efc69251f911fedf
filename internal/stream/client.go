package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/metrics"
)

// writeTimeout bounds each event write; the server's WriteTimeout would
// otherwise cut off long sweeps.
const writeTimeout = 30 * time.Second

// client writes events to one sweep connection.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	writeFailed bool
}

// sendJSON marshals v and sends it as an SSE "data:" event.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "remote_ip", c.ip, "error", err)
	}

	n, err := fmt.Fprintf(c.w, "data: %s\n\n", data)
	if err != nil {
		c.writeFailed = true
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()
	metrics.AddStreamBytes(int64(n))
	return nil
}
