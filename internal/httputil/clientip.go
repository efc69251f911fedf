// Package httputil holds request helpers shared by the evaluation API and
// the sweep stream: client identification, query parsing and JSON
// responses.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP identifies the caller for per-client limits. With trustProxy
// the leftmost X-Forwarded-For address, then X-Real-IP, is used when it
// parses as an IP; otherwise the host of RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
			if ip := net.ParseIP(strings.TrimSpace(candidate)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
