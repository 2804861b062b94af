package http

import (
	"net"
	"net/http"
)

// ClientIP returns the request's client IP without the port. The router runs
// chi's RealIP middleware first, so RemoteAddr already reflects trusted
// forwarding headers.
func ClientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
