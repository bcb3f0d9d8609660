package api

import (
	"net"
	"strings"

	"github.com/hbomb79/Telluride/internal/api/response"
	"github.com/labstack/echo/v4"
)

// localOnly rejects any request whose TCP peer is not on the local
// machine. It must be registered as the first Pre middleware so that
// rejected requests never reach routing or query parsing. Forwarding
// headers are deliberately ignored: only the connection's own remote
// address is trusted.
func localOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			req := ec.Request()
			if IsLoopbackPeer(req.RemoteAddr) {
				return next(ec)
			}

			log.Warnf("Rejected %s %s from non-local peer %s\n", req.Method, req.URL.Path, req.RemoteAddr)
			return response.ErrAPIRejected
		}
	}
}

// IsLoopbackPeer reports whether the 'host:port' address provided
// belongs to the loopback interface (127.0.0.0/8 or ::1), or is
// the hostname 'localhost'.
func IsLoopbackPeer(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = strings.Trim(remoteAddr, "[]")
	}

	if strings.EqualFold(host, "localhost") {
		return true
	}

	// Strip IPv6 zone, e.g. "::1%lo0"
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
