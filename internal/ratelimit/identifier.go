package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const UnknownClient = "unknown"

// Identifier returns the admission-control key for a request: the hashed
// credential prefix when the caller authenticated, the client address
// otherwise.
func Identifier(keyID, clientIP string) string {
	if keyID != "" {
		return "api_" + keyID
	}
	return "ip_" + clientIP
}

// ClientIP derives the caller's address. With X-Forwarded-For present and
// trustedProxies > 0, the entry trustedProxies hops from the right is the
// client (each trusted proxy appends the address it received from); with no
// trusted proxies the left-most entry is used. Without the header it falls
// back to X-Real-IP, CF-Connecting-IP, the connection address and finally
// UnknownClient.
func ClientIP(r *http.Request, trustedProxies int) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		var hops []string
		for _, part := range strings.Split(xff, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
		if len(hops) > 0 {
			idx := 0
			if trustedProxies > 0 {
				idx = len(hops) - trustedProxies
				if idx < 0 {
					idx = 0
				}
			}
			return hops[idx]
		}
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return UnknownClient
}
