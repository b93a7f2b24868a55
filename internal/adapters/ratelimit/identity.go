package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP derives the identity an admission decision is keyed on.
//
// By default the direct peer address is used. When trustProxy is set the
// first public address in the X-Forwarded-For chain wins instead; this
// trust must be explicit because an attacker who controls the header can
// otherwise rotate identities and bypass the limiter entirely.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for _, part := range parts {
				candidate := strings.TrimSpace(part)
				addr, err := netip.ParseAddr(candidate)
				if err != nil {
					continue
				}
				if !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast() {
					return candidate
				}
			}
			// No public hop found; fall back to the first entry rather
			// than collapsing everyone behind the proxy into one bucket.
			if first := strings.TrimSpace(parts[0]); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
