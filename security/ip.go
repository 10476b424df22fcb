package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP address from the request.
// When trustProxy is set, X-Forwarded-For and X-Real-IP headers are
// consulted; trustedProxyCount says how many proxies at the right end of
// X-Forwarded-For are ours, which prevents spoofing in multi-proxy setups.
// Only enable trustProxy behind a reverse proxy you control.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := extractIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return extractIPFromRemoteAddr(r.RemoteAddr)
}

// extractIPFromXFF picks the client IP out of an X-Forwarded-For header.
// The header reads "client, proxy1, proxy2, ..." left to right; the
// rightmost trustedProxyCount entries were appended by proxies we control,
// so the client sits just left of them.
func extractIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")

	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	idx := len(ips) - proxyCount - 1
	if idx < 0 {
		idx = 0
	}

	clientIP := strings.TrimSpace(ips[idx])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}

// extractIPFromRemoteAddr strips the port from a direct connection address.
func extractIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
