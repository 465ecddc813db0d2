package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/aidawidget/aidawidget/internal/auth"
)

// privateNetworks contains RFC 1918 private ranges + loopback.
// Connections from these IPs are assumed to come from internal infrastructure
// (load balancers, reverse proxies, Docker networks, etc.)
var privateNetworks []*net.IPNet

func init() {
	privateCIDRs := []string{
		"127.0.0.0/8",    // Loopback
		"10.0.0.0/8",     // RFC 1918 Class A
		"172.16.0.0/12",  // RFC 1918 Class B
		"192.168.0.0/16", // RFC 1918 Class C
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
	}
	for _, cidr := range privateCIDRs {
		_, network, _ := net.ParseCIDR(cidr)
		privateNetworks = append(privateNetworks, network)
	}
}

// ClientIP returns the real client address. X-Forwarded-For and X-Real-IP
// are trusted only when the direct peer is on a private network or matches
// an entry (IP or CIDR) of trusted.
func ClientIP(r *http.Request, trusted []string) string {
	remoteIP := stripPort(r.RemoteAddr)

	if isTrustedProxy(remoteIP, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// The first entry is the original client
			parts := strings.SplitN(xff, ",", 2)
			if clientIP := strings.TrimSpace(parts[0]); clientIP != "" {
				return clientIP
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return remoteIP
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// requestIP prefers the address resolved by Tracing
func requestIP(r *http.Request) string {
	if ip := auth.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return stripPort(r.RemoteAddr)
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP != nil {
		for _, network := range privateNetworks {
			if network.Contains(parsedIP) {
				return true
			}
		}
	}

	for _, entry := range trusted {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil && parsedIP != nil && network.Contains(parsedIP) {
				return true
			}
		} else if entry == ip {
			return true
		}
	}
	return false
}
