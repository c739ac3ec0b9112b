package ratelimit

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// RetryAfter is the Retry-After header value for a rejected request: the
// time, in whole seconds, until the bucket earns its next token.
func RetryAfter(cfg Config) string {
	if cfg.Requests <= 0 || cfg.Window <= 0 {
		return "1"
	}
	secs := math.Ceil(cfg.Window.Seconds() / float64(cfg.Requests))
	return strconv.Itoa(max(1, int(secs)))
}

// GetClientIP returns the address requests are budgeted under: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection peer. Header
// values that do not parse as an IP are ignored so a malformed header
// cannot mint fresh budgets.
func GetClientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); first != "" {
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	if addr, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return addr.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
