/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// ClientAddress returns the normalized address of the client that issued the request.
// Proxy headers are read only if trustForwardedFor is set: the first hop of X-Forwarded-For,
// then X-Real-IP. Otherwise, and when they are empty, the host part of RemoteAddr is used.
func ClientAddress(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwardedFor := r.Header.Get(headerForwardedFor); forwardedFor != "" {
			first, _, _ := strings.Cut(forwardedFor, ",")
			if addr := NormalizeAddress(first); addr != "" {
				return addr
			}
		}
		if addr := NormalizeAddress(r.Header.Get(headerRealIP)); addr != "" {
			return addr
		}
	}
	return NormalizeAddress(r.RemoteAddr)
}

// NormalizeAddress strips the port and brackets and returns the canonical text form of the IP,
// so that every spelling of one IPv6 address (and IPv4-mapped IPv6 addresses) yields the same key.
// Values that are not IP addresses are returned trimmed.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return addr
	}
	return ip.Unmap().WithZone("").String()
}
