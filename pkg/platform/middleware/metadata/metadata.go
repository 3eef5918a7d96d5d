// Package metadata records who is calling: the client IP and a short,
// parsed description of the user agent.
package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"warden/pkg/requestcontext"
)

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and the audit trail.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r),
			DescribeUserAgent(r.Header.Get("User-Agent")),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DescribeUserAgent reduces a raw User-Agent header to
// "browser version (os)", "bot name" or "unknown". The raw header is never
// stored.
func DescribeUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot " + name
	}
	if name == "" {
		return "unknown"
	}
	desc := name
	if version != "" {
		desc += " " + version
	}
	if os := ua.OS(); os != "" {
		desc += " (" + os + ")"
	}
	return desc
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port", or "[::1]:port" for IPv6
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}
