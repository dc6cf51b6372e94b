package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize caps a single header value. Registry clients send short
// bearer tokens and request ids; anything past 8KB is not legitimate traffic.
const maxHeaderValueSize = 8192

var (
	// Lookup params are short tokens (statuses, screening numbers, page
	// cursors); SQL shapes in them are logged as a tamper signal but not
	// blocked, since every query goes through bound parameters anyway.
	sqlShapes = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Script payloads are blocked outright: deviation listings render
	// participant-entered text in coordinator dashboards.
	scriptShapes = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize screens requests without logging the tamper warnings.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger rejects requests whose path, headers, or query carry
// traversal sequences, null bytes, header injection, or script payloads.
// Rejections are 400s with a reason; SQL-shaped query values pass through but
// are logged so repeated attempts show up in the audit trail.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			if hasTraversal(path) || hasTraversal(rawPath) {
				return rejectRequest(c, "Path traversal detected")
			}
			if hasNullByte(path) || hasNullByte(rawPath) {
				return rejectRequest(c, "Null byte injection detected")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return rejectRequest(c, "Header value exceeds maximum size: "+name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return rejectRequest(c, "Header injection detected: "+name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if hasNullByte(v) || hasNullByte(key) {
						return rejectRequest(c, "Null byte injection detected in query parameter")
					}
					if sqlShapes.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", path).
							Str("remote_ip", c.RealIP()).
							Msg("potential SQL injection pattern detected in query parameter")
					}
					if scriptShapes.MatchString(v) || scriptShapes.MatchString(key) {
						return rejectRequest(c, "Script injection detected in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

// hasTraversal matches dot-dot sequences raw, percent-encoded, and
// double-encoded. Echo decodes one layer, so the double-encoded form is what
// a smuggled traversal looks like by the time it reaches the router.
func hasTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func rejectRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": reason})
}

// SanitizeString strips null bytes and non-whitespace control characters and
// trims the result. Handlers run participant initials, deviation reasons, and
// document names through it before the values reach storage or a dashboard.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
