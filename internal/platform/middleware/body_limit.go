package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies over the configured size with a 413.
// defaultLimit covers the JSON API, where the largest payload is a visit
// update with its document checklist; uploadLimit covers POSTs to /documents
// routes, whose bodies carry scanned safety and efficacy reports.
//
// Limits are size strings: a bare number is bytes, and K, M, or G suffixes
// (optionally with a trailing B) scale it.
func BodyLimit(defaultLimit string, uploadLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	uploadBytes := parseLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/documents") {
				limit = uploadBytes
			}

			// A declared Content-Length over the limit is rejected before any
			// bytes are read.
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
				})
			}

			// Chunked or lying clients are caught as the handler reads.
			req.Body = &meteredBody{body: req.Body, remaining: limit}
			return next(c)
		}
	}
}

// meteredBody counts bytes as the handler consumes the body and fails the
// read that crosses the limit.
type meteredBody struct {
	body      io.ReadCloser
	remaining int64
	exceeded  bool
}

func (m *meteredBody) Read(p []byte) (int, error) {
	if m.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	// Read one byte past the budget so an exactly-at-limit body still
	// succeeds while the first excess byte trips the check.
	if budget := m.remaining + 1; int64(len(p)) > budget {
		p = p[:budget]
	}
	n, err := m.body.Read(p)
	m.remaining -= int64(n)

	if m.remaining < 0 {
		m.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (m *meteredBody) Close() error {
	return m.body.Close()
}

var limitSuffixes = []struct {
	suffix string
	factor int64
}{
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
}

// parseLimit turns a size string into bytes, falling back to 1MB when the
// string is empty or malformed.
func parseLimit(s string) int64 {
	const fallback = 1 << 20

	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}

	var factor int64 = 1
	s = strings.TrimSuffix(s, "B")
	for _, entry := range limitSuffixes {
		if strings.HasSuffix(s, entry.suffix) {
			factor = entry.factor
			s = strings.TrimSuffix(s, entry.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n * factor
}
