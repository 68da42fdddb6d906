package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var errInflatedTooLarge = errors.New("decompressed body too large")

// DecompressRequests inflates gzip-encoded task payloads before the handlers
// decode them. A body that is not valid gzip is rejected with 400; reading
// past limit decompressed bytes fails the read. A limit of zero uses the
// handlers' own body cap.
func DecompressRequests(limit int64) echo.MiddlewareFunc {
	if limit <= 0 {
		limit = maxBodySize
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody || !acceptsGzip(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &inflatedBody{zr: zr, raw: req.Body, left: limit}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func acceptsGzip(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}

// inflatedBody reads at most left decompressed bytes and closes both readers.
type inflatedBody struct {
	zr   *gzip.Reader
	raw  io.ReadCloser
	left int64
}

func (b *inflatedBody) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.left <= 0 {
		// At the cap: only the end of the stream is acceptable.
		var extra [1]byte
		for {
			n, err := b.zr.Read(extra[:])
			switch {
			case n > 0:
				return 0, errInflatedTooLarge
			case err != nil:
				return 0, err
			}
		}
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err := b.zr.Read(p)
	b.left -= int64(n)
	return n, err
}

func (b *inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}
