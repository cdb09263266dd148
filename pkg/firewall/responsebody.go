package firewall

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// setBody replaces resp.Body with payload and fixes up Content-Length,
// the small bit of bookkeeping every response rewriter and the blocked
// renderer needs.
func setBody(resp *http.Response, payload []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(payload))
	resp.ContentLength = int64(len(payload))
	resp.Header.Set("Content-Length", strconv.Itoa(len(payload)))
}

// stripCacheHeaders removes upstream caching hints and forces
// Cache-Control: no-cache, used whenever a response body has been
// rewritten and must not be cached as if it were the original.
func stripCacheHeaders(resp *http.Response) {
	resp.Header.Del("ETag")
	resp.Header.Del("Last-Modified")
	resp.Header.Del("Expires")
	resp.Header.Set("Cache-Control", "no-cache")
}

// readBody drains and closes resp.Body, returning the bytes; it does not
// put a body back. Callers
// that fail to parse the result must put the original bytes back with
// setBody so the response still has a valid, readable body.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}
