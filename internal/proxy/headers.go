package proxy

import (
	"net/http"
	"strings"
)

// corsAllowedHeaders and corsExposedHeaders extend a standard permissive
// CORS policy with Range/Content-Range for media seeking.
const (
	corsAllowedHeaders = "Content-Type, Range"
	corsExposedHeaders = "Content-Length, Content-Range, Content-Type, Accept-Ranges"
	corsMethods        = "GET, POST, PUT, DELETE, OPTIONS, PATCH"
)

func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", corsMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
	h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
}

// emitResponseHeaders copies upstream headers minus hop-by-hop ones, then
// layers on CORS, cache state, and streaming-specific headers per the
// proxy pipeline's emit stage.
func emitResponseHeaders(w http.ResponseWriter, resp *http.Response, contentType, cacheState string, streaming, useCloudflare bool) {
	dst := w.Header()
	for k, vv := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}

	if contentType != "" {
		dst.Set("Content-Type", contentType)
	}

	writeCORSHeaders(w)
	dst.Set("Accept-Ranges", "bytes")
	dst.Set("X-Cache", cacheState)

	if streaming {
		dst.Set("X-Accel-Buffering", "no")
		if useCloudflare {
			dst.Set("CF-Cache-Status", "DYNAMIC")
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}
