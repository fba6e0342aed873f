package proxy

import (
	"net/http"
	"time"
)

// newUpstreamClient builds the HTTP client used for every upstream fetch: a
// pooled transport with no overall client timeout (the pipeline owns
// cancellation via context) and a bounded response-header timeout so a dead
// upstream doesn't hold a connection open indefinitely.
func newUpstreamClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// flushingWriter wraps http.ResponseWriter so the stream path can flush
// after every write without re-checking the Flusher assertion each time.
type flushingWriter struct {
	http.ResponseWriter
	flusher http.Flusher
}

func newFlushingWriter(w http.ResponseWriter) *flushingWriter {
	f, _ := w.(http.Flusher)
	return &flushingWriter{ResponseWriter: w, flusher: f}
}

func (fw *flushingWriter) Write(b []byte) (int, error) {
	n, err := fw.ResponseWriter.Write(b)
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, err
}
