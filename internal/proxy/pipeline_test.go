package proxy

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"mediaproxy/internal/buffer"
	"mediaproxy/internal/config"
	"mediaproxy/internal/domaintpl"
	"mediaproxy/internal/metrics"
	"mediaproxy/internal/rcache"
	"mediaproxy/internal/workerpool"
)

// A single Pipeline is shared across every subtest since metrics.New()
// registers Prometheus collectors globally and a second Registry in the
// same process would panic on duplicate registration.
func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	workers, err := workerpool.New(2, 16)
	if err != nil {
		t.Fatalf("workerpool.New() error = %v", err)
	}
	t.Cleanup(workers.Release)

	cfg := &config.Config{
		BaseURL:                     "https://proxy.example.com",
		RequestTimeout:              5 * time.Second,
		MaxURLLength:                2048,
		CacheEnabled:                true,
		CacheCapBytes:               1 << 20,
		WorkerThreads:               2,
		WorkerQueueSize:             16,
		WorkerOffloadThresholdBytes: 1 << 20, // keep small test bodies on the inline path
		StreamSizeThreshold:         1 << 20,
		EnableStreaming:             true,
	}

	return New(cfg, domaintpl.New(), rcache.New(cfg.CacheCapBytes, cfg.CacheEntryCap), workers, metrics.New(), buffer.New(64*1024))
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := newTestPipeline(t)

	t.Run("PlainPassThrough", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("raw video bytes"))
		}))
		defer upstream.Close()

		req := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(upstream.URL+"/video.mp4"), nil)
		rec := httptest.NewRecorder()
		p.Handle(rec, req, upstream.URL+"/video.mp4")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != "raw video bytes" {
			t.Errorf("body = %q, want the upstream bytes unchanged", rec.Body.String())
		}
	})

	t.Run("GzipResponseDecompressedInline", func(t *testing.T) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, _ = gw.Write([]byte(`{"hello":"world"}`))
		_ = gw.Close()

		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(buf.Bytes())
		}))
		defer upstream.Close()

		target := upstream.URL + "/data.json"
		req := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(target), nil)
		rec := httptest.NewRecorder()
		p.Handle(rec, req, target)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != `{"hello":"world"}` {
			t.Errorf("body = %q, want the decompressed JSON", rec.Body.String())
		}
		if rec.Header().Get("Content-Encoding") != "" {
			t.Errorf("Content-Encoding = %q, want stripped after successful decompression", rec.Header().Get("Content-Encoding"))
		}
	})

	t.Run("M3U8RewrittenWithProxiedSegmentURLs", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:10,\nsegment0.ts\n"))
		}))
		defer upstream.Close()

		target := upstream.URL + "/index.m3u8"
		req := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(target), nil)
		rec := httptest.NewRecorder()
		p.Handle(rec, req, target)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !bytes.Contains(rec.Body.Bytes(), []byte("https://proxy.example.com?url=")) {
			t.Errorf("body = %q, want a rewritten segment URL", rec.Body.String())
		}
	})

	t.Run("AdmissionRejectsInvalidURL", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?url=", nil)
		rec := httptest.NewRecorder()
		p.Handle(rec, req, "")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response body is not JSON: %v", err)
		}
		if _, ok := body["error"]; !ok {
			t.Errorf("body = %v, want an error envelope", body)
		}
	})

	t.Run("UpstreamErrorStatusPropagated", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not found"))
		}))
		defer upstream.Close()

		target := upstream.URL + "/missing.ts"
		req := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(target), nil)
		rec := httptest.NewRecorder()
		p.Handle(rec, req, target)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404 propagated from upstream", rec.Code)
		}
	})

	t.Run("SecondRequestServedFromCache", func(t *testing.T) {
		hits := 0
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("cacheable body"))
		}))
		defer upstream.Close()

		target := upstream.URL + "/cacheme.txt"

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(target), nil)
			rec := httptest.NewRecorder()
			p.Handle(rec, req, target)
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
			}
		}

		if hits != 1 {
			t.Errorf("upstream was hit %d times, want exactly 1 (second request should be served from cache)", hits)
		}
	})

	t.Run("OptionsRequestShortCircuitsWithCORS", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/?url=x", nil)
		rec := httptest.NewRecorder()
		p.Handle(rec, req, "x")

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing CORS header on OPTIONS short-circuit")
		}
	})

	t.Run("CachedRangeRequestServesPartialContent", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("0123456789"))
		}))
		defer upstream.Close()

		target := upstream.URL + "/range-test.txt"

		warm := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(target), nil)
		p.Handle(httptest.NewRecorder(), warm, target)

		ranged := httptest.NewRequest(http.MethodGet, "/?url="+url.QueryEscape(target), nil)
		ranged.Header.Set("Range", "bytes=2-5")
		rec := httptest.NewRecorder()
		p.Handle(rec, ranged, target)

		if rec.Code != http.StatusPartialContent {
			t.Fatalf("status = %d, want 206 for a cached Range request", rec.Code)
		}
		if rec.Body.String() != "2345" {
			t.Errorf("body = %q, want %q", rec.Body.String(), "2345")
		}
		if rec.Header().Get("Content-Length") != strconv.Itoa(4) {
			t.Errorf("Content-Length = %q, want 4", rec.Header().Get("Content-Length"))
		}
	})
}
