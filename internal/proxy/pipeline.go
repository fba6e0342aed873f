// Package proxy orchestrates the full exchange for a single proxied
// request: admission, cache lookup, header synthesis, upstream fetch,
// response classification and rewriting, and response emission, for an
// arbitrary upstream URL rather than a fixed, configured channel.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediaproxy/internal/admission"
	"mediaproxy/internal/buffer"
	"mediaproxy/internal/config"
	"mediaproxy/internal/ctypearbiter"
	"mediaproxy/internal/decompress"
	"mediaproxy/internal/domaintpl"
	"mediaproxy/internal/logger"
	"mediaproxy/internal/metrics"
	"mediaproxy/internal/mimeclass"
	"mediaproxy/internal/playlist"
	"mediaproxy/internal/rcache"
	"mediaproxy/internal/subtitle"
	"mediaproxy/internal/workerpool"
)

var hopByHopHeaders = []string{
	"Connection", "Transfer-Encoding", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailers", "Upgrade",
}

// sniffPeekSize bounds how much of a response body the content-type
// arbiter inspects for a transport-stream sync pattern before the rest is
// streamed or buffered normally.
const sniffPeekSize = 4096

// Pipeline holds every dependency a single exchange needs.
type Pipeline struct {
	cfg     *config.Config
	client  *http.Client
	domains *domaintpl.Registry
	cache   *rcache.Cache
	workers *workerpool.Pool
	metrics *metrics.Registry
	buffers *buffer.Pool
}

// New wires a Pipeline from dependencies the process entry point builds
// (buffer pool, domain registry, cache, worker pool, metrics) and creates
// its own upstream HTTP client.
func New(cfg *config.Config, domains *domaintpl.Registry, cache *rcache.Cache, workers *workerpool.Pool, reg *metrics.Registry, buffers *buffer.Pool) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		client:  newUpstreamClient(),
		domains: domains,
		cache:   cache,
		workers: workers,
		metrics: reg,
		buffers: buffers,
	}
}

// Handle runs the full pipeline for a single admitted-or-not target URL,
// implementing the proxy pipeline's ordered stages.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, rawTargetURL string) {
	start := time.Now()
	p.metrics.RecordRequest(r.Method)

	status, bodyBytes := p.serve(w, r, rawTargetURL, start)
	// status is 0 on a ClientAbort, where no response was written; still
	// closes out the in-flight gauge RecordRequest opened.
	p.metrics.RecordResponse(status, float64(time.Since(start).Milliseconds()), bodyBytes)
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, rawTargetURL string, start time.Time) (int, int64) {
	if r.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent, 0
	}

	// Stage 1: admit.
	res := admission.Admit(rawTargetURL, p.cfg.MaxURLLength, p.cfg.URLAllowlist)
	if !res.Valid {
		n := p.handleError(w, admissionError(rawTargetURL, res.Reason), http.StatusBadRequest)
		return http.StatusBadRequest, n
	}

	target, err := url.Parse(res.URL)
	if err != nil {
		n := p.handleError(w, admissionError(res.URL, "URL does not parse"), http.StatusBadRequest)
		return http.StatusBadRequest, n
	}

	// Stage 2: cache lookup, GET only.
	var cacheKey string
	if p.cfg.CacheEnabled && r.Method == http.MethodGet {
		cacheKey = rcache.Fingerprint(res.URL, r.Header)
		if entry, ok := p.cache.Get(cacheKey); ok {
			p.metrics.RecordCacheHit()
			return p.serveFromCache(w, r, target.String(), entry)
		}
		p.metrics.RecordCacheMiss()
	}

	// Stage 3: synthesize headers.
	headers := p.domains.HeadersFor(target)
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		headers["Range"] = rangeHeader
	}

	// Stage 4: fast-path streaming extensions bypass cache entirely.
	if r.Method == http.MethodGet && p.cfg.EnableStreaming && isFastPathStream(target.String()) {
		return p.streamUpstream(w, r, target, headers)
	}

	// Stage 5: upstream fetch with cancellation tied to the request timeout.
	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.RequestTimeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), nil)
	if err != nil {
		n := p.handleError(w, upstreamError(target.String(), err.Error(), 0), http.StatusBadGateway)
		return http.StatusBadGateway, n
	}
	for k, v := range headers {
		upstreamReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		if ctx.Err() != nil {
			if r.Context().Err() != nil {
				p.metrics.RecordCancellation()
				return 0, 0 // ClientAbort: no response written.
			}
			n := p.handleError(w, upstreamTimeoutError(target.String(), p.cfg.RequestTimeout), http.StatusGatewayTimeout)
			return http.StatusGatewayTimeout, n
		}
		n := p.handleError(w, upstreamError(target.String(), err.Error(), 0), http.StatusBadGateway)
		return http.StatusBadGateway, n
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return p.proxyUpstreamError(w, target.String(), resp)
	}

	// Stage 6: classify and respond.
	return p.respond(w, r, target, headers, cacheKey, resp, start)
}

// isFastPathStream implements the proxy pipeline's stage-4 fast-path
// check: streaming-extension URLs, and disguised segments, go straight to
// the stream path and never touch the cache. Manifests are excluded even
// though ".m3u8" is itself a streaming extension: a playlist body must be
// decompressed and have its nested segment URIs rewritten before it can be
// handed to a client, which only the buffered respond() path does.
func isFastPathStream(targetURL string) bool {
	if mimeclass.IsM3U8(targetURL, "") {
		return false
	}
	return mimeclass.IsStreamingFormat(targetURL) || mimeclass.IsDisguisedSegment(targetURL)
}

func (p *Pipeline) streamUpstream(w http.ResponseWriter, r *http.Request, target *url.URL, headers map[string]string) (int, int64) {
	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.RequestTimeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), nil)
	if err != nil {
		n := p.handleError(w, upstreamError(target.String(), err.Error(), 0), http.StatusBadGateway)
		return http.StatusBadGateway, n
	}
	for k, v := range headers {
		upstreamReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		if ctx.Err() != nil {
			n := p.handleError(w, upstreamTimeoutError(target.String(), p.cfg.RequestTimeout), http.StatusGatewayTimeout)
			return http.StatusGatewayTimeout, n
		}
		n := p.handleError(w, upstreamError(target.String(), err.Error(), 0), http.StatusBadGateway)
		return http.StatusBadGateway, n
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return p.proxyUpstreamError(w, target.String(), resp)
	}

	ct := ctypearbiter.Decide(target.String(), resp.Header.Get("Content-Type"), nil)
	emitResponseHeaders(w, resp, ct, "MISS", true, p.cfg.UseCloudflare)
	w.WriteHeader(resp.StatusCode)

	fw := newFlushingWriter(w)
	buf := p.buffers.Get()
	defer p.buffers.Put(buf)
	if cap(buf.B) < buffer.CopyBufferSize {
		buf.B = make([]byte, buffer.CopyBufferSize)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-r.Context().Done():
			cancel()
		case <-done:
		}
	}()

	written, copyErr := io.CopyBuffer(fw, resp.Body, buf.B[:buffer.CopyBufferSize])
	close(done)
	if copyErr != nil && !errors.Is(copyErr, context.Canceled) {
		logger.Debug("{proxy - streamUpstream} copy interrupted for %s: %v", target.String(), copyErr)
	}
	return resp.StatusCode, written
}

func (p *Pipeline) respond(w http.ResponseWriter, r *http.Request, target *url.URL, headers map[string]string, cacheKey string, resp *http.Response, start time.Time) (int, int64) {
	contentLength := resp.ContentLength
	if p.cfg.EnableStreaming && contentLength > p.cfg.StreamSizeThreshold {
		return p.pipeLargeResponse(w, r, target, resp)
	}

	if resp.StatusCode == http.StatusPartialContent {
		return p.passThrough(w, resp, resp.Header.Get("Content-Type"))
	}

	if mimeclass.IsAudioSegment(target.String(), resp.Header.Get("Content-Type")) {
		return p.passThrough(w, resp, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		n := p.handleError(w, upstreamError(target.String(), err.Error(), 0), http.StatusBadGateway)
		return http.StatusBadGateway, n
	}

	encoding := decompress.ParseEncoding(resp.Header.Get("Content-Encoding"))
	isM3U8 := mimeclass.NeedsM3U8Rewriting(target.String(), resp.Header.Get("Content-Type"))
	isVTT := mimeclass.IsVTT(target.String(), resp.Header.Get("Content-Type"))

	decodedSucceeded := false
	if encoding != decompress.None {
		decoded, usedEnc, ok := p.decode(r.Context(), body, encoding)
		if ok {
			body = decoded
			decodedSucceeded = true
			_ = usedEnc
		} else {
			p.metrics.RecordDecompressionFailure()
			logger.Warn("{proxy - respond} decompression failed for %s, passing bytes through as-is", target.String())
		}
	}

	var contentType string
	switch {
	case isM3U8:
		text := playlist.Rewrite(string(body), playlist.Options{
			ProxyBaseURL: p.cfg.BaseURL,
			TargetURL:    target.String(),
			URLParamName: "url",
		})
		body = []byte(text)
		contentType = "application/vnd.apple.mpegurl"
	case isVTT:
		text := subtitle.Rewrite(string(body), subtitle.Options{
			ProxyBaseURL: p.cfg.BaseURL,
			TargetURL:    target.String(),
			URLParamName: "url",
		})
		body = []byte(text)
		contentType = "text/vtt"
	default:
		peek := body
		if len(peek) > sniffPeekSize {
			peek = peek[:sniffPeekSize]
		}
		contentType = ctypearbiter.Decide(target.String(), resp.Header.Get("Content-Type"), peek)
	}

	emitResponseHeaders(w, resp, contentType, "MISS", false, p.cfg.UseCloudflare)
	if decodedSucceeded {
		w.Header().Del("Content-Encoding")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)

	// Stage 8: store in cache if eligible.
	if cacheKey != "" && resp.StatusCode == http.StatusOK && r.Method == http.MethodGet {
		p.cache.Put(cacheKey, body)
	}

	return resp.StatusCode, int64(len(body))
}

// decode offloads decompression to the worker pool when the body exceeds
// the configured inline threshold, falling back to an inline decode when
// the body is small or the pool's queue is saturated.
func (p *Pipeline) decode(ctx context.Context, body []byte, declared decompress.Encoding) ([]byte, decompress.Encoding, bool) {
	if int64(len(body)) < p.cfg.WorkerOffloadThresholdBytes {
		return decompress.Decompress(body, declared)
	}

	resultCh, err := p.workers.Submit(ctx, body, declared)
	if err != nil {
		if !errors.Is(err, workerpool.ErrSaturated) {
			logger.Debug("{proxy - decode} worker submit failed: %v", err)
		}
		out, enc, ok := decompress.Decompress(body, declared)
		return out, enc, ok
	}
	select {
	case res := <-resultCh:
		if res.Ok {
			p.metrics.RecordWorkerSuccess()
		} else {
			p.metrics.RecordWorkerFailure()
		}
		return res.Bytes, res.Encoding, res.Ok
	case <-ctx.Done():
		return body, decompress.None, false
	}
}

func (p *Pipeline) passThrough(w http.ResponseWriter, resp *http.Response, contentType string) (int, int64) {
	emitResponseHeaders(w, resp, contentType, "MISS", false, p.cfg.UseCloudflare)
	w.WriteHeader(resp.StatusCode)
	buf := p.buffers.Get()
	defer p.buffers.Put(buf)
	if cap(buf.B) < buffer.CopyBufferSize {
		buf.B = make([]byte, buffer.CopyBufferSize)
	}
	written, _ := io.CopyBuffer(w, resp.Body, buf.B[:buffer.CopyBufferSize])
	return resp.StatusCode, written
}

func (p *Pipeline) pipeLargeResponse(w http.ResponseWriter, r *http.Request, target *url.URL, resp *http.Response) (int, int64) {
	contentType := ctypearbiter.Decide(target.String(), resp.Header.Get("Content-Type"), nil)
	emitResponseHeaders(w, resp, contentType, "MISS", true, p.cfg.UseCloudflare)
	w.WriteHeader(resp.StatusCode)

	fw := newFlushingWriter(w)
	buf := p.buffers.Get()
	defer p.buffers.Put(buf)
	if cap(buf.B) < buffer.CopyBufferSize {
		buf.B = make([]byte, buffer.CopyBufferSize)
	}
	written, err := io.CopyBuffer(fw, resp.Body, buf.B[:buffer.CopyBufferSize])
	if err != nil {
		logger.Debug("{proxy - pipeLargeResponse} copy interrupted for %s: %v", target.String(), err)
	}
	return resp.StatusCode, written
}

func (p *Pipeline) serveFromCache(w http.ResponseWriter, r *http.Request, targetURL string, entry rcache.Entry) (int, int64) {
	peek := entry.Body
	if len(peek) > sniffPeekSize {
		peek = peek[:sniffPeekSize]
	}
	contentType := ctypearbiter.Decide(targetURL, "", peek)

	writeCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Cache", "HIT")

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		result := rcache.SliceRange(entry, rangeHeader)
		if result.Partial {
			w.Header().Set("Content-Range", result.ContentRange)
			w.Header().Set("Content-Length", strconv.Itoa(len(result.Body)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(result.Body)
			return http.StatusPartialContent, int64(len(result.Body))
		}
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Body)
	return http.StatusOK, int64(len(entry.Body))
}

func (p *Pipeline) proxyUpstreamError(w http.ResponseWriter, targetURL string, resp *http.Response) (int, int64) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var details any
	if looksLikeJSON(body) {
		details = rawJSON(body)
	} else if len(body) > 0 {
		details = string(body)
	}
	apiErr := APIError{
		Code:    resp.StatusCode,
		Message: "upstream returned an error status",
		URL:     targetURL,
		Details: details,
	}
	n := apiErr.WriteJSON(w, resp.StatusCode)
	return resp.StatusCode, n
}

// handleError writes an error envelope and returns the number of body bytes
// written, so every serve()/streamUpstream() return site can fold it into
// the same (status, bodyBytes) accounting as the success paths.
func (p *Pipeline) handleError(w http.ResponseWriter, err *pipelineError, status int) int64 {
	apiErr := APIError{Code: status, Message: err.Message, URL: err.URL}
	switch err.Kind {
	case KindAdmission:
		apiErr.Usage = "supply a valid http(s) URL via ?url=, an inline path, or /base64/<encoded>"
	}
	return apiErr.WriteJSON(w, status)
}

func looksLikeJSON(b []byte) bool {
	t := strings.TrimSpace(string(b))
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

type rawJSONHolder struct {
	raw string
}

func rawJSON(b []byte) any {
	return rawJSONHolder{raw: string(b)}
}

// MarshalJSON lets a proxied upstream error body round-trip as embedded
// JSON rather than a doubly-escaped string.
func (r rawJSONHolder) MarshalJSON() ([]byte, error) {
	if len(strings.TrimSpace(r.raw)) == 0 {
		return []byte("null"), nil
	}
	return []byte(r.raw), nil
}
