// Package adminapi exposes the operational surface around the proxy:
// process status, cache and worker telemetry, and a debug probe, following
// the same setupAdminRoutes/corsMiddleware/handleGetStats structure as a
// plain-JSON admin surface, reporting media-cache and worker-pool state.
package adminapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"mediaproxy/internal/metrics"
	"mediaproxy/internal/rcache"
	"mediaproxy/internal/utils"
	"mediaproxy/internal/workerpool"
)

// version is set at build time via -ldflags; left as a constant default so
// a plain build still reports something sensible.
var version = "dev"

// startTime records process start for uptime reporting.
var startTime = time.Now()

// API bundles the handlers' dependencies.
type API struct {
	Cache   *rcache.Cache
	Workers *workerpool.Pool
	Metrics *metrics.Registry
	Client  *http.Client
}

// Register attaches every admin route to router, wrapping each in CORS
// handling via the shared cors wrapper, same as every other route here.
func (a *API) Register(router *mux.Router) {
	router.HandleFunc("/status", cors(a.handleStatus)).Methods("GET", "OPTIONS")
	router.HandleFunc("/cache/stats", cors(a.handleCacheStats)).Methods("GET", "OPTIONS")
	router.HandleFunc("/cache/clear", cors(a.handleCacheClear)).Methods("POST", "OPTIONS")
	router.HandleFunc("/workers/stats", cors(a.handleWorkerStats)).Methods("GET", "OPTIONS")
	router.HandleFunc("/metrics", cors(a.handleMetrics)).Methods("GET", "OPTIONS")
	router.HandleFunc("/metrics/reset", cors(a.handleMetricsReset)).Methods("POST", "OPTIONS")
	router.HandleFunc("/debug", cors(a.handleDebug)).Methods("GET", "OPTIONS")
}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
	Memory      string `json:"memory"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "ok",
		Version:     version,
		Uptime:      formatDuration(time.Since(startTime)),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: runtime.GOOS + "/" + runtime.GOARCH,
		Memory:      utils.FormatBytes(int64(m.Alloc)),
	})
}

func (a *API) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Cache.Stats())
}

func (a *API) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	a.Cache.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (a *API) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Workers.Stats())
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Metrics.Snapshot())
}

func (a *API) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	a.Metrics.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

type debugResponse struct {
	URL        string            `json:"url"`
	Reachable  bool              `json:"reachable"`
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// handleDebug HEAD-probes the requested upstream and reports what it found.
func (a *API) handleDebug(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, debugResponse{Error: "missing url query parameter"})
		return
	}

	resp := debugResponse{URL: target}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodHead, target, nil)
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	httpResp, err := a.Client.Do(req)
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	defer httpResp.Body.Close()

	resp.Reachable = true
	resp.StatusCode = httpResp.StatusCode
	resp.Headers = make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		resp.Headers[k] = httpResp.Header.Get(k)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// formatDuration renders a duration as "XdXhXmXs", trimming leading
// zero-valued components.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh%dm%ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
