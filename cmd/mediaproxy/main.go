// Command mediaproxy runs the streaming-aware HTTP reverse proxy: it wires
// configuration, the pooled buffer/client/worker/cache layers, the proxy
// pipeline, and the admin surface, then serves everything on a single
// gorilla/mux router.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaproxy/internal/adminapi"
	"mediaproxy/internal/buffer"
	"mediaproxy/internal/config"
	"mediaproxy/internal/domaintpl"
	"mediaproxy/internal/logger"
	"mediaproxy/internal/metrics"
	"mediaproxy/internal/proxy"
	"mediaproxy/internal/rcache"
	"mediaproxy/internal/utils"
	"mediaproxy/internal/workerpool"
)

// Version is set at build time via -ldflags.
var Version = "v0.1.0"

func main() {
	cfg := config.Load()
	logger.SetLogLevel(cfg.LogLevel)

	bufferPool := buffer.New(64 * 1024)

	domains := domaintpl.New()
	cacheInstance := rcache.New(cfg.CacheCapBytes, cfg.CacheEntryCap)

	workerPool, err := workerpool.New(cfg.WorkerThreads, cfg.WorkerQueueSize)
	if err != nil {
		logger.Error("{main} failed to create worker pool: %v", err)
		panic(err)
	}
	defer workerPool.Release()

	metricsRegistry := metrics.New()
	workerPool.OnDepthChange(metricsRegistry.SetQueueDepth)

	pipeline := proxy.New(cfg, domains, cacheInstance, workerPool, metricsRegistry, bufferPool)

	router := mux.NewRouter()

	admin := &adminapi.API{
		Cache:   cacheInstance,
		Workers: workerPool,
		Metrics: metricsRegistry,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
	admin.Register(router)

	router.Handle("/metrics/prom", promhttp.Handler()).Methods("GET")

	pipeline.Register(router)

	addr := ":8080"

	logger.Info("Starting mediaproxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Request Timeout: %s", cfg.RequestTimeout)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Worker Queue Size: %d", cfg.WorkerQueueSize)
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Cap: %s", utils.FormatBytes(cfg.CacheCapBytes))
	logger.Info("  - Stream Size Threshold: %s", utils.FormatBytes(cfg.StreamSizeThreshold))
	logger.Info("  - Streaming Enabled: %v", cfg.EnableStreaming)
	logger.Info("  - Cloudflare Mode: %v", cfg.UseCloudflare)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	if err := http.ListenAndServe(addr, router); err != nil {
		logger.Error("{main} server failed to start: %v", err)
		panic(fmt.Sprintf("server failed to start: %v", err))
	}
}
