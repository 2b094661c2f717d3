// Package health serves the unauthenticated liveness probe, the
// versioned built-in asset endpoint, and the request-count/duration
// metrics sibling endpoint (C13).
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localshare/localshare/internal/assets"
)

// HealthPath is the fixed, auth-bypassing liveness probe route.
const HealthPath = "/__dufs__/health"

// MetricsPath is the fixed, auth-bypassing Prometheus scrape route.
const MetricsPath = "/__dufs__/metrics"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dufs_http_requests_total",
		Help: "Total HTTP requests handled, by method and status class.",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dufs_http_request_duration_seconds",
		Help:    "HTTP request handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Observe records one completed request's method, status, and
// duration against the package's Prometheus collectors. The access
// log middleware calls this once per request alongside writing its
// log line, since both need the same status/duration pair.
func Observe(method string, status int, d time.Duration) {
	requestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// Metrics exposes the process's collectors in the Prometheus text
// exposition format.
func Metrics() http.Handler {
	return promhttp.Handler()
}

// Check writes the {"status":"OK"} body health probes expect.
func Check(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
}

// AssetPrefix builds the "/__dufs_v{version}__/" mount point; any
// version string serves the current asset table (spec.md §5).
func AssetPrefix(version string) string {
	return "/__dufs_v" + version + "__/"
}

// IsAssetPath reports whether p matches the "/__dufs_v*__/" shape,
// returning the requested asset name.
func IsAssetPath(p string) (name string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	if !strings.HasPrefix(p, "__dufs_v") {
		return "", false
	}
	idx := strings.Index(p, "__/")
	if idx < 0 {
		return "", false
	}
	return p[idx+3:], true
}

// Serve writes a built-in or override-directory asset with long-lived
// caching headers.
func Serve(overrideDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := IsAssetPath(r.URL.Path)
		if !ok || name == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")

		if overrideDir != "" {
			full := filepath.Join(overrideDir, filepath.FromSlash(name))
			if f, err := os.Open(full); err == nil {
				defer f.Close()
				info, err := f.Stat()
				if err == nil && !info.IsDir() {
					http.ServeContent(w, r, name, info.ModTime(), f)
					return
				}
			}
		}

		data, contentType, ok := assets.Lookup(name)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}
