package health

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, HealthPath, nil)
	w := httptest.NewRecorder()
	Check(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `{"status":"OK"}`+"\n", w.Body.String())
}

func TestIsAssetPath(t *testing.T) {
	name, ok := IsAssetPath("/__dufs_v3__/index.js")
	require.True(t, ok)
	require.Equal(t, "index.js", name)

	_, ok = IsAssetPath("/not-an-asset")
	require.False(t, ok)
}

func TestAssetPrefixAnyVersion(t *testing.T) {
	require.Equal(t, "/__dufs_v42__/", AssetPrefix("42"))
}

func TestServeEmbeddedAsset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/__dufs_v1__/index.js", nil)
	w := httptest.NewRecorder()
	Serve("")(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.Bytes())
}

func TestObserveIncrementsMetricsEndpoint(t *testing.T) {
	Observe(http.MethodGet, http.StatusOK, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, MetricsPath, nil)
	w := httptest.NewRecorder()
	Metrics().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "dufs_http_requests_total")
}

func TestServePrefersOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("overridden"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/__dufs_v1__/index.js", nil)
	w := httptest.NewRecorder()
	Serve(dir)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "overridden", w.Body.String())
}
