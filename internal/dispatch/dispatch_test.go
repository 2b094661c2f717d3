package dispatch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/localshare/localshare/internal/access"
	"github.com/localshare/localshare/internal/auth"
	"github.com/localshare/localshare/internal/config"
)

func testEngine(t *testing.T, root string, ctrl *access.Control) *Engine {
	t.Helper()
	return testEngineWithFeatures(t, root, ctrl, config.Features{
		AllowUpload:  true,
		AllowDelete:  true,
		AllowSearch:  true,
		AllowArchive: true,
		RenderIndex:  true,
	})
}

func testEngineWithFeatures(t *testing.T, root string, ctrl *access.Control, features config.Features) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	cfg := config.New(root, false, "", nil, ctrl, config.CompressionNone, features, "", "", "1")

	lookup := func(user string) (string, bool, bool) {
		u, ok := ctrl.Users[user]
		if !ok {
			return "", false, false
		}
		return u.Credential.Raw, u.Credential.Hashed, true
	}
	authenticator := auth.New(lookup, ctrl.UseHashedPassword)
	return New(cfg, authenticator, logger, func() bool { return true })
}

func TestDispatchGetServesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	ctrl, err := access.Build(nil)
	require.NoError(t, err)
	e := testEngine(t, root, ctrl)
	srv := httptest.NewServer(Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hello.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDispatchRequiresAuthWhenConfigured(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("top secret"), 0o644))

	ctrl, err := access.Build([]string{"alice:wonderland@/:ro"})
	require.NoError(t, err)
	e := testEngine(t, root, ctrl)
	srv := httptest.NewServer(Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/secret.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/secret.txt", nil)
	req.SetBasicAuth("alice", "wonderland")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestDispatchTraversalToDeepGrantIsBrowsable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir1", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dir1", "sub", "f.txt"), []byte("x"), 0o644))

	ctrl, err := access.Build([]string{"alice:x@/dir1/sub:rw"})
	require.NoError(t, err)
	e := testEngine(t, root, ctrl)
	srv := httptest.NewServer(Router(e))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/dir1", nil)
	req.SetBasicAuth("alice", "x")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "an ancestor of a real grant must be browsable")
}

func TestDispatchEditReturnsEditorPage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	ctrl, err := access.Build(nil)
	require.NoError(t, err)
	e := testEngine(t, root, ctrl)
	srv := httptest.NewServer(Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hello.txt?edit")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestDispatchRenderTryIndexServesLocalIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "index.html"), []byte("<h1>app</h1>"), 0o644))

	ctrl, err := access.Build(nil)
	require.NoError(t, err)
	e := testEngineWithFeatures(t, root, ctrl, config.Features{RenderIndex: true, RenderTryIndex: true})
	srv := httptest.NewServer(Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app/missing-route")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "<h1>app</h1>", string(body))
}

func TestDispatchHealthBypassesAuth(t *testing.T) {
	root := t.TempDir()
	ctrl, err := access.Build([]string{"alice:wonderland@/:ro"})
	require.NoError(t, err)
	e := testEngine(t, root, ctrl)
	srv := httptest.NewServer(Router(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/__dufs__/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
