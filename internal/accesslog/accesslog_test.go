package accesslog

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRendersTemplate(t *testing.T) {
	var buf strings.Builder
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true})

	handler := Middleware(logger, "$remote_user $request -> $status")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPut, "/docs/file.txt", nil)
	req.RequestURI = "/docs/file.txt"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Contains(t, buf.String(), "- PUT /docs/file.txt -> 201")
}

func TestMiddlewareLogsErrorOnServerFailure(t *testing.T) {
	var buf strings.Builder
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.ErrorLevel)

	handler := Middleware(logger, DefaultTemplate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.NotEmpty(t, buf.String(), "expected an error-level log line for a 5xx response")
}

func TestResolveHTTPHeaderToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	require.Equal(t, "203.0.113.5", resolve("http_x_forwarded_for", req, http.StatusOK))
}

func TestResolveMissingHeaderIsDash(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, "-", resolve("http_x_missing", req, http.StatusOK))
}
