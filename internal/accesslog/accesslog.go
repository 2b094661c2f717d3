// Package accesslog implements the template-driven HTTP access logger
// (C14): a literal-text-plus-"$token" grammar rendered once per
// request, through a single injected *logrus.Logger.
package accesslog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/localshare/localshare/internal/health"
)

// DefaultTemplate mirrors the field set spec.md §2.1 calls out for
// the access log line.
const DefaultTemplate = "$remote_addr - $remote_user [$request] $status"

// Middleware wraps next, rendering tmpl against each request/response
// pair and logging it through logger at Info, or Error if next's
// response carried a 5xx status.
func Middleware(logger *logrus.Logger, tmpl string) func(http.Handler) http.Handler {
	tokens := parseTemplate(tmpl)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			duration := time.Since(start)
			health.Observe(r.Method, sw.status, duration)

			line := render(tokens, r, sw.status)
			entry := logger.WithFields(logrus.Fields{
				"remote_addr": r.RemoteAddr,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sw.status,
				"duration_ms": duration.Milliseconds(),
				"user":        resolve("remote_user", r, sw.status),
			})
			if sw.status >= 500 {
				entry.Error(line)
			} else {
				entry.Info(line)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

type token struct {
	literal string
	name    string // "" for a literal token
}

// parseTemplate splits tmpl into literal runs and "$name" references.
func parseTemplate(tmpl string) []token {
	var tokens []token
	var lit strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '$' {
			if lit.Len() > 0 {
				tokens = append(tokens, token{literal: lit.String()})
				lit.Reset()
			}
			j := i + 1
			for j < len(tmpl) && isTokenChar(tmpl[j]) {
				j++
			}
			tokens = append(tokens, token{name: tmpl[i+1 : j]})
			i = j
			continue
		}
		lit.WriteByte(tmpl[i])
		i++
	}
	if lit.Len() > 0 {
		tokens = append(tokens, token{literal: lit.String()})
	}
	return tokens
}

func isTokenChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func render(tokens []token, r *http.Request, status int) string {
	var sb strings.Builder
	for _, t := range tokens {
		if t.name == "" {
			sb.WriteString(t.literal)
			continue
		}
		sb.WriteString(resolve(t.name, r, status))
	}
	return sb.String()
}

func resolve(name string, r *http.Request, status int) string {
	switch name {
	case "remote_addr":
		return orDash(r.RemoteAddr)
	case "remote_user":
		if u, _, ok := r.BasicAuth(); ok {
			return orDash(u)
		}
		return "-"
	case "request":
		return r.Method + " " + r.RequestURI
	case "status":
		return strconv.Itoa(status)
	}
	const httpPrefix = "http_"
	if strings.HasPrefix(name, httpPrefix) {
		header := strings.ReplaceAll(strings.TrimPrefix(name, httpPrefix), "_", "-")
		return orDash(r.Header.Get(header))
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
