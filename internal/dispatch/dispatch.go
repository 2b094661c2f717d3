// Package dispatch implements the method dispatcher (C5): the glue
// that resolves a path, guards it, and routes to the component that
// serves each method, in the order spec.md §4.5 mandates.
package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/localshare/localshare/internal/access"
	"github.com/localshare/localshare/internal/accesslog"
	"github.com/localshare/localshare/internal/archive"
	"github.com/localshare/localshare/internal/auth"
	"github.com/localshare/localshare/internal/conditional"
	"github.com/localshare/localshare/internal/config"
	"github.com/localshare/localshare/internal/health"
	"github.com/localshare/localshare/internal/hidden"
	"github.com/localshare/localshare/internal/listing"
	"github.com/localshare/localshare/internal/pathresolve"
	"github.com/localshare/localshare/internal/render"
	"github.com/localshare/localshare/internal/sniff"
	"github.com/localshare/localshare/internal/upload"
	"github.com/localshare/localshare/internal/webdavsurface"
)

// webdavMethods are delegated straight to the x/net/webdav handler
// once the engine has guarded them the same way every other method is
// guarded.
var webdavMethods = map[string]bool{
	"PROPFIND": true, "PROPPATCH": true, "MKCOL": true,
	"COPY": true, "MOVE": true, "LOCK": true, "UNLOCK": true,
}

// Engine holds everything the dispatcher needs to serve one
// configured tree: the immutable config, the authenticator built from
// its access-control rules, the compiled hide-patterns, the logger,
// and a shared cancellation flag for search/archive. The WebDAV
// handler is built per request (webdavFor).
type Engine struct {
	Cfg     *config.Config
	Auth    *auth.Authenticator
	Hidden  []hidden.Pattern
	Logger  *logrus.Logger
	Running func() bool
}

// New builds an Engine; Router wraps it in the HTTP mux.
func New(cfg *config.Config, authenticator *auth.Authenticator, logger *logrus.Logger, running func() bool) *Engine {
	return &Engine{
		Cfg:     cfg,
		Auth:    authenticator,
		Hidden:  hidden.Compile(cfg.HidePatterns),
		Logger:  logger,
		Running: running,
	}
}

func normalizedPrefix(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return "/" + strings.Trim(prefix, "/") + "/"
}

// Router builds the chi mux: internal routes bypass auth entirely,
// everything else funnels through the Engine, and CORS wraps the
// whole thing when enabled.
func Router(e *Engine) http.Handler {
	r := chi.NewRouter()
	r.Get(health.HealthPath, health.Check)
	r.Get(health.MetricsPath, health.Metrics().ServeHTTP)
	r.Get("/__dufs_v{version}__/*", health.Serve(e.Cfg.AssetsOverrideDir))
	r.Handle("/*", e)

	var handler http.Handler = r
	if e.Cfg.Features.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowCredentials: true,
			AllowedMethods: []string{
				"GET", "HEAD", "PUT", "PATCH", "DELETE", "OPTIONS",
				"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
				"CHECKAUTH", "LOGOUT",
			},
			AllowedHeaders: []string{"Authorization", "*"},
			ExposedHeaders: []string{"Authorization"},
		})
		handler = c.Handler(r)
	}
	return accesslog.Middleware(e.Logger, e.Cfg.LogFormatTemplate)(handler)
}

// ServeHTTP implements spec.md §4.5's dispatcher steps 1 and 3-7. Step
// 2 is handled by the sibling routes mounted in Router, and Router
// also applies CORS and access logging; no Connection: close header
// is added for Microsoft WebDAV clients.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resolved, err := pathresolve.Resolve(r.URL.Path, e.Cfg.URIPrefix, e.Cfg.ServeRoot)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	method := strings.ToUpper(r.Method)

	if method == "CHECKAUTH" {
		e.handleCheckAuth(w, r)
		return
	}
	if method == "LOGOUT" {
		e.Auth.WriteChallenges(w, false)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	authHeader := r.Header.Get("Authorization")
	guardResult := e.guard(resolved.RelPath, method, authHeader, method == "OPTIONS")
	if guardResult.forbidden {
		e.Auth.WriteChallenges(w, false)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if guardResult.tree.Guard(resolved.RelPath, method).Perm == access.PermNone {
		if !guardResult.hasUser {
			e.Auth.WriteChallenges(w, false)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, statErr := os.Stat(resolved.FSPath)
	isMissing := statErr != nil
	isDir := !isMissing && info.IsDir()

	if !e.Cfg.Features.AllowSymlink && !isMissing {
		if lstat, lerr := os.Lstat(resolved.FSPath); lerr == nil && lstat.Mode()&os.ModeSymlink != 0 {
			if !rootContained(e.Cfg.ServeRoot, resolved.FSPath) {
				http.NotFound(w, r)
				return
			}
		}
	}

	if webdavMethods[method] {
		e.webdavFor(e.upgradeIndexOnlyPropfind(guardResult.tree, resolved.RelPath, method, authHeader)).ServeHTTP(w, r)
		return
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		e.handleGet(w, r, resolved, guardResult, isMissing, isDir, info)
	case http.MethodPut:
		e.handlePut(w, r, resolved, isMissing, isDir)
	case http.MethodPatch:
		e.handlePatch(w, r, resolved, isMissing, isDir)
	case http.MethodDelete:
		e.handleDelete(w, r, resolved, isMissing)
	case http.MethodOptions:
		w.Header().Set("Allow", "GET,HEAD,PUT,OPTIONS,DELETE,PATCH,PROPFIND,COPY,MOVE,CHECKAUTH,LOGOUT")
		w.Header().Set("DAV", "1, 2, 3")
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// upgradeIndexOnlyPropfind implements the spec.md §4.9 special case:
// an unauthenticated PROPFIND against an IndexOnly resource still
// gets ReadOnly treatment for that one response, so an anonymous
// client can retrieve properties instead of only a name listing.
func (e *Engine) upgradeIndexOnlyPropfind(tree *access.Tree, relPath, method, authHeader string) *access.Tree {
	if method != "PROPFIND" || authHeader != "" {
		return tree
	}
	if tree.Guard(relPath, method).Perm != access.PermIndexOnly {
		return tree
	}
	return tree.SubtreeAt(relPath, access.PermReadOnly)
}

func (e *Engine) webdavFor(tree *access.Tree) http.Handler {
	return webdavsurface.New(normalizedPrefix(e.Cfg.URIPrefix), tree, webdavsurface.Deps{
		Root:        e.Cfg.ServeRoot,
		AllowUpload: e.Cfg.Features.AllowUpload,
		AllowDelete: e.Cfg.Features.AllowDelete,
		Hidden:      e.Hidden,
	})
}

type guardOutcome struct {
	tree      *access.Tree
	user      string
	hasUser   bool
	forbidden bool
}

func (e *Engine) guard(relPath, method, authHeader string, isOptions bool) guardOutcome {
	if e.Cfg.Access.Empty() {
		full := access.New()
		full.SetPerm("", access.PermReadWrite)
		return guardOutcome{tree: full}
	}
	present := authHeader != ""
	var user string
	var ok bool
	if present {
		user, ok = e.Auth.Verify(authHeader, method)
	}
	res := e.Cfg.Access.Guard(relPath, method, user, ok, present, access.GuardOptions{IsOptionsDiscovery: isOptions})
	if res.Forbidden {
		return guardOutcome{forbidden: true}
	}
	tree := res.Tree
	if tree == nil {
		tree = access.NoAccess()
	}
	return guardOutcome{tree: tree, user: res.User, hasUser: res.HasUser}
}

func (e *Engine) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		e.Auth.WriteChallenges(w, false)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, ok := e.Auth.Verify(authHeader, r.Method)
	if !ok {
		e.Auth.WriteChallenges(w, false)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	_, _ = io.WriteString(w, user)
}

func rootContained(root, fsPath string) bool {
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	canonPath, err := filepath.EvalSymlinks(fsPath)
	if err != nil {
		return false
	}
	return canonPath == canonRoot || strings.HasPrefix(canonPath, canonRoot+string(filepath.Separator))
}

func (e *Engine) listingDeps() listing.Deps {
	return listing.Deps{
		AllowSymlink: e.Cfg.Features.AllowSymlink,
		Hidden:       e.Hidden,
		Running:      e.Running,
	}
}

func (e *Engine) rootContainedCheck(fsPath string) bool {
	return rootContained(e.Cfg.ServeRoot, fsPath)
}

func (e *Engine) handleGet(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, gr guardOutcome, isMissing, isDir bool, info os.FileInfo) {
	q := r.URL.Query()

	if isMissing {
		if e.Cfg.Features.RenderTryIndex && e.serveTryIndex(w, r, resolved.FSPath) {
			return
		}
		if e.Cfg.Features.RenderSPA {
			e.serveSPAFallback(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	if isDir {
		e.handleDirectory(w, r, resolved, gr, q)
		return
	}

	if _, ok := q["zip"]; ok {
		e.handleZipSingleFile(w, r, resolved, info)
		return
	}
	if _, ok := q["hash"]; ok {
		e.handleHash(w, resolved.FSPath)
		return
	}
	if _, ok := q["edit"]; ok {
		e.handleEditOrView(w, r, resolved, gr, render.KindEdit, info)
		return
	}
	if _, ok := q["view"]; ok {
		e.handleEditOrView(w, r, resolved, gr, render.KindView, info)
		return
	}

	e.serveFile(w, r, resolved.FSPath, info)
}

// handleEditOrView renders the browser UI's single-file edit/view
// page (spec.md §4.13 Render.Editor): a small JSON payload describing
// whether the file is small and text-like enough to edit in place,
// embedded in the same HTML shell the directory index uses.
func (e *Engine) handleEditOrView(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, gr guardOutcome, kind render.Kind, info os.FileInfo) {
	f, err := os.Open(resolved.FSPath)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	result, _ := sniff.Detect(io.LimitReader(f, sniff.SniffLen), filepath.Base(resolved.FSPath))
	f.Close()

	payload := render.NewEditPayload(kind, r.URL.Path, e.Cfg.URIPrefix, gr.hasUser, gr.user, info.Size(), result.IsText)
	page, err := render.Page(health.AssetPrefix(e.Cfg.Version), payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

// serveTryIndex implements render_try_index: a missing path whose
// containing directory holds an index.html serves that file instead
// of 404ing, without falling all the way back to the SPA's root
// index.html (that's RenderSPA's job).
func (e *Engine) serveTryIndex(w http.ResponseWriter, r *http.Request, missingFSPath string) bool {
	indexPath := filepath.Join(filepath.Dir(missingFSPath), "index.html")
	info, err := os.Stat(indexPath)
	if err != nil || info.IsDir() {
		return false
	}
	e.serveFile(w, r, indexPath, info)
	return true
}

func (e *Engine) serveSPAFallback(w http.ResponseWriter, r *http.Request) {
	indexPath := filepath.Join(e.Cfg.ServeRoot, "index.html")
	info, err := os.Stat(indexPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	e.serveFile(w, r, indexPath, info)
}

func (e *Engine) serveFile(w http.ResponseWriter, r *http.Request, fsPath string, info os.FileInfo) {
	f, err := os.Open(fsPath)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	etag := conditional.ETag(info.ModTime().UnixMilli(), info.Size())
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", conditional.LastModified(info.ModTime()))
	w.Header().Set("Accept-Ranges", "bytes")

	switch conditional.Evaluate(r.Header, etag, info.ModTime()) {
	case conditional.OutcomePreconditionFailed:
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	case conditional.OutcomeNotModified:
		w.WriteHeader(http.StatusNotModified)
		return
	}

	result, _ := sniff.Detect(io.LimitReader(f, sniff.SniffLen), filepath.Base(fsPath))
	_, _ = f.Seek(0, io.SeekStart)
	w.Header().Set("Content-Type", result.ContentType)

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && conditional.RangeAllowed(r.Header, etag, info.ModTime()) {
		spans, err := conditional.ParseRange(rangeHeader, info.Size())
		if err != nil {
			if err == conditional.ErrUnsatisfiable {
				conditional.ServeUnsatisfiable(w, info.Size())
				return
			}
		} else if len(spans) == 1 {
			_ = conditional.ServeSingle(w, f, spans[0], info.Size(), result.ContentType)
			return
		} else if len(spans) > 1 {
			_ = conditional.ServeMulti(w, f, spans, info.Size(), result.ContentType)
			return
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = io.Copy(w, f)
}

func (e *Engine) handleHash(w http.ResponseWriter, fsPath string) {
	f, err := os.Open(fsPath)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	_, _ = io.WriteString(w, hex.EncodeToString(h.Sum(nil)))
}

func (e *Engine) handleZipSingleFile(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, info os.FileInfo) {
	if !e.Cfg.Features.AllowArchive {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	e.streamZip(w, r, resolved)
}

func (e *Engine) streamZip(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved) {
	name := filepath.Base(resolved.FSPath)
	if name == "." || name == string(filepath.Separator) {
		name = "archive"
	}
	setZipContentDisposition(w, name+".zip")
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)

	tree := access.New()
	tree.SetPerm("", access.PermReadOnly)
	d := archive.Deps{
		Compress:      e.Cfg.Compress,
		AllowSymlink:  e.Cfg.Features.AllowSymlink,
		Hidden:        e.Hidden,
		Running:       e.Running,
		RootContained: e.rootContainedCheck,
	}
	if err := archive.Stream(r.Context(), w, resolved.FSPath, "", tree, d); err != nil {
		e.Logger.WithError(err).Warn("archive stream ended early")
	}
}

func setZipContentDisposition(w http.ResponseWriter, filename string) {
	if isASCII(filename) {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(filename)))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func (e *Engine) handleDirectory(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, gr guardOutcome, q url.Values) {
	if _, ok := q["zip"]; ok {
		if !e.Cfg.Features.AllowArchive {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		e.streamZip(w, r, resolved)
		return
	}

	var items []listing.Item
	var err error
	if substr, ok := q["q"]; ok && e.Cfg.Features.AllowSearch {
		entryPaths := gr.tree.EntryPaths()
		items, err = listing.Search(r.Context(), e.Cfg.ServeRoot, entryPaths, substr[0], e.listingDeps(), e.rootContainedCheck)
	} else {
		items, err = listing.Enumerate(resolved.FSPath, resolved.RelPath, gr.tree, e.listingDeps(), e.rootContainedCheck)
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sortBy := firstOr(q, "sort", "name")
	order := firstOr(q, "order", "asc")
	listing.Sort(items, sortBy, order)

	if _, ok := q["simple"]; ok {
		var sb strings.Builder
		for _, it := range items {
			sb.WriteString(it.Name)
			if it.IsDir() {
				sb.WriteString("/\n")
				continue
			}
			sb.WriteString("\t")
			sb.WriteString(humanize.Bytes(uint64(it.SizeOrCount)))
			sb.WriteString("\n")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, sb.String())
		return
	}

	payload := render.NewIndexPayload(
		r.URL.Path, e.Cfg.URIPrefix,
		e.Cfg.Features.AllowUpload, e.Cfg.Features.AllowDelete,
		e.Cfg.Features.AllowSearch, e.Cfg.Features.AllowArchive,
		true, gr.hasUser, gr.user, items,
	)

	if _, ok := q["json"]; ok {
		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, payload)
		return
	}

	if !e.Cfg.Features.RenderIndex {
		http.NotFound(w, r)
		return
	}
	page, err := render.Page(health.AssetPrefix(e.Cfg.Version), payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

func firstOr(q url.Values, key, def string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func (e *Engine) handlePut(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, isMissing, isDir bool) {
	_, hasHint := r.Header["X-Update-Range"]
	err := upload.Put(resolved.FSPath, r.Body, e.Cfg.Features.AllowUpload, e.Cfg.Features.AllowDelete, hasHint)
	switch err {
	case nil:
		w.WriteHeader(http.StatusCreated)
	case upload.ErrIsDirectory, upload.ErrForbidden:
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (e *Engine) handlePatch(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, isMissing, isDir bool) {
	header := r.Header.Get("X-Update-Range")
	if header == "" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ur, err := upload.ParseUpdateRange(header)
	if err != nil {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err = upload.Patch(resolved.FSPath, r.Body, ur, e.Cfg.Features.AllowDelete)
	switch err {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case upload.ErrNotFound:
		http.NotFound(w, r)
	case upload.ErrForbidden, upload.ErrIsDirectory:
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (e *Engine) handleDelete(w http.ResponseWriter, r *http.Request, resolved pathresolve.Resolved, isMissing bool) {
	if !e.Cfg.Features.AllowDelete {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if isMissing {
		http.NotFound(w, r)
		return
	}
	if err := os.RemoveAll(resolved.FSPath); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
