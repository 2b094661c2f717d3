// Package webdavsurface adapts the access-tree-guarded filesystem to
// golang.org/x/net/webdav's Handler, giving class 1/2/3 WebDAV verbs
// (PROPFIND, PROPPATCH, MKCOL, COPY, MOVE, LOCK, UNLOCK) the same
// guard and visibility rules as the plain HTTP surface (C9).
package webdavsurface

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/localshare/localshare/internal/access"
	"github.com/localshare/localshare/internal/conditional"
	"github.com/localshare/localshare/internal/hidden"
)

// FileSystem implements webdav.FileSystem over a serve root, filtering
// every operation through an access.Tree the same way the plain HTTP
// handlers do: a path the tree hides behaves as if it does not exist.
type FileSystem struct {
	Root         string
	Tree         *access.Tree
	AllowUpload  bool
	AllowDelete  bool
	Hidden       []hidden.Pattern
}

func (fs *FileSystem) relFS(name string) (rel, fsPath string, ok bool) {
	rel = strings.Trim(filepath.ToSlash(name), "/")
	fsPath = filepath.Join(fs.Root, filepath.FromSlash(rel))
	return rel, fsPath, true
}

func (fs *FileSystem) guard(rel, method string) bool {
	return fs.Tree.Guard(rel, method).Perm != access.PermNone
}

func (fs *FileSystem) hiddenName(rel string, isDir bool) bool {
	return hidden.IsHidden(fs.Hidden, filepath.Base(rel), isDir)
}

// Mkdir implements webdav.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if !fs.AllowUpload {
		return os.ErrPermission
	}
	rel, fsPath, _ := fs.relFS(name)
	if !fs.guard(rel, "MKCOL") {
		return os.ErrPermission
	}
	return os.Mkdir(fsPath, 0o755)
}

// OpenFile implements webdav.FileSystem.
func (fs *FileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	rel, fsPath, _ := fs.relFS(name)
	write := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	method := "GET"
	if write {
		method = "PUT"
		if !fs.AllowUpload {
			return nil, os.ErrPermission
		}
	}
	if !fs.guard(rel, method) {
		return nil, os.ErrPermission
	}
	if info, err := os.Stat(fsPath); err == nil && fs.hiddenName(rel, info.IsDir()) {
		return nil, os.ErrNotExist
	}
	f, err := os.OpenFile(fsPath, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &file{File: f, rel: rel, fs: fs}, nil
}

// RemoveAll implements webdav.FileSystem.
func (fs *FileSystem) RemoveAll(ctx context.Context, name string) error {
	if !fs.AllowDelete {
		return os.ErrPermission
	}
	rel, fsPath, _ := fs.relFS(name)
	if !fs.guard(rel, "DELETE") {
		return os.ErrPermission
	}
	return os.RemoveAll(fsPath)
}

// Rename implements webdav.FileSystem (backs MOVE; the handler serves
// COPY through OpenFile/Mkdir instead).
func (fs *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	if !fs.AllowUpload || !fs.AllowDelete {
		return os.ErrPermission
	}
	oldRel, oldFS, _ := fs.relFS(oldName)
	newRel, newFS, _ := fs.relFS(newName)
	if !fs.guard(oldRel, "DELETE") || !fs.guard(newRel, "PUT") {
		return os.ErrPermission
	}
	if err := os.MkdirAll(filepath.Dir(newFS), 0o755); err != nil {
		return err
	}
	return os.Rename(oldFS, newFS)
}

// Stat implements webdav.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	rel, fsPath, _ := fs.relFS(name)
	if !fs.guard(rel, "GET") {
		return nil, os.ErrNotExist
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, err
	}
	if fs.hiddenName(rel, info.IsDir()) {
		return nil, os.ErrNotExist
	}
	return fileInfo{info}, nil
}

// file wraps *os.File as a webdav.File; everything but Readdir passes
// straight through.
type file struct {
	*os.File
	rel string
	fs  *FileSystem
}

// Readdir filters out entries the access tree doesn't cover and any
// name matching a hide-pattern, the same visibility rule the plain
// HTTP directory listing applies (spec.md §4.9).
func (f *file) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	if err != nil {
		return nil, err
	}
	out := make([]os.FileInfo, 0, len(infos))
	for _, info := range infos {
		childRel := joinRel(f.rel, info.Name())
		if f.fs != nil {
			if !f.fs.guard(childRel, "GET") {
				continue
			}
			if f.fs.hiddenName(childRel, info.IsDir()) {
				continue
			}
		}
		out = append(out, fileInfo{info})
	}
	return out, nil
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

// fileInfo wraps os.FileInfo to additionally implement webdav.ETager
// and webdav.ContentTyper.
type fileInfo struct{ os.FileInfo }

// ETag implements webdav.ETager with the same strong validator the
// plain HTTP GET path serves (C4).
func (fi fileInfo) ETag(ctx context.Context) (string, error) {
	if fi.IsDir() {
		return "", webdav.ErrNotImplemented
	}
	return conditional.ETag(fi.ModTime().UnixMilli(), fi.Size()), nil
}

// ContentType implements webdav.ContentTyper by returning
// ErrNotImplemented, so the handler derives the type itself (extension
// table first, then a sniff of the file's first bytes).
func (fi fileInfo) ContentType(ctx context.Context) (string, error) {
	return "", webdav.ErrNotImplemented
}

// Deps bundles what New needs beyond the filesystem root.
type Deps struct {
	Root         string
	AllowUpload  bool
	AllowDelete  bool
	Hidden       []hidden.Pattern
}

// handler wraps golang.org/x/net/webdav's generic Handler to reject
// COPY of a directory (spec.md §4.9: depth-infinity copies are not
// supported), a case the stock Handler would otherwise happily
// recurse through via repeated Mkdir/OpenFile calls.
type handler struct {
	prefix string
	fs     *FileSystem
	dav    *webdav.Handler
}

// New builds a webdav.Handler scoped to tree, using an in-memory lock
// table (spec.md does not require locks to survive a restart).
func New(prefix string, tree *access.Tree, d Deps) http.Handler {
	fs := &FileSystem{
		Root:        d.Root,
		Tree:        tree,
		AllowUpload: d.AllowUpload,
		AllowDelete: d.AllowDelete,
		Hidden:      d.Hidden,
	}
	return &handler{
		prefix: prefix,
		fs:     fs,
		dav: &webdav.Handler{
			Prefix:     prefix,
			FileSystem: fs,
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				_ = r
				_ = err
			},
		},
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == "COPY" {
		if name, ok := stripPrefix(r.URL.Path, h.prefix); ok {
			if info, err := h.fs.Stat(r.Context(), name); err == nil && info.IsDir() {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
	}
	h.dav.ServeHTTP(w, r)
}

func stripPrefix(p, prefix string) (string, bool) {
	if prefix == "" {
		return p, true
	}
	rest := strings.TrimPrefix(p, prefix)
	if len(rest) == len(p) {
		return p, false
	}
	if rest == "" {
		rest = "/"
	}
	return rest, true
}
