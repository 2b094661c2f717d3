// Package listing implements directory enumeration and recursive
// substring search, filtered by the access tree and hide-patterns (C6).
package listing

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/localshare/localshare/internal/access"
	"github.com/localshare/localshare/internal/hidden"
)

// MaxSubpaths caps the advertised child count for directories.
const MaxSubpaths = 1000

// PathType enumerates the four entry kinds PathItem can describe.
type PathType int

const (
	TypeDir PathType = iota
	TypeSymlinkDir
	TypeFile
	TypeSymlinkFile
)

func (t PathType) String() string {
	switch t {
	case TypeDir:
		return "Dir"
	case TypeSymlinkDir:
		return "SymlinkDir"
	case TypeFile:
		return "File"
	case TypeSymlinkFile:
		return "SymlinkFile"
	default:
		return "File"
	}
}

// Item is one enumeration element (spec.md §3 PathItem).
type Item struct {
	PathType      PathType
	Name          string
	RelPath       string
	MtimeMS       int64
	SizeOrCount   int64
}

// IsDir reports whether the item denotes a directory or symlinked
// directory.
func (i Item) IsDir() bool {
	return i.PathType == TypeDir || i.PathType == TypeSymlinkDir
}

// Deps bundles the filters a listing/search operation needs.
type Deps struct {
	AllowSymlink bool
	Hidden       []hidden.Pattern
	// Running is polled by the search walk to stop promptly on
	// shutdown (spec.md §5).
	Running func() bool
}

func classify(info os.FileInfo, symInfo os.FileInfo) PathType {
	isSymlink := symInfo.Mode()&os.ModeSymlink != 0
	isDir := info.IsDir()
	switch {
	case isSymlink && isDir:
		return TypeSymlinkDir
	case !isSymlink && isDir:
		return TypeDir
	case isSymlink && !isDir:
		return TypeSymlinkFile
	default:
		return TypeFile
	}
}

// statItem builds an Item for one real directory entry, following a
// symlink's target metadata (when allowed) for size/dir classification.
func statItem(fsPath, relPath, name string, d Deps, rootContainedCheck func(fsPath string) bool) (Item, bool, error) {
	symInfo, err := os.Lstat(fsPath)
	if err != nil {
		return Item{}, false, err
	}
	isSymlink := symInfo.Mode()&os.ModeSymlink != 0
	if isSymlink && !d.AllowSymlink {
		if rootContainedCheck == nil || !rootContainedCheck(fsPath) {
			return Item{}, false, nil
		}
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		return Item{}, false, nil
	}
	pt := classify(info, symInfo)
	if hidden.IsHidden(d.Hidden, name, info.IsDir()) {
		return Item{}, false, nil
	}
	item := Item{
		PathType: pt,
		Name:     name,
		RelPath:  relPath,
		MtimeMS:  info.ModTime().UnixMilli(),
	}
	if item.IsDir() {
		count := countChildren(fsPath)
		item.SizeOrCount = count
	} else {
		item.SizeOrCount = info.Size()
	}
	return item, true, nil
}

func countChildren(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := int64(len(entries))
	if n > MaxSubpaths {
		return MaxSubpaths
	}
	return n
}

// Enumerate lists the immediate children of fsPath/relPath, honoring
// the effective access sub-tree: if the node at relPath is IndexOnly,
// only the declared child names are listed (not the real directory).
func Enumerate(fsPath, relPath string, tree *access.Tree, d Deps, rootContainedCheck func(string) bool) ([]Item, error) {
	found := tree.Find(relPath)
	if found.Perm == access.PermIndexOnly {
		names := tree.ChildNames(relPath)
		items := make([]Item, 0, len(names))
		for _, name := range names {
			childFS := filepath.Join(fsPath, name)
			childRel := joinRel(relPath, name)
			item, ok, err := statItem(childFS, childRel, name, d, rootContainedCheck)
			if err != nil || !ok {
				continue
			}
			items = append(items, item)
		}
		return items, nil
	}

	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		childRel := joinRel(relPath, name)
		childFound := tree.Find(childRel)
		if childFound.Perm == access.PermNone {
			continue
		}
		childFS := filepath.Join(fsPath, name)
		item, ok, err := statItem(childFS, childRel, name, d, rootContainedCheck)
		if err != nil || !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func joinRel(relPath, name string) string {
	if relPath == "" {
		return name
	}
	return relPath + "/" + name
}

// Sort orders a listing by sortBy: "name" (default,
// case-insensitive), "mtime", or "size", always grouping directories
// before files.
func Sort(items []Item, sortBy, order string) {
	desc := order == "desc"
	less := func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		var lt bool
		switch sortBy {
		case "mtime":
			lt = a.MtimeMS < b.MtimeMS
		case "size":
			lt = a.SizeOrCount < b.SizeOrCount
		default:
			lt = strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		if desc {
			return !lt && a.Name != b.Name
		}
		return lt
	}
	sort.SliceStable(items, less)
}

// Search recursively walks every access "entry path" under root,
// collecting basenames that case-insensitively contain substr.
func Search(ctx context.Context, root string, entryPaths []string, substr string, d Deps, rootContainedCheck func(string) bool) ([]Item, error) {
	var out []Item
	lower := strings.ToLower(substr)

	for _, entry := range entryPaths {
		fsEntry := filepath.Join(root, filepath.FromSlash(entry))
		err := walkDir(ctx, fsEntry, entry, d, rootContainedCheck, func(item Item) {
			if lower == "" || strings.Contains(strings.ToLower(item.Name), lower) {
				out = append(out, item)
			}
		})
		if err != nil {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		if d.Running != nil && !d.Running() {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

func walkDir(ctx context.Context, fsPath, relPath string, d Deps, rootContainedCheck func(string) bool, visit func(Item)) error {
	if d.Running != nil && !d.Running() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		name := e.Name()
		childFS := filepath.Join(fsPath, name)
		childRel := joinRel(relPath, name)
		item, ok, err := statItem(childFS, childRel, name, d, rootContainedCheck)
		if err != nil || !ok {
			continue
		}
		visit(item)
		if item.IsDir() {
			if err := walkDir(ctx, childFS, childRel, d, rootContainedCheck, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
