package webdavsurface

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localshare/localshare/internal/access"
)

func readOnlyTree() *access.Tree {
	tree := access.New()
	tree.SetPerm("", access.PermReadOnly)
	return tree
}

func readWriteTree() *access.Tree {
	tree := access.New()
	tree.SetPerm("", access.PermReadWrite)
	return tree
}

func TestStatHiddenByTreeLooksMissing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o644))

	tree := access.New() // no perms granted anywhere
	fs := &FileSystem{Root: root, Tree: tree, AllowUpload: true, AllowDelete: true}

	_, err := fs.Stat(context.Background(), "secret.txt")
	require.True(t, os.IsNotExist(err), "Stat on a guarded-out path should look like os.ErrNotExist, got %v", err)
}

func TestOpenFileRejectsWriteWhenUploadDisabled(t *testing.T) {
	root := t.TempDir()
	fs := &FileSystem{Root: root, Tree: readWriteTree(), AllowUpload: false}

	_, err := fs.OpenFile(context.Background(), "new.txt", os.O_WRONLY|os.O_CREATE, 0o644)
	require.True(t, os.IsPermission(err), "expected a permission error, got %v", err)
}

func TestOpenFileAllowsReadOnReadOnlyTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("hi"), 0o644))
	fs := &FileSystem{Root: root, Tree: readOnlyTree()}

	f, err := fs.OpenFile(context.Background(), "doc.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()
}

func TestMkdirRequiresUploadAndGuard(t *testing.T) {
	root := t.TempDir()
	fs := &FileSystem{Root: root, Tree: readOnlyTree(), AllowUpload: true}

	err := fs.Mkdir(context.Background(), "newdir", 0o755)
	require.True(t, os.IsPermission(err), "Mkdir on a read-only tree should be a permission error, got %v", err)

	fs.Tree = readWriteTree()
	require.NoError(t, fs.Mkdir(context.Background(), "newdir", 0o755))
	info, err := os.Stat(filepath.Join(root, "newdir"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRemoveAllRequiresDeletePermission(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("hi"), 0o644))
	fs := &FileSystem{Root: root, Tree: readWriteTree(), AllowDelete: false}

	err := fs.RemoveAll(context.Background(), "doc.txt")
	require.True(t, os.IsPermission(err), "expected a permission error, got %v", err)
}

func TestReaddirFiltersGuardedAndHiddenEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o644))

	tree := access.New()
	tree.SetPerm("visible.txt", access.PermReadOnly)
	fs := &FileSystem{Root: root, Tree: tree}

	f, err := fs.OpenFile(context.Background(), "", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	infos, err := f.(*file).Readdir(-1)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	require.Equal(t, []string{"visible.txt"}, names)
}

func TestCopyOfDirectoryIsForbidden(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	h := New("/", readWriteTree(), Deps{Root: root, AllowUpload: true, AllowDelete: true})

	req := httptest.NewRequest("COPY", "/dir", nil)
	req.Header.Set("Destination", "/dir2")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestFileInfoETagMatchesConditionalScheme(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("hi"), 0o644))
	info, err := os.Stat(filepath.Join(root, "doc.txt"))
	require.NoError(t, err)

	etag, err := fileInfo{info}.ETag(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, etag)
}
