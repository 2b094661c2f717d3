package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutCreatesFileAndParents(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "file.txt")

	require.NoError(t, Put(target, strings.NewReader("payload"), true, true, false))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestPutRejectedWhenUploadDisabled(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "file.txt")

	err := Put(target, strings.NewReader("x"), false, true, false)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPutRejectsOverwriteWithoutDelete(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(target, []byte("existing"), 0o644))

	err := Put(target, strings.NewReader("new"), true, false, false)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPutRejectsDirectoryTarget(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	err := Put(filepath.Join(root, "dir"), strings.NewReader("x"), true, true, false)
	require.ErrorIs(t, err, ErrIsDirectory)
}

func TestParseUpdateRangeAppend(t *testing.T) {
	ur, err := ParseUpdateRange("append")
	require.NoError(t, err)
	require.True(t, ur.Append)
}

func TestParseUpdateRangeOffset(t *testing.T) {
	ur, err := ParseUpdateRange("bytes=42-")
	require.NoError(t, err)
	require.False(t, ur.Append)
	require.EqualValues(t, 42, ur.Offset)
}

func TestParseUpdateRangeRejectsMalformed(t *testing.T) {
	_, err := ParseUpdateRange("bytes=abc-")
	require.ErrorIs(t, err, ErrBadRangeHeader)

	_, err = ParseUpdateRange("garbage")
	require.ErrorIs(t, err, ErrBadRangeHeader)
}

func TestPatchAppend(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello "), 0o644))

	require.NoError(t, Patch(target, strings.NewReader("world"), UpdateRange{Append: true}, true))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestPatchOffsetOverwriteRequiresDelete(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(target, []byte("0123456789"), 0o644))

	err := Patch(target, strings.NewReader("XX"), UpdateRange{Offset: 2}, false)
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, Patch(target, strings.NewReader("XX"), UpdateRange{Offset: 2}, true))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "01XX456789", string(data))
}

func TestPatchMissingTarget(t *testing.T) {
	root := t.TempDir()
	err := Patch(filepath.Join(root, "missing.txt"), strings.NewReader("x"), UpdateRange{Append: true}, true)
	require.ErrorIs(t, err, ErrNotFound)
}
