package pathresolve

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveBasic(t *testing.T) {
	res, err := Resolve("/a/b%20c", "", "/srv")
	require.NoError(t, err)
	require.Equal(t, "a/b c", res.RelPath)
	require.Equal(t, "/srv/a/b c", res.FSPath)
}

func TestResolveRejectsTraversal(t *testing.T) {
	for _, p := range []string{"/../etc/passwd", "/a/../b", "/a/..", "/."} {
		_, err := Resolve(p, "", "/srv")
		require.Errorf(t, err, "Resolve(%q) should fail", p)
	}
}

func TestResolveWithPrefix(t *testing.T) {
	res, err := Resolve("/p/a/b", "p", "/srv")
	require.NoError(t, err)
	require.Equal(t, "a/b", res.RelPath)

	_, err = Resolve("/other/a", "p", "/srv")
	require.Error(t, err, "non-matching prefix should fail")

	res, err = Resolve("/p", "p", "/srv")
	require.NoError(t, err)
	require.Empty(t, res.RelPath, "prefix root should resolve to the empty relative path")
}

func TestResolveSingleFile(t *testing.T) {
	matchesRoot, matchesFile, ok := ResolveSingleFile("/", "", "report.txt")
	require.True(t, ok)
	require.True(t, matchesRoot)
	require.False(t, matchesFile)

	matchesRoot, matchesFile, ok = ResolveSingleFile("/report.txt", "", "report.txt")
	require.True(t, ok)
	require.False(t, matchesRoot)
	require.True(t, matchesFile)

	_, _, ok = ResolveSingleFile("/other.txt", "", "report.txt")
	require.False(t, ok, "mismatched basename should not resolve")
}
