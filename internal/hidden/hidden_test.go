package hidden

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsHiddenFilePattern(t *testing.T) {
	patterns := Compile([]string{"*.tmp", ".git/"})

	require.True(t, IsHidden(patterns, "scratch.tmp", false))
	require.False(t, IsHidden(patterns, "scratch.tmp.bak", false))
}

func TestIsHiddenDirOnlySuffix(t *testing.T) {
	patterns := Compile([]string{".git/"})

	require.True(t, IsHidden(patterns, ".git", true))
	require.False(t, IsHidden(patterns, ".git", false), "dir-only pattern should not match a file")
}

func TestCompileSkipsInvalidPattern(t *testing.T) {
	patterns := Compile([]string{"[", "*.log"})
	require.Len(t, patterns, 1, "invalid pattern should be skipped")
}
